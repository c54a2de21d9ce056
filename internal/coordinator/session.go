package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

var (
	// ErrNoProviders is returned when a turn has no provider to invoke.
	ErrNoProviders = errors.New("no providers for turn")
	// ErrDuplicateProvider is returned when a provider appears twice in a turn.
	ErrDuplicateProvider = errors.New("duplicate provider in turn")
	// ErrAlreadyDispatched is returned when a session is dispatched twice.
	ErrAlreadyDispatched = errors.New("session already dispatched")
)

// Request is one provider's share of a turn: the resolved provider and the
// conversation view it is allowed to see.
type Request struct {
	Provider     domain.Provider
	Message      string
	History      []domain.Message
	SystemPrefix string
}

// slot holds one provider's write-once result. Its mutex also orders the
// listener notifications for that provider, so no delta is reported after
// the terminal result.
type slot struct {
	mu      sync.Mutex
	done    bool
	result  domain.ReplyResult
	retries atomic.Int32
}

// Session is the aggregate state of one user turn. Result slots are
// created up front, one per provider, so concurrent workers only ever
// touch their own slot plus the shared completed counter.
type Session struct {
	ID       string
	GroupID  string
	Message  string
	Requests []Request
	Created  time.Time

	slots      map[string]*slot
	completed  atomic.Int64
	notified   atomic.Int64
	settled    chan struct{}
	abort      chan struct{}
	abortOnce  sync.Once
	dispatched atomic.Bool
}

// NewSession validates the provider set and prepares one slot per provider.
func NewSession(id, groupID, message string, reqs []Request) (*Session, error) {
	if len(reqs) == 0 {
		return nil, ErrNoProviders
	}
	slots := make(map[string]*slot, len(reqs))
	for _, r := range reqs {
		if _, dup := slots[r.Provider.ID]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateProvider, r.Provider.ID)
		}
		slots[r.Provider.ID] = &slot{}
	}
	return &Session{
		ID:       id,
		GroupID:  groupID,
		Message:  message,
		Requests: reqs,
		Created:  time.Now(),
		slots:    slots,
		settled:  make(chan struct{}),
		abort:    make(chan struct{}),
	}, nil
}

// Size is the number of providers in the turn.
func (s *Session) Size() int { return len(s.Requests) }

// Completed is the number of providers with a terminal result.
func (s *Session) Completed() int { return int(s.completed.Load()) }

// Settled is closed once every provider has a terminal result.
func (s *Session) Settled() <-chan struct{} { return s.settled }

// Abort asks the dispatcher to resolve every pending provider as
// cancelled. It is safe to call more than once.
func (s *Session) Abort() {
	s.abortOnce.Do(func() { close(s.abort) })
}

// Resolved reports whether providerID already has a terminal result.
func (s *Session) Resolved(providerID string) bool {
	sl, ok := s.slots[providerID]
	if !ok {
		return false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.done
}

// Result returns the terminal result of providerID, if any.
func (s *Session) Result(providerID string) (domain.ReplyResult, bool) {
	sl, ok := s.slots[providerID]
	if !ok {
		return domain.ReplyResult{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.result, sl.done
}

// Results returns a copy of every terminal result written so far.
func (s *Session) Results() map[string]domain.ReplyResult {
	out := make(map[string]domain.ReplyResult, len(s.slots))
	for id, sl := range s.slots {
		sl.mu.Lock()
		if sl.done {
			out[id] = sl.result
		}
		sl.mu.Unlock()
	}
	return out
}

// Pending returns the providers still without a terminal result, in
// request order.
func (s *Session) Pending() []domain.Provider {
	var out []domain.Provider
	for _, r := range s.Requests {
		if !s.Resolved(r.Provider.ID) {
			out = append(out, r.Provider)
		}
	}
	return out
}

// emit runs fn under the provider's slot lock unless the slot is already
// resolved. It reports whether fn ran.
func (s *Session) emit(providerID string, fn func()) bool {
	sl := s.slots[providerID]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.done {
		return false
	}
	fn()
	return true
}

// resolve writes r into its slot once and hands notify the completed count
// including r. notify runs under the slot lock, and Settled closes only
// after every notify has returned.
func (s *Session) resolve(r domain.ReplyResult, notify func(r domain.ReplyResult, completed int)) bool {
	sl, ok := s.slots[r.ProviderID]
	if !ok {
		return false
	}
	sl.mu.Lock()
	if sl.done {
		sl.mu.Unlock()
		return false
	}
	sl.done = true
	sl.result = r
	n := s.completed.Add(1)
	if notify != nil {
		notify(r, int(n))
	}
	sl.mu.Unlock()

	if s.notified.Add(1) == int64(len(s.slots)) {
		close(s.settled)
	}
	return true
}

func (s *Session) setRetries(providerID string, n int) {
	if sl, ok := s.slots[providerID]; ok {
		sl.retries.Store(int32(n))
	}
}

func (s *Session) retries(providerID string) int {
	if sl, ok := s.slots[providerID]; ok {
		return int(sl.retries.Load())
	}
	return 0
}
