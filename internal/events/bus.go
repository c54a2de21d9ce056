// Package events is the dispatch boundary between reply workers and the
// observers of a group (SSE clients, tests, the CLI). Workers publish onto
// a buffered channel; a single dispatcher goroutine drains it and invokes
// observers in publish order, so observers never run on worker goroutines
// and never run concurrently with each other.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// Type names an event.
type Type string

const (
	ReplyStarted    Type = "reply.started"
	ReplyProgress   Type = "reply.progress"
	ReplyRetrying   Type = "reply.retrying"
	ReplyTerminal   Type = "reply.terminal"
	RepliesSettled  Type = "replies.settled"
	GroupCreated    Type = "group.created"
	GroupUpdated    Type = "group.updated"
	GroupDeleted    Type = "group.deleted"
	MemberAdded     Type = "member.added"
	MemberRemoved   Type = "member.removed"
	MessageAppended Type = "message.appended"
	MessageUpdated  Type = "message.updated"
)

// Event is one notification. Only the fields relevant to Type are set.
type Event struct {
	Type       Type                          `json:"type"`
	GroupID    string                        `json:"group_id"`
	SessionID  string                        `json:"session_id,omitempty"`
	ProviderID string                        `json:"provider_id,omitempty"`
	Delta      string                        `json:"delta,omitempty"`
	Attempt    int                           `json:"attempt,omitempty"`
	Completed  int                           `json:"completed,omitempty"`
	Total      int                           `json:"total,omitempty"`
	Result     *domain.ReplyResult           `json:"result,omitempty"`
	Results    map[string]domain.ReplyResult `json:"results,omitempty"`
	Entry      *domain.TranscriptEntry       `json:"entry,omitempty"`
	Member     *domain.GroupMember           `json:"member,omitempty"`
	Group      *domain.GroupChat             `json:"group,omitempty"`
	At         time.Time                     `json:"at"`

	barrier chan struct{}
}

// Observer receives events on the dispatcher goroutine. Handle must not
// block for long; slow consumers should buffer on their side.
type Observer interface {
	Handle(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Handle(e Event) { f(e) }

type subscription struct {
	groupID string
	obs     Observer
}

// Bus fans events out to observers.
type Bus struct {
	ch   chan Event
	quit chan struct{}

	mu   sync.RWMutex
	subs map[uint64]subscription
	next uint64

	startOnce sync.Once
	closeOnce sync.Once
	stopped   chan struct{}
}

// NewBus returns a bus whose queue holds buffer events.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		ch:      make(chan Event, buffer),
		quit:    make(chan struct{}),
		subs:    make(map[uint64]subscription),
		stopped: make(chan struct{}),
	}
}

// Subscribe registers o for every event and returns its cancel function.
func (b *Bus) Subscribe(o Observer) func() {
	return b.SubscribeGroup("", o)
}

// SubscribeGroup registers o for events of one group; an empty groupID
// matches every group.
func (b *Bus) SubscribeGroup(groupID string, o Observer) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = subscription{groupID: groupID, obs: o}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish queues e. It blocks while the queue is full and drops e once the
// bus is closed.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	select {
	case <-b.quit:
		return
	default:
	}
	select {
	case b.ch <- e:
	case <-b.quit:
	}
}

// Start runs the dispatcher in its own goroutine; later calls are no-ops.
func (b *Bus) Start(ctx context.Context) {
	b.startOnce.Do(func() { go b.run(ctx) })
}

// Flush waits until every event published before the call was dispatched.
func (b *Bus) Flush(ctx context.Context) error {
	bar := make(chan struct{})
	select {
	case b.ch <- Event{barrier: bar}:
	case <-b.quit:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-bar:
		return nil
	case <-b.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatcher after draining queued events.
func (b *Bus) Close() {
	b.closeOnce.Do(func() { close(b.quit) })
	b.startOnce.Do(func() { close(b.stopped) })
	<-b.stopped
}

func (b *Bus) run(ctx context.Context) {
	defer close(b.stopped)
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-b.quit:
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bus) dispatch(e Event) {
	if e.barrier != nil {
		close(e.barrier)
		return
	}
	b.mu.RLock()
	targets := make([]Observer, 0, len(b.subs))
	for _, s := range b.subs {
		if s.groupID == "" || s.groupID == e.GroupID {
			targets = append(targets, s.obs)
		}
	}
	b.mu.RUnlock()

	for _, o := range targets {
		deliver(o, e)
	}
}

func deliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", string(e.Type)).Msg("observer panicked")
		}
	}()
	o.Handle(e)
}
