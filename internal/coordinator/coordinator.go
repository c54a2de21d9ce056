// Package coordinator turns one user turn into one terminal ReplyResult
// per provider. Providers run either simultaneously, bounded by a weighted
// semaphore, or sequentially with a delay between calls. Each provider is
// retried with linear backoff, and a session-wide timer resolves whatever
// is still pending as a timeout. Result slots are write-once, so a worker
// finishing after its slot was resolved is ignored.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/providers"
)

// Invoker performs one attempt against one provider.
type Invoker interface {
	Invoke(ctx context.Context, req Request, onDelta func(string)) (string, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request, onDelta func(string)) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	return f(ctx, req, onDelta)
}

// Listener receives progress for a session. Calls for one provider are
// serialized and ordered: started, deltas and retries, then exactly one
// terminal. Calls for different providers may run concurrently.
// ReplyTerminal receives the number of terminal results including its
// own, so each terminal of a session sees a distinct count from 1 to Size.
// AllSettled is called once per dispatch, after every terminal.
type Listener interface {
	ReplyStarted(s *Session, providerID string)
	ReplyDelta(s *Session, providerID, text string)
	ReplyRetrying(s *Session, providerID string, attempt int, cause error)
	ReplyTerminal(s *Session, r domain.ReplyResult, completed int)
	AllSettled(s *Session, results map[string]domain.ReplyResult)
}

// NopListener ignores every notification. Embed it to implement a subset.
type NopListener struct{}

func (NopListener) ReplyStarted(*Session, string)                       {}
func (NopListener) ReplyDelta(*Session, string, string)                 {}
func (NopListener) ReplyRetrying(*Session, string, int, error)          {}
func (NopListener) ReplyTerminal(*Session, domain.ReplyResult, int)     {}
func (NopListener) AllSettled(*Session, map[string]domain.ReplyResult) {}

// Options controls one dispatch.
type Options struct {
	Mode           domain.ReplyMode
	MaxConcurrent  int           // simultaneous mode slot count; <= 0 means one per provider
	InterCallDelay time.Duration // sequential mode pause between providers
	MaxRetries     int           // additional attempts after the first
	RetryBaseDelay time.Duration // attempt n waits n*RetryBaseDelay
	PerCallTimeout time.Duration // session-wide (simultaneous) or per provider (sequential); 0 disables
	LateGrace      time.Duration // how long timed-out workers may keep running; 0 means PerCallTimeout

	// ShouldRetry decides whether a failed attempt is retried. Nil retries
	// every failure except unsupported providers and cancellation.
	ShouldRetry func(error) bool
}

func (o Options) retryable(err error) bool {
	if errors.Is(err, providers.ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	if o.ShouldRetry != nil {
		return o.ShouldRetry(err)
	}
	return !errors.Is(err, providers.ErrUnsupportedProvider)
}

// SkipAuthRetry is a ShouldRetry policy treating 401/403 as permanent.
func SkipAuthRetry(err error) bool {
	return !errors.Is(err, providers.ErrAuth) && !errors.Is(err, providers.ErrUnsupportedProvider)
}

// Coordinator dispatches sessions. It holds no per-session state and is
// safe for concurrent use.
type Coordinator struct {
	invoker Invoker
	log     zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a Coordinator invoking providers through inv.
func New(inv Invoker) *Coordinator {
	return &Coordinator{
		invoker: inv,
		log:     log.With().Str("component", "coordinator").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Dispatch runs every provider of s and blocks until each has a terminal
// result, the timeout fires, s is aborted, or ctx ends. It returns the full
// result map, which always has one entry per provider.
func (c *Coordinator) Dispatch(ctx context.Context, s *Session, opts Options, l Listener) (map[string]domain.ReplyResult, error) {
	if !s.dispatched.CompareAndSwap(false, true) {
		return nil, ErrAlreadyDispatched
	}
	if l == nil {
		l = NopListener{}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Mode != domain.ModeSequential {
		opts.Mode = domain.ModeSimultaneous
	}

	ctx, span := otel.Tracer("coordinator").Start(ctx, "coordinator.Dispatch",
		trace.WithAttributes(
			attribute.String("session.id", s.ID),
			attribute.String("group.id", s.GroupID),
			attribute.String("reply.mode", string(opts.Mode)),
			attribute.Int("providers", s.Size()),
		))
	defer span.End()
	sessionsTotal.WithLabelValues(string(opts.Mode)).Inc()

	workCtx, cancelWork := context.WithCancel(ctx)

	var lingering bool
	if opts.Mode == domain.ModeSequential {
		lingering = c.sequential(workCtx, s, opts, l, cancelWork)
	} else {
		lingering = c.simultaneous(workCtx, s, opts, l, cancelWork)
	}

	results := s.Results()
	l.AllSettled(s, results)

	if lingering {
		grace := opts.LateGrace
		if grace <= 0 {
			grace = opts.PerCallTimeout
		}
		time.AfterFunc(grace, cancelWork)
	} else {
		cancelWork()
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	span.SetAttributes(attribute.Int("replies.succeeded", ok))
	c.log.Debug().Str("session_id", s.ID).Str("group_id", s.GroupID).
		Int("providers", s.Size()).Int("succeeded", ok).
		Dur("elapsed", c.now().Sub(s.Created)).Msg("session settled")
	return results, nil
}

func (c *Coordinator) simultaneous(ctx context.Context, s *Session, opts Options, l Listener, cancelWork context.CancelFunc) bool {
	k := opts.MaxConcurrent
	if k <= 0 || k > s.Size() {
		k = s.Size()
	}
	sem := semaphore.NewWeighted(int64(k))

	for _, req := range s.Requests {
		go func(req Request) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			if s.Resolved(req.Provider.ID) {
				return
			}
			c.runProvider(ctx, s, req, opts, l)
		}(req)
	}

	var timeout <-chan time.Time
	if opts.PerCallTimeout > 0 {
		t := time.NewTimer(opts.PerCallTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-s.Settled():
		return false
	case <-timeout:
		return c.expire(s, l, providers.ErrTimeout) > 0
	case <-s.abort:
		cancelWork()
		c.expire(s, l, providers.ErrCancelled)
		return false
	case <-ctx.Done():
		c.expire(s, l, ctxKind(ctx.Err()))
		return false
	}
}

func (c *Coordinator) sequential(ctx context.Context, s *Session, opts Options, l Listener, cancelWork context.CancelFunc) bool {
	lingering := false
	for i, req := range s.Requests {
		if i > 0 && opts.InterCallDelay > 0 {
			select {
			case <-time.After(opts.InterCallDelay):
			case <-s.abort:
			case <-ctx.Done():
			}
		}
		select {
		case <-s.abort:
			cancelWork()
			c.expire(s, l, providers.ErrCancelled)
			return false
		case <-ctx.Done():
			c.expire(s, l, ctxKind(ctx.Err()))
			return false
		default:
		}

		finished := make(chan struct{})
		go func(req Request) {
			defer close(finished)
			c.runProvider(ctx, s, req, opts, l)
		}(req)

		var timeout <-chan time.Time
		var t *time.Timer
		if opts.PerCallTimeout > 0 {
			t = time.NewTimer(opts.PerCallTimeout)
			timeout = t.C
		}
		select {
		case <-finished:
		case <-timeout:
			if c.expireOne(s, l, req.Provider, providers.ErrTimeout) {
				lingering = true
			}
		case <-s.abort:
			cancelWork()
			c.expire(s, l, providers.ErrCancelled)
		case <-ctx.Done():
			c.expire(s, l, ctxKind(ctx.Err()))
		}
		if t != nil {
			t.Stop()
		}
	}
	return lingering
}

// runProvider performs the attempts for one provider and writes its result.
func (c *Coordinator) runProvider(ctx context.Context, s *Session, req Request, opts Options, l Listener) {
	p := req.Provider
	ctx, span := otel.Tracer("coordinator").Start(ctx, "coordinator.reply",
		trace.WithAttributes(
			attribute.String("provider.id", p.ID),
			attribute.String("provider.family", p.Family),
			attribute.String("session.id", s.ID),
		))
	defer span.End()

	start := c.now()
	s.emit(p.ID, func() { l.ReplyStarted(s, p.ID) })

	var lastErr error
	retries := 0
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if s.Resolved(p.ID) {
				return
			}
			cause := lastErr
			s.emit(p.ID, func() { l.ReplyRetrying(s, p.ID, attempt, cause) })
			retriesTotal.WithLabelValues(p.ID).Inc()
			if err := c.sleep(ctx, time.Duration(attempt)*opts.RetryBaseDelay); err != nil {
				lastErr = providers.FromContext(err)
				break
			}
			retries = attempt
			s.setRetries(p.ID, retries)
		}

		text, err := c.attempt(ctx, s, req, l)
		if err == nil {
			c.finish(s, l, domain.ReplyResult{
				ProviderID:   p.ID,
				ProviderName: p.DisplayName(),
				Success:      true,
				Text:         text,
				Elapsed:      c.now().Sub(start),
				Retries:      retries,
			})
			return
		}
		lastErr = err
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error.kind", providers.Tag(err)),
		))
		if !opts.retryable(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, providers.Tag(lastErr))
	c.finish(s, l, domain.ReplyResult{
		ProviderID:   p.ID,
		ProviderName: p.DisplayName(),
		Error:        lastErr.Error(),
		ErrorKind:    providers.Tag(lastErr),
		Elapsed:      c.now().Sub(start),
		Retries:      retries,
	})
}

func (c *Coordinator) attempt(ctx context.Context, s *Session, req Request, l Listener) (string, error) {
	id := req.Provider.ID
	inflight.Inc()
	begin := c.now()
	text, err := c.invoker.Invoke(ctx, req, func(d string) {
		s.emit(id, func() { l.ReplyDelta(s, id, d) })
	})
	inflight.Dec()
	callDuration.WithLabelValues(id).Observe(c.now().Sub(begin).Seconds())
	outcome := "success"
	if err != nil {
		outcome = providers.Tag(err)
	}
	callsTotal.WithLabelValues(id, outcome).Inc()
	return text, err
}

func (c *Coordinator) finish(s *Session, l Listener, r domain.ReplyResult) {
	written := s.resolve(r, func(r domain.ReplyResult, n int) { l.ReplyTerminal(s, r, n) })
	if !written {
		c.log.Debug().Str("session_id", s.ID).Str("provider", r.ProviderID).
			Bool("success", r.Success).Msg("late result discarded")
		return
	}
	resultsTotal.WithLabelValues(r.ProviderID, string(r.Status())).Inc()
	ev := c.log.Info()
	if !r.Success {
		ev = c.log.Warn().Str("error_kind", r.ErrorKind).Str("error", r.Error)
	}
	ev.Str("session_id", s.ID).Str("provider", r.ProviderID).
		Int("retries", r.Retries).Dur("elapsed", r.Elapsed).Msg("provider reply settled")
}

// expire resolves every pending provider with kind and returns how many
// it resolved.
func (c *Coordinator) expire(s *Session, l Listener, kind error) int {
	n := 0
	for _, p := range s.Pending() {
		if c.expireOne(s, l, p, kind) {
			n++
		}
	}
	return n
}

func (c *Coordinator) expireOne(s *Session, l Listener, p domain.Provider, kind error) bool {
	tag := providers.Tag(kind)
	r := domain.ReplyResult{
		ProviderID:   p.ID,
		ProviderName: p.DisplayName(),
		Error:        tag,
		ErrorKind:    tag,
		Elapsed:      c.now().Sub(s.Created),
		Retries:      s.retries(p.ID),
	}
	if !s.resolve(r, func(r domain.ReplyResult, n int) { l.ReplyTerminal(s, r, n) }) {
		return false
	}
	resultsTotal.WithLabelValues(p.ID, string(domain.StatusError)).Inc()
	c.log.Warn().Str("session_id", s.ID).Str("provider", p.ID).Str("error_kind", tag).Msg("provider reply expired")
	return true
}

func ctxKind(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.ErrTimeout
	}
	return providers.ErrCancelled
}
