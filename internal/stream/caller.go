// Package stream executes one provider call over HTTP. A Caller sends the
// RequestSpec built by a providers.Adapter, reads a 2xx body either line by
// line (streaming) or whole (single-shot), and reports deltas as they are
// parsed. Exactly one terminal outcome is produced per call: the returned
// full text, or a classified error. Retries are not performed here.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-groupchat-backend/internal/providers"
)

const (
	defaultMaxErrorBody = 64 << 10
	defaultMaxBody      = 8 << 20
)

// Caller owns the HTTP client used for provider calls.
type Caller struct {
	Client       *http.Client
	MaxErrorBody int64 // bytes of a non-2xx body kept for the error detail
	MaxBody      int64 // bytes of a single-shot body, or of one stream line, accepted
}

// NewCaller returns a Caller using client, or a default streaming client.
func NewCaller(client *http.Client) *Caller {
	if client == nil {
		client = NewHTTPClient(10 * time.Second)
	}
	return &Caller{Client: client}
}

// NewHTTPClient builds a client for long-lived streaming responses: the
// connection phase is bounded by connectTimeout, the body read is bounded
// only by the request context.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = connectTimeout
	tr.MaxIdleConnsPerHost = 16
	return &http.Client{Transport: tr}
}

// Callbacks is the callback form of a call. OnDelta may fire any number of
// times; exactly one of OnComplete and OnError fires afterwards.
type Callbacks struct {
	OnDelta    func(text string)
	OnComplete func(fullText string)
	OnError    func(err error)
}

// Execute performs the call and blocks until it ends. onDelta, when set,
// receives each delta in network order on the calling goroutine; on success
// the deltas concatenate to the returned text.
func (c *Caller) Execute(ctx context.Context, a providers.Adapter, rs *providers.RequestSpec, onDelta func(string)) (string, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}
	return c.run(ctx, a, rs, onDelta)
}

// ExecuteCallbacks is Execute reporting its outcome through cb.
func (c *Caller) ExecuteCallbacks(ctx context.Context, a providers.Adapter, rs *providers.RequestSpec, cb Callbacks) {
	text, err := c.Execute(ctx, a, rs, cb.OnDelta)
	if err != nil {
		if cb.OnError != nil {
			cb.OnError(err)
		}
		return
	}
	if cb.OnComplete != nil {
		cb.OnComplete(text)
	}
}

// Call is a handle on a call running in its own goroutine.
type Call struct {
	done   chan struct{}
	cancel context.CancelFunc
	text   string
	err    error
}

// Start runs the call asynchronously and returns its handle.
func (c *Caller) Start(ctx context.Context, a providers.Adapter, rs *providers.RequestSpec, onDelta func(string)) *Call {
	ctx, cancel := context.WithCancel(ctx)
	call := &Call{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(call.done)
		defer cancel()
		call.text, call.err = c.Execute(ctx, a, rs, onDelta)
	}()
	return call
}

// Done is closed once the call has a terminal outcome.
func (c *Call) Done() <-chan struct{} { return c.done }

// Cancel aborts the call; it then ends with ErrCancelled unless it had
// already finished.
func (c *Call) Cancel() { c.cancel() }

// Result blocks until the call ends and returns its outcome.
func (c *Call) Result() (string, error) {
	<-c.done
	return c.text, c.err
}

// Wait is Result bounded by ctx. When ctx ends first the call is cancelled
// and its (cancelled) outcome returned.
func (c *Call) Wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		c.cancel()
		<-c.done
	}
	return c.text, c.err
}

func (c *Caller) run(ctx context.Context, a providers.Adapter, rs *providers.RequestSpec, onDelta func(string)) (string, error) {
	req, err := http.NewRequestWithContext(ctx, rs.Method, rs.URL, bytes.NewReader(rs.Body))
	if err != nil {
		return "", &providers.CallError{Kind: providers.ErrMalformedRequest, Detail: err.Error()}
	}
	if rs.Header != nil {
		req.Header = rs.Header.Clone()
	}

	resp, err := c.client().Do(req)
	if err != nil {
		return "", transportErr(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxErrorBody()))
		return "", providers.ClassifyStatus(resp.StatusCode, body)
	}

	if !rs.Stream || isJSON(resp.Header.Get("Content-Type")) {
		return c.readWhole(ctx, a, resp.Body, onDelta)
	}
	return c.readLines(ctx, a, resp.Body, onDelta)
}

func (c *Caller) readWhole(ctx context.Context, a providers.Adapter, body io.Reader, onDelta func(string)) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(body, c.maxBody()))
	if err != nil {
		return "", transportErr(ctx, err)
	}
	text, err := a.ParseBody(raw)
	if err != nil {
		if !errors.Is(err, providers.ErrMalformedResponse) {
			err = &providers.CallError{Kind: providers.ErrMalformedResponse, Detail: err.Error()}
		}
		return "", err
	}
	if text == "" {
		return "", &providers.CallError{Kind: providers.ErrMalformedResponse, Detail: "empty response"}
	}
	onDelta(text)
	return text, nil
}

func (c *Caller) readLines(ctx context.Context, a providers.Adapter, body io.Reader, onDelta func(string)) (string, error) {
	limit := int(c.maxBody())
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, min(32<<10, limit)), limit)
	var full strings.Builder
	for sc.Scan() {
		ev := a.ParseStreamLine(sc.Text())
		switch ev.Kind {
		case providers.EventDelta:
			full.WriteString(ev.Text)
			onDelta(ev.Text)
		case providers.EventDone:
			return finish(&full)
		}
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return "", &providers.CallError{Kind: providers.ErrMalformedResponse,
				Detail: fmt.Sprintf("stream line exceeds %d bytes", limit)}
		}
		return "", transportErr(ctx, err)
	}
	return finish(&full)
}

func finish(full *strings.Builder) (string, error) {
	if full.Len() == 0 {
		return "", &providers.CallError{Kind: providers.ErrMalformedResponse, Detail: "stream ended without content"}
	}
	return full.String(), nil
}

func transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return providers.FromContext(ctxErr)
	}
	return &providers.CallError{Kind: providers.ErrTransport, Detail: err.Error()}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func (c *Caller) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *Caller) maxErrorBody() int64 {
	if c.MaxErrorBody > 0 {
		return c.MaxErrorBody
	}
	return defaultMaxErrorBody
}

func (c *Caller) maxBody() int64 {
	if c.MaxBody > 0 {
		return c.MaxBody
	}
	return defaultMaxBody
}
