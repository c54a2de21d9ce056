package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/providers"
)

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl, _ := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n", l)
			if fl != nil {
				fl.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func buildSpec(t *testing.T, a providers.Adapter, url string) *providers.RequestSpec {
	t.Helper()
	rs, err := a.BuildRequest(domain.Provider{ID: "p", APIURL: url, APIKey: "k", Model: "m"}, "ping", nil, "")
	require.NoError(t, err)
	return rs
}

func openAIDelta(s string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`, s)
}

func TestExecute_StreamDeltasConcatenateToFullText(t *testing.T) {
	srv := sseServer(t,
		": comment",
		openAIDelta("po"),
		"",
		"data: {broken",
		openAIDelta("n"),
		openAIDelta("g"),
		"data: [DONE]",
		openAIDelta("ignored after done"),
	)
	a := providers.OpenAI{}

	var deltas []string
	text, err := NewCaller(srv.Client()).Execute(context.Background(), a, buildSpec(t, a, srv.URL), func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	assert.Equal(t, []string{"po", "n", "g"}, deltas)
	assert.Equal(t, text, strings.Join(deltas, ""))
}

func TestExecute_StreamEndsOnEOFWithoutSentinel(t *testing.T) {
	srv := sseServer(t, `data: {"result":"你"}`, `data: {"result":"好"}`)
	a := providers.Wenxin{}
	text, err := NewCaller(srv.Client()).Execute(context.Background(), a, buildSpec(t, a, srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "你好", text)
}

func TestExecute_EmptyStreamIsMalformed(t *testing.T) {
	srv := sseServer(t, "data: [DONE]")
	a := providers.OpenAI{}
	_, err := NewCaller(srv.Client()).Execute(context.Background(), a, buildSpec(t, a, srv.URL), nil)
	assert.ErrorIs(t, err, providers.ErrMalformedResponse)
}

func TestExecute_SingleShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"pong"}]}}]}`))
	}))
	defer srv.Close()

	a := providers.Gemini{}
	var deltas []string
	text, err := NewCaller(srv.Client()).Execute(context.Background(), a, buildSpec(t, a, srv.URL), func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	assert.Equal(t, []string{"pong"}, deltas)
}

func TestExecute_StreamLineLongerThanMaxBody(t *testing.T) {
	srv := sseServer(t,
		openAIDelta("short "),
		openAIDelta(strings.Repeat("x", 4096)),
		"data: [DONE]",
	)
	a := providers.OpenAI{}
	c := NewCaller(srv.Client())
	c.MaxBody = 1024

	var deltas []string
	_, err := c.Execute(context.Background(), a, buildSpec(t, a, srv.URL), func(d string) {
		deltas = append(deltas, d)
	})
	require.ErrorIs(t, err, providers.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "1024 bytes")

	c.MaxBody = 8192
	text, err := c.Execute(context.Background(), a, buildSpec(t, a, srv.URL), nil)
	require.NoError(t, err)
	assert.Equal(t, "short "+strings.Repeat("x", 4096), text)
}

func TestExecute_SingleShotMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()
	a := providers.Qianwen{}
	_, err := NewCaller(srv.Client()).Execute(context.Background(), a, buildSpec(t, a, srv.URL), nil)
	assert.ErrorIs(t, err, providers.ErrMalformedResponse)
}

func TestExecute_JSONBodyOnStreamingRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"error_code":110,"error_msg":"Access token invalid"}`))
	}))
	defer srv.Close()
	a := providers.Wenxin{}
	_, err := NewCaller(srv.Client()).Execute(context.Background(), a, buildSpec(t, a, srv.URL), nil)
	require.ErrorIs(t, err, providers.ErrMalformedResponse)
	assert.Contains(t, err.Error(), "Access token invalid")
}

func TestExecute_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   error
	}{
		{400, providers.ErrMalformedRequest},
		{401, providers.ErrAuth},
		{403, providers.ErrAuth},
		{429, providers.ErrRateLimited},
		{502, providers.ErrUpstreamUnavailable},
	}
	for _, c := range cases {
		t.Run(fmt.Sprint(c.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(c.status)
				_, _ = w.Write([]byte(`{"error":{"message":"server says no"}}`))
			}))
			defer srv.Close()
			a := providers.OpenAI{}
			_, err := NewCaller(srv.Client()).Execute(context.Background(), a, buildSpec(t, a, srv.URL), nil)
			require.ErrorIs(t, err, c.kind)
			assert.Contains(t, err.Error(), "server says no")
		})
	}
}

func TestExecute_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a := providers.OpenAI{}
	_, err := NewCaller(nil).Execute(context.Background(), a, buildSpec(t, a, url), nil)
	assert.ErrorIs(t, err, providers.ErrTransport)
}

func slowServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, openAIDelta("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecute_ContextDeadlineIsTimeout(t *testing.T) {
	srv := slowServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	a := providers.OpenAI{}
	_, err := NewCaller(srv.Client()).Execute(ctx, a, buildSpec(t, a, srv.URL), nil)
	assert.ErrorIs(t, err, providers.ErrTimeout)
}

func TestStart_HandleDoneAndCancel(t *testing.T) {
	srv := slowServer(t)
	a := providers.OpenAI{}
	var got atomic.Int32
	call := NewCaller(srv.Client()).Start(context.Background(), a, buildSpec(t, a, srv.URL), func(string) {
		got.Add(1)
	})

	select {
	case <-call.Done():
		t.Fatalf("call finished too early")
	case <-time.After(50 * time.Millisecond):
	}
	call.Cancel()

	select {
	case <-call.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled call did not finish")
	}
	_, err := call.Result()
	assert.ErrorIs(t, err, providers.ErrCancelled)
	assert.EqualValues(t, 1, got.Load())
}

func TestWait_BoundedByContext(t *testing.T) {
	srv := slowServer(t)
	a := providers.OpenAI{}
	call := NewCaller(srv.Client()).Start(context.Background(), a, buildSpec(t, a, srv.URL), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := call.Wait(ctx)
	assert.ErrorIs(t, err, providers.ErrCancelled)
}

func TestExecuteCallbacks_ExactlyOneTerminal(t *testing.T) {
	ok := sseServer(t, openAIDelta("hi"), "data: [DONE]")
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer bad.Close()

	a := providers.OpenAI{}
	for _, url := range []string{ok.URL, bad.URL} {
		var completes, errs int
		NewCaller(nil).ExecuteCallbacks(context.Background(), a, buildSpec(t, a, url), Callbacks{
			OnComplete: func(string) { completes++ },
			OnError:    func(error) { errs++ },
		})
		assert.Equal(t, 1, completes+errs, url)
	}
}
