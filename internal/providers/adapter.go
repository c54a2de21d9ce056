// Package providers holds the pure request-building and response-parsing
// logic for each AI provider family, plus the registry that maps a provider
// onto its adapter. Adapters never perform I/O; the stream package executes
// the RequestSpec they build.
//
// Families:
//   - openai: chat-completions SSE (`choices[0].delta.content`, `[DONE]`),
//     used by ChatGPT, DeepSeek, Kimi and Zhipu.
//   - anthropic: messages SSE (`content_block_delta`, `message_stop`).
//   - gemini: single-shot `generateContent`.
//   - wenxin: SSE with a single `result` field per line.
//   - qianwen: single-shot DashScope generation (`output.text`).
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// Family names understood by DefaultRegistry.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyGemini    = "gemini"
	FamilyWenxin    = "wenxin"
	FamilyQianwen   = "qianwen"
)

// RequestSpec is a fully built HTTP request for one provider call.
// Stream reports whether the body is read line by line or parsed whole.
type RequestSpec struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
	Stream bool
}

// EventKind classifies one parsed stream line.
type EventKind int

const (
	EventIgnore EventKind = iota
	EventDelta
	EventDone
)

// Event is the result of parsing one stream line.
type Event struct {
	Kind EventKind
	Text string
}

var (
	ignore = Event{Kind: EventIgnore}
	done   = Event{Kind: EventDone}
)

func delta(text string) Event {
	if text == "" {
		return ignore
	}
	return Event{Kind: EventDelta, Text: text}
}

// Adapter translates between the generic conversation model and one
// provider family's wire format.
//
// ParseStreamLine must never fail: an unparseable line is EventIgnore.
// ParseBody parses a complete single-shot response and wraps
// ErrMalformedResponse when the answer cannot be extracted.
type Adapter interface {
	BuildRequest(p domain.Provider, message string, history []domain.Message, systemPrefix string) (*RequestSpec, error)
	ParseStreamLine(line string) Event
	ParseBody(body []byte) (string, error)
}

// Registry maps family names to adapters. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// DefaultRegistry returns a registry with every built-in family.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FamilyOpenAI, OpenAI{})
	r.Register(FamilyAnthropic, Anthropic{})
	r.Register(FamilyGemini, Gemini{})
	r.Register(FamilyWenxin, Wenxin{})
	r.Register(FamilyQianwen, Qianwen{})
	return r
}

// Register adds or replaces the adapter for family.
func (r *Registry) Register(family string, a Adapter) {
	r.mu.Lock()
	r.adapters[strings.ToLower(family)] = a
	r.mu.Unlock()
}

// Lookup returns the adapter registered for family.
func (r *Registry) Lookup(family string) (Adapter, error) {
	r.mu.RLock()
	a, ok := r.adapters[strings.ToLower(family)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, family)
	}
	return a, nil
}

// For returns the adapter for p, trying its family first and then its id.
func (r *Registry) For(p domain.Provider) (Adapter, error) {
	if p.Family != "" {
		if a, err := r.Lookup(p.Family); err == nil {
			return a, nil
		}
	}
	a, err := r.Lookup(p.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %q (family %q)", ErrUnsupportedProvider, p.ID, p.Family)
	}
	return a, nil
}

// Families returns the registered family names, sorted.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ---- shared helpers ----

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatMessages renders history then the new user message, with an optional
// leading system message, preserving history order.
func chatMessages(history []domain.Message, message, systemPrefix string) []chatMessage {
	out := make([]chatMessage, 0, len(history)+2)
	if systemPrefix != "" {
		out = append(out, chatMessage{Role: domain.RoleSystem, Content: systemPrefix})
	}
	for _, m := range history {
		out = append(out, chatMessage{Role: m.Role, Content: m.Content})
	}
	return append(out, chatMessage{Role: domain.RoleUser, Content: message})
}

// splitSystem separates system turns (folded into one system text) from
// the user/assistant turns, for families that carry the system prompt
// outside the message list.
func splitSystem(history []domain.Message, message, systemPrefix string) (string, []chatMessage) {
	var sys []string
	if systemPrefix != "" {
		sys = append(sys, systemPrefix)
	}
	msgs := make([]chatMessage, 0, len(history)+1)
	for _, m := range history {
		if m.Role == domain.RoleSystem {
			sys = append(sys, m.Content)
			continue
		}
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, chatMessage{Role: domain.RoleUser, Content: message})
	return strings.Join(sys, "\n\n"), msgs
}

func validate(p domain.Provider, message string) error {
	if strings.TrimSpace(p.APIURL) == "" {
		return fmt.Errorf("%w: provider %q has no api url", ErrMalformedRequest, p.ID)
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: empty message", ErrMalformedRequest)
	}
	return nil
}

func jsonHeader(p domain.Provider, stream bool) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if stream {
		h.Set("Accept", "text/event-stream")
	} else {
		h.Set("Accept", "application/json")
	}
	for k, v := range p.Headers {
		h.Set(k, v)
	}
	return h
}

// ssePayload extracts the payload of a `data:` line.
func ssePayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}

func malformed(format string, args ...any) error {
	return &CallError{Kind: ErrMalformedResponse, Detail: fmt.Sprintf(format, args...)}
}
