package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// AnthropicVersion is sent as the anthropic-version header.
const AnthropicVersion = "2023-06-01"

// Anthropic speaks the Messages API with server-sent events.
type Anthropic struct{}

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature"`
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type    string `json:"type"`
		Text    string `json:"text"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

type anthropicMessage struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (Anthropic) BuildRequest(p domain.Provider, message string, history []domain.Message, systemPrefix string) (*RequestSpec, error) {
	if err := validate(p, message); err != nil {
		return nil, err
	}
	system, msgs := splitSystem(history, message, systemPrefix)
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body, err := sonic.Marshal(anthropicRequest{
		Model:       p.Model,
		MaxTokens:   maxTokens,
		System:      system,
		Messages:    msgs,
		Stream:      true,
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	h := jsonHeader(p, true)
	h.Set("anthropic-version", AnthropicVersion)
	if p.APIKey != "" {
		h.Set("x-api-key", p.APIKey)
	}
	return &RequestSpec{Method: http.MethodPost, URL: p.APIURL, Header: h, Body: body, Stream: true}, nil
}

func (Anthropic) ParseStreamLine(line string) Event {
	payload, ok := ssePayload(line)
	if !ok || payload == "" {
		return ignore
	}
	if payload == "[DONE]" {
		return done
	}
	var ev anthropicEvent
	if err := sonic.UnmarshalString(payload, &ev); err != nil {
		return ignore
	}
	switch ev.Type {
	case "message_stop":
		return done
	case "content_block_delta":
		if ev.Delta.Text != "" {
			return delta(ev.Delta.Text)
		}
	}
	// Some gateways nest the text under delta.content[0].text.
	if len(ev.Delta.Content) > 0 {
		return delta(ev.Delta.Content[0].Text)
	}
	return ignore
}

func (Anthropic) ParseBody(body []byte) (string, error) {
	var m anthropicMessage
	if err := sonic.Unmarshal(body, &m); err != nil {
		return "", malformed("decode message: %v", err)
	}
	if len(m.Content) == 0 {
		return "", malformed("message has no content")
	}
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == "" || c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String(), nil
}
