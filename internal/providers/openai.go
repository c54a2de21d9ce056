package providers

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// OpenAI speaks the chat-completions protocol shared by ChatGPT, DeepSeek,
// Kimi, Zhipu and most compatible gateways.
type OpenAI struct{}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (OpenAI) BuildRequest(p domain.Provider, message string, history []domain.Message, systemPrefix string) (*RequestSpec, error) {
	if err := validate(p, message); err != nil {
		return nil, err
	}
	body, err := sonic.Marshal(openAIRequest{
		Model:       p.Model,
		Messages:    chatMessages(history, message, systemPrefix),
		Stream:      true,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	h := jsonHeader(p, true)
	if p.APIKey != "" {
		h.Set("Authorization", "Bearer "+p.APIKey)
	}
	return &RequestSpec{Method: http.MethodPost, URL: p.APIURL, Header: h, Body: body, Stream: true}, nil
}

func (OpenAI) ParseStreamLine(line string) Event {
	payload, ok := ssePayload(line)
	if !ok || payload == "" {
		return ignore
	}
	if payload == "[DONE]" {
		return done
	}
	var c openAIChunk
	if err := sonic.UnmarshalString(payload, &c); err != nil || len(c.Choices) == 0 {
		return ignore
	}
	return delta(c.Choices[0].Delta.Content)
}

func (OpenAI) ParseBody(body []byte) (string, error) {
	var c openAIChunk
	if err := sonic.Unmarshal(body, &c); err != nil {
		return "", malformed("decode chat completion: %v", err)
	}
	if len(c.Choices) == 0 {
		return "", malformed("chat completion has no choices")
	}
	return c.Choices[0].Message.Content, nil
}
