package providers

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// Qianwen calls the DashScope text-generation endpoint in single-shot mode.
type Qianwen struct{}

type qianwenRequest struct {
	Model      string            `json:"model"`
	Input      qianwenInput      `json:"input"`
	Parameters qianwenParameters `json:"parameters"`
}

type qianwenInput struct {
	Messages []chatMessage `json:"messages"`
}

type qianwenParameters struct {
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type qianwenResponse struct {
	Output struct {
		Text    string `json:"text"`
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Qianwen) BuildRequest(p domain.Provider, message string, history []domain.Message, systemPrefix string) (*RequestSpec, error) {
	if err := validate(p, message); err != nil {
		return nil, err
	}
	body, err := sonic.Marshal(qianwenRequest{
		Model: p.Model,
		Input: qianwenInput{Messages: chatMessages(history, message, systemPrefix)},
		Parameters: qianwenParameters{
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	h := jsonHeader(p, false)
	if p.APIKey != "" {
		h.Set("Authorization", "Bearer "+p.APIKey)
	}
	return &RequestSpec{Method: http.MethodPost, URL: p.APIURL, Header: h, Body: body}, nil
}

// ParseStreamLine accepts DashScope SSE chunks produced with
// incremental_output enabled.
func (Qianwen) ParseStreamLine(line string) Event {
	payload, ok := ssePayload(line)
	if !ok || payload == "" {
		return ignore
	}
	if payload == "[DONE]" {
		return done
	}
	var r qianwenResponse
	if err := sonic.UnmarshalString(payload, &r); err != nil {
		return ignore
	}
	return delta(r.text())
}

func (Qianwen) ParseBody(body []byte) (string, error) {
	var r qianwenResponse
	if err := sonic.Unmarshal(body, &r); err != nil {
		return "", malformed("decode generation: %v", err)
	}
	if r.Code != "" {
		return "", malformed("%s: %s", r.Code, r.Message)
	}
	text := r.text()
	if text == "" && len(r.Output.Choices) == 0 {
		return "", malformed("generation has no output text")
	}
	return text, nil
}

func (r qianwenResponse) text() string {
	if r.Output.Text != "" {
		return r.Output.Text
	}
	if len(r.Output.Choices) > 0 {
		return r.Output.Choices[0].Message.Content
	}
	return ""
}
