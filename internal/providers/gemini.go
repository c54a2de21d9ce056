package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// Gemini calls generateContent and parses the whole response at once.
type Gemini struct{}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGeneration `json:"generationConfig"`
}

type geminiGeneration struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (Gemini) BuildRequest(p domain.Provider, message string, history []domain.Message, systemPrefix string) (*RequestSpec, error) {
	if err := validate(p, message); err != nil {
		return nil, err
	}
	system, msgs := splitSystem(history, message, systemPrefix)
	req := geminiRequest{
		Contents: make([]geminiContent, 0, len(msgs)),
		GenerationConfig: geminiGeneration{
			MaxOutputTokens: p.MaxTokens,
			Temperature:     p.Temperature,
		},
	}
	for _, m := range msgs {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		req.Contents = append(req.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	if system != "" {
		req.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	h := jsonHeader(p, false)
	if p.APIKey != "" {
		h.Set("x-goog-api-key", p.APIKey)
	}
	return &RequestSpec{Method: http.MethodPost, URL: p.APIURL, Header: h, Body: body}, nil
}

// ParseStreamLine handles the alt=sse variant of streamGenerateContent,
// where each data line is a partial response.
func (Gemini) ParseStreamLine(line string) Event {
	payload, ok := ssePayload(line)
	if !ok || payload == "" {
		return ignore
	}
	if payload == "[DONE]" {
		return done
	}
	var r geminiResponse
	if err := sonic.UnmarshalString(payload, &r); err != nil || len(r.Candidates) == 0 {
		return ignore
	}
	return delta(joinParts(r.Candidates[0].Content.Parts))
}

func (Gemini) ParseBody(body []byte) (string, error) {
	var r geminiResponse
	if err := sonic.Unmarshal(body, &r); err != nil {
		return "", malformed("decode generateContent: %v", err)
	}
	if len(r.Candidates) == 0 {
		if r.PromptFeedback.BlockReason != "" {
			return "", malformed("prompt blocked: %s", r.PromptFeedback.BlockReason)
		}
		return "", malformed("response has no candidates")
	}
	parts := r.Candidates[0].Content.Parts
	if len(parts) == 0 {
		return "", malformed("candidate has no parts")
	}
	return joinParts(parts), nil
}

func joinParts(parts []geminiPart) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
