package providers

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

// Wenxin speaks Baidu's ERNIE chat protocol: SSE lines carrying a single
// `result` field, authenticated by an access_token query parameter.
type Wenxin struct{}

type wenxinRequest struct {
	Messages        []chatMessage `json:"messages"`
	Stream          bool          `json:"stream"`
	System          string        `json:"system,omitempty"`
	Temperature     float64       `json:"temperature,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
}

type wenxinChunk struct {
	Result    string `json:"result"`
	IsEnd     bool   `json:"is_end"`
	ErrorCode int    `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

func (Wenxin) BuildRequest(p domain.Provider, message string, history []domain.Message, systemPrefix string) (*RequestSpec, error) {
	if err := validate(p, message); err != nil {
		return nil, err
	}
	u, err := url.Parse(p.APIURL)
	if err != nil {
		return nil, fmt.Errorf("%w: api url: %v", ErrMalformedRequest, err)
	}
	if p.APIKey != "" {
		q := u.Query()
		if q.Get("access_token") == "" {
			q.Set("access_token", p.APIKey)
			u.RawQuery = q.Encode()
		}
	}
	system, msgs := splitSystem(history, message, systemPrefix)
	temp := p.Temperature
	if temp > 1 {
		temp = 1
	}
	body, err := sonic.Marshal(wenxinRequest{
		Messages:        msgs,
		Stream:          true,
		System:          system,
		Temperature:     temp,
		MaxOutputTokens: p.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return &RequestSpec{Method: http.MethodPost, URL: u.String(), Header: jsonHeader(p, true), Body: body, Stream: true}, nil
}

func (Wenxin) ParseStreamLine(line string) Event {
	payload, ok := ssePayload(line)
	if !ok || payload == "" {
		return ignore
	}
	if payload == "[DONE]" {
		return done
	}
	var c wenxinChunk
	if err := sonic.UnmarshalString(payload, &c); err != nil {
		return ignore
	}
	if c.Result == "" && c.IsEnd {
		return done
	}
	return delta(c.Result)
}

func (Wenxin) ParseBody(body []byte) (string, error) {
	var c wenxinChunk
	if err := sonic.Unmarshal(body, &c); err != nil {
		return "", malformed("decode result: %v", err)
	}
	if c.ErrorCode != 0 {
		return "", malformed("error %d: %s", c.ErrorCode, c.ErrorMsg)
	}
	return c.Result, nil
}
