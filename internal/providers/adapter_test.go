package providers

import (
	"encoding/json"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-groupchat-backend/internal/domain"
)

func testProvider(family string) domain.Provider {
	return domain.Provider{
		ID:          "p1",
		Name:        "P1",
		Family:      family,
		APIURL:      "https://example.test/v1/endpoint",
		APIKey:      "sk-test",
		Model:       "m-1",
		MaxTokens:   256,
		Temperature: 0.5,
		Headers:     map[string]string{"X-Extra": "1"},
	}
}

var testHistory = []domain.Message{
	{Role: domain.RoleUser, Content: "q1"},
	{Role: domain.RoleAssistant, Content: "a1"},
	{Role: domain.RoleUser, Content: "q2"},
}

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func roles(t *testing.T, msgs any) []string {
	t.Helper()
	list, ok := msgs.([]any)
	require.True(t, ok, "messages must be a list")
	out := make([]string, 0, len(list))
	for _, m := range list {
		mm := m.(map[string]any)
		out = append(out, mm["role"].(string)+":"+mm["content"].(string))
	}
	return out
}

func TestOpenAI_BuildRequest(t *testing.T) {
	rs, err := OpenAI{}.BuildRequest(testProvider(FamilyOpenAI), "hello", testHistory, "be brief")
	require.NoError(t, err)

	assert.True(t, rs.Stream)
	assert.Equal(t, "POST", rs.Method)
	assert.Equal(t, "https://example.test/v1/endpoint", rs.URL)
	assert.Equal(t, "Bearer sk-test", rs.Header.Get("Authorization"))
	assert.Equal(t, "text/event-stream", rs.Header.Get("Accept"))
	assert.Equal(t, "1", rs.Header.Get("X-Extra"))

	body := decode(t, rs.Body)
	assert.Equal(t, "m-1", body["model"])
	assert.Equal(t, true, body["stream"])
	assert.EqualValues(t, 256, body["max_tokens"])
	assert.EqualValues(t, 0.5, body["temperature"])
	assert.Equal(t,
		[]string{"system:be brief", "user:q1", "assistant:a1", "user:q2", "user:hello"},
		roles(t, body["messages"]))
}

func TestOpenAI_ParseStreamLine(t *testing.T) {
	a := OpenAI{}
	cases := []struct {
		line string
		want Event
	}{
		{`data: {"choices":[{"delta":{"content":"Hel"}}]}`, Event{Kind: EventDelta, Text: "Hel"}},
		{`data:{"choices":[{"delta":{"content":"lo"}}]}`, Event{Kind: EventDelta, Text: "lo"}},
		{`data: [DONE]`, Event{Kind: EventDone}},
		{`data: {"choices":[{"delta":{}}]}`, Event{Kind: EventIgnore}},
		{`data: {not json`, Event{Kind: EventIgnore}},
		{`: keep-alive`, Event{Kind: EventIgnore}},
		{``, Event{Kind: EventIgnore}},
		{`event: ping`, Event{Kind: EventIgnore}},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, a.ParseStreamLine(c.line), c.line)
	}
}

func TestOpenAI_ParseBody(t *testing.T) {
	text, err := OpenAI{}.ParseBody([]byte(`{"choices":[{"message":{"content":"full"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "full", text)

	_, err = OpenAI{}.ParseBody([]byte(`{"choices":[]}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
	_, err = OpenAI{}.ParseBody([]byte(`<html>`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestAnthropic_BuildRequest(t *testing.T) {
	hist := append([]domain.Message{{Role: domain.RoleSystem, Content: "ctx"}}, testHistory...)
	p := testProvider(FamilyAnthropic)
	p.MaxTokens = 0
	rs, err := Anthropic{}.BuildRequest(p, "hello", hist, "be brief")
	require.NoError(t, err)

	assert.True(t, rs.Stream)
	assert.Equal(t, "sk-test", rs.Header.Get("x-api-key"))
	assert.Equal(t, AnthropicVersion, rs.Header.Get("anthropic-version"))
	assert.Empty(t, rs.Header.Get("Authorization"))

	body := decode(t, rs.Body)
	assert.Equal(t, "be brief\n\nctx", body["system"])
	assert.EqualValues(t, 1024, body["max_tokens"])
	assert.Equal(t, []string{"user:q1", "assistant:a1", "user:q2", "user:hello"}, roles(t, body["messages"]))
}

func TestAnthropic_ParseStreamLine(t *testing.T) {
	a := Anthropic{}
	assert.Equal(t, Event{Kind: EventDelta, Text: "po"},
		a.ParseStreamLine(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"po"}}`))
	assert.Equal(t, Event{Kind: EventDelta, Text: "ng"},
		a.ParseStreamLine(`data: {"delta":{"content":[{"text":"ng"}]}}`))
	assert.Equal(t, Event{Kind: EventDone}, a.ParseStreamLine(`data: {"type":"message_stop"}`))
	assert.Equal(t, Event{Kind: EventDone}, a.ParseStreamLine(`data: [DONE]`))
	assert.Equal(t, Event{Kind: EventIgnore}, a.ParseStreamLine(`event: content_block_delta`))
	assert.Equal(t, Event{Kind: EventIgnore}, a.ParseStreamLine(`data: {"type":"message_start","message":{}}`))
	assert.Equal(t, Event{Kind: EventIgnore}, a.ParseStreamLine(`data: garbage`))

	text, err := a.ParseBody([]byte(`{"content":[{"type":"text","text":"a"},{"type":"tool_use"},{"type":"text","text":"b"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "ab", text)
	_, err = a.ParseBody([]byte(`{"content":[]}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestGemini_BuildAndParse(t *testing.T) {
	rs, err := Gemini{}.BuildRequest(testProvider(FamilyGemini), "hello", testHistory, "sys")
	require.NoError(t, err)
	assert.False(t, rs.Stream)
	assert.Equal(t, "sk-test", rs.Header.Get("x-goog-api-key"))

	body := decode(t, rs.Body)
	contents := body["contents"].([]any)
	require.Len(t, contents, 4)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])
	assert.Equal(t, "hello", contents[3].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"])
	assert.NotNil(t, body["systemInstruction"])
	gen := body["generationConfig"].(map[string]any)
	assert.EqualValues(t, 256, gen["maxOutputTokens"])

	text, err := Gemini{}.ParseBody([]byte(`{"candidates":[{"content":{"parts":[{"text":"po"},{"text":"ng"}]}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "pong", text)

	_, err = Gemini{}.ParseBody([]byte(`{"promptFeedback":{"blockReason":"SAFETY"}}`))
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "SAFETY")

	assert.Equal(t, Event{Kind: EventDelta, Text: "x"},
		Gemini{}.ParseStreamLine(`data: {"candidates":[{"content":{"parts":[{"text":"x"}]}}]}`))
}

func TestWenxin_BuildAndParse(t *testing.T) {
	p := testProvider(FamilyWenxin)
	p.Temperature = 1.5
	rs, err := Wenxin{}.BuildRequest(p, "hello", testHistory, "")
	require.NoError(t, err)
	assert.True(t, rs.Stream)

	u, err := url.Parse(rs.URL)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", u.Query().Get("access_token"))
	body := decode(t, rs.Body)
	assert.EqualValues(t, 1, body["temperature"])
	_, hasSystem := body["system"]
	assert.False(t, hasSystem)

	w := Wenxin{}
	assert.Equal(t, Event{Kind: EventDelta, Text: "你好"}, w.ParseStreamLine(`data: {"result":"你好","is_end":false}`))
	assert.Equal(t, Event{Kind: EventDone}, w.ParseStreamLine(`data: {"result":"","is_end":true}`))
	assert.Equal(t, Event{Kind: EventIgnore}, w.ParseStreamLine(`data: {"result":`))

	_, err = w.ParseBody([]byte(`{"error_code":110,"error_msg":"Access token invalid"}`))
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Contains(t, err.Error(), "Access token invalid")
}

func TestQianwen_BuildAndParse(t *testing.T) {
	rs, err := Qianwen{}.BuildRequest(testProvider(FamilyQianwen), "hello", testHistory, "")
	require.NoError(t, err)
	assert.False(t, rs.Stream)
	assert.Equal(t, "Bearer sk-test", rs.Header.Get("Authorization"))
	body := decode(t, rs.Body)
	input := body["input"].(map[string]any)
	assert.Equal(t, []string{"user:q1", "assistant:a1", "user:q2", "user:hello"}, roles(t, input["messages"]))

	text, err := Qianwen{}.ParseBody([]byte(`{"output":{"text":"pong"}}`))
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	text, err = Qianwen{}.ParseBody([]byte(`{"output":{"choices":[{"message":{"role":"assistant","content":"pong2"}}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "pong2", text)
	_, err = Qianwen{}.ParseBody([]byte(`{"code":"InvalidApiKey","message":"bad key"}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
	_, err = Qianwen{}.ParseBody([]byte(`{"output":{}}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestBuildRequest_Validation(t *testing.T) {
	for _, fam := range DefaultRegistry().Families() {
		a, err := DefaultRegistry().Lookup(fam)
		require.NoError(t, err)

		p := testProvider(fam)
		p.APIURL = ""
		_, err = a.BuildRequest(p, "hi", nil, "")
		assert.ErrorIs(t, err, ErrMalformedRequest, fam)

		_, err = a.BuildRequest(testProvider(fam), "   ", nil, "")
		assert.ErrorIs(t, err, ErrMalformedRequest, fam)
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"anthropic", "gemini", "openai", "qianwen", "wenxin"}, r.Families())

	a, err := r.For(domain.Provider{ID: "deepseek", Family: "OpenAI"})
	require.NoError(t, err)
	assert.IsType(t, OpenAI{}, a)

	// falls back to the provider id when the family is unknown
	r.Register("custom", Qianwen{})
	a, err = r.For(domain.Provider{ID: "custom", Family: "nope"})
	require.NoError(t, err)
	assert.IsType(t, Qianwen{}, a)

	_, err = r.For(domain.Provider{ID: "xinghuo", Family: "spark"})
	assert.True(t, errors.Is(err, ErrUnsupportedProvider))
	_, err = NewRegistry().Lookup(FamilyOpenAI)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
