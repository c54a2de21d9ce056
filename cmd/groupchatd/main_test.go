package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tbourn/go-groupchat-backend/internal/config"
	"github.com/tbourn/go-groupchat-backend/internal/domain"
	"github.com/tbourn/go-groupchat-backend/internal/events"
)

func TestReplyDefaults(t *testing.T) {
	cfg := config.Config{
		Reply: config.ReplyConfig{
			Timeout:         7 * time.Second,
			MaxRetries:      4,
			RetryBaseDelay:  250 * time.Millisecond,
			MaxConcurrent:   3,
			RetryAuth:       false,
			HistoryTurns:    6,
			MaxMessageRunes: 1000,
		},
		IdempotencyTTL: time.Hour,
	}
	d := replyDefaults(cfg)
	assert.Equal(t, 7*time.Second, d.Timeout)
	assert.Equal(t, 4, d.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, d.RetryBaseDelay)
	assert.Equal(t, 3, d.MaxConcurrent)
	assert.False(t, d.RetryAuth)
	assert.Equal(t, 6, d.HistoryTurns)
	assert.Equal(t, 1000, d.MaxMessageRunes)
	assert.Equal(t, time.Hour, d.IdempotencyTTL)
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []string{"b", "a", "missing"}, map[string]domain.ReplyResult{
		"a": {ProviderID: "a", ProviderName: "Alpha", Success: true, Text: "pong", Elapsed: 1500 * time.Microsecond, Retries: 1},
		"b": {ProviderID: "b", Success: false, Error: "401 unauthorized", ErrorKind: "auth"},
	})
	out := buf.String()
	assert.Less(t, strings.Index(out, "== b failed"), strings.Index(out, "== Alpha"), "results follow the requested order")
	assert.Contains(t, out, "== b failed: 401 unauthorized (auth)")
	assert.Contains(t, out, "== Alpha (2ms, 1 retries)\npong")
	assert.NotContains(t, out, "missing")
}

func TestStreamPrinter(t *testing.T) {
	var buf bytes.Buffer
	obs := streamPrinter(&buf)
	obs.Handle(events.Event{Type: events.ReplyProgress, ProviderID: "a", Delta: "po"})
	obs.Handle(events.Event{Type: events.ReplyRetrying, ProviderID: "b", Attempt: 2})
	obs.Handle(events.Event{Type: events.ReplyTerminal, ProviderID: "a"})
	assert.Equal(t, "[a] po\n[b] retrying (attempt 2)\n", buf.String())
}

func TestRootCommand(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"] && names["providers"] && names["ask"], "commands: %v", names)
	assert.Error(t, askCmd.Args(askCmd, nil), "ask needs a message")
	assert.NoError(t, askCmd.Args(askCmd, []string{"hi"}))
}
