package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name     string
	titles   []string
	messages []string
	err      error
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventRetrainFailed, " error "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventFeedConnected, "up", "connected"))
	assert.Empty(t, sender.titles)

	require.NoError(t, n.Notify(context.Background(), EventRetrainFailed, "retrain", "boom"))
	require.NoError(t, n.Notify(context.Background(), EventError, "err", "bad"))
	assert.Equal(t, []string{"retrain", "err"}, sender.titles)
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	require.NoError(t, n.Notify(context.Background(), EventFeedDisconnected, "down", "gone"))
	assert.Equal(t, []string{"down"}, sender.titles)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventError}, discardLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "any", "always delivered"))
	assert.Equal(t, []string{"any"}, sender.titles)
}

func TestDispatchContinuesAfterFailure(t *testing.T) {
	failing := &recordingSender{name: "broken", err: errors.New("unreachable")}
	working := &recordingSender{name: "ok"}
	n := NewNotifier([]Sender{failing, working}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 sender(s) failed")
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"title"}, working.titles)
}

func TestDispatchNoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, discardLogger())
	require.NoError(t, n.NotifyAll(context.Background(), "t", "m"))
}

func TestDiscordSenderPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Feed down", "reconnecting"))
	assert.Equal(t, "**Feed down**\nreconnecting", got["content"])
	assert.Equal(t, "discord", s.Name())
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")
	assert.Contains(t, err.Error(), "rate limited")
}

func TestTelegramSenderPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottok-123/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok-123", "chat-9")
	s.endpoint = srv.URL + "/bottok-123/sendMessage"

	require.NoError(t, s.Send(context.Background(), "Retrain failed", "see logs"))
	assert.Equal(t, "chat-9", got["chat_id"])
	assert.Equal(t, "*Retrain failed*\nsee logs", got["text"])
	assert.Equal(t, "Markdown", got["parse_mode"])
	assert.Equal(t, "telegram", s.Name())
}
