package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifierFiltering(t *testing.T) {
	ctx := context.Background()

	t.Run("default events", func(t *testing.T) {
		s := &fakeSender{name: "a"}
		n := NewNotifier([]Sender{s}, nil, discardLogger())

		require.NoError(t, n.Notify(ctx, "stake_recorded", "stake", ""))
		require.NoError(t, n.Notify(ctx, "bet_resolved", "resolved", ""))
		assert.Equal(t, []string{"resolved"}, s.titles)
	})

	t.Run("explicit list", func(t *testing.T) {
		s := &fakeSender{name: "a"}
		n := NewNotifier([]Sender{s}, []string{" bet_created ", ""}, discardLogger())

		require.NoError(t, n.Notify(ctx, "bet_created", "created", ""))
		require.NoError(t, n.Notify(ctx, "bet_resolved", "resolved", ""))
		assert.Equal(t, []string{"created"}, s.titles)
	})

	t.Run("wildcard", func(t *testing.T) {
		n := NewNotifier(nil, []string{"*"}, discardLogger())
		assert.True(t, n.Allows("anything"))
	})

	t.Run("no senders", func(t *testing.T) {
		var nilNotifier *Notifier
		assert.NoError(t, nilNotifier.Notify(ctx, "bet_resolved", "x", "y"))
		assert.False(t, NewNotifier(nil, nil, discardLogger()).Enabled())
	})
}

func TestNotifierKeepsGoingAfterFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeSender{name: "bad", err: boom}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, []string{"*"}, discardLogger())

	err := n.Notify(context.Background(), "bet_cancelled", "Bet 1 cancelled", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"Bet 1 cancelled"}, good.titles)
}

func TestTelegramSender(t *testing.T) {
	var (
		gotPath string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Bet <1>", "a & b"))

	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", gotBody["chat_id"])
	assert.Equal(t, "HTML", gotBody["parse_mode"])
	assert.Equal(t, "<b>Bet &lt;1&gt;</b>\na &amp; b", gotBody["text"])
	assert.NotContains(t, s.String(), "TOKEN")
}

func TestDiscordSender(t *testing.T) {
	var gotBody map[string]any
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "betcoon")
	require.NoError(t, s.Send(context.Background(), "Bet 3 resolved", strings.Repeat("x", 3000)))
	assert.Equal(t, "betcoon", gotBody["username"])
	content, _ := gotBody["content"].(string)
	assert.Equal(t, discordContentLimit, len([]rune(content)))
	assert.True(t, strings.HasPrefix(content, "**Bet 3 resolved**\n"))

	status = http.StatusBadRequest
	err := s.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}
