package notifier

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Render(t *testing.T) {
	msg := Message{
		Title: "Canary EOD",
		Sections: []Section{
			{Title: "Capital", Lines: []string{"pct=15", " "}},
			{Title: "Empty", Lines: []string{""}},
			{Title: "Gates", Lines: []string{"pnl pass", "bad ``` fence"}},
		},
		Footer:    "hold",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	out := msg.Render()
	assert.True(t, strings.HasPrefix(out, "*Canary EOD*"))
	assert.Contains(t, out, "Capital\n- pct=15\n")
	assert.NotContains(t, out, "Empty")
	assert.Contains(t, out, "bad ''' fence")
	assert.Contains(t, out, "at 2026-03-01 12:00:00 UTC")
}

func TestMessage_RenderTruncates(t *testing.T) {
	msg := Message{Sections: []Section{{Lines: []string{strings.Repeat("x", 5000)}}}}
	out := msg.Render()
	assert.LessOrEqual(t, len(out), maxMessageLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestTelegram_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "chat", payload["chat_id"])
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("token", "chat")
	tg.BaseURL = srv.URL
	var slept []time.Duration
	tg.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, tg.SendText("hello"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestTelegram_GivesUpAfterAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	tg := NewTelegram("token", "chat")
	tg.BaseURL = srv.URL
	tg.sleep = func(time.Duration) {}

	err := tg.SendText("hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

func TestTelegram_RequiresCredentials(t *testing.T) {
	require.Error(t, NewTelegram("", "chat").SendText("x"))
}

type failing struct{ err error }

func (f failing) SendText(string) error { return f.err }

func TestMulti_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := Multi{LogNotifier{}, nil, failing{err: boom}}.SendText("report")
	require.ErrorIs(t, err, boom)
	require.NoError(t, Multi{LogNotifier{Prefix: "canary"}}.SendText("ok"))
}
