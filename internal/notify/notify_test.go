package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func event(kind Kind, msg string) Event {
	return Event{Kind: kind, Symbol: "BNB", Message: msg, Timestamp: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
}

func TestBuffer(t *testing.T) {
	b := NewBuffer(3)
	for _, m := range []string{"a", "b", "c", "d"} {
		b.Publish(event(KindFill, m))
	}

	all := b.Recent(0)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].Message)
	assert.Equal(t, "d", all[2].Message)

	last := b.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, "d", last[0].Message)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogSink(zap.New(core))

	s.Publish(event(KindAlert, "stop-loss failed"))
	s.Publish(event(KindFill, "bought"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.WarnLevel, entries[0].Level)
	assert.Equal(t, "stop-loss failed", entries[0].Message)
	assert.Equal(t, "BNB", entries[0].ContextMap()["symbol"])
	assert.Equal(t, zap.InfoLevel, entries[1].Level)
}

func TestMulti(t *testing.T) {
	a, b := NewBuffer(5), NewBuffer(5)
	Multi{a, nil, b}.Publish(event(KindSystem, "started"))
	assert.Len(t, a.Recent(0), 1)
	assert.Len(t, b.Recent(0), 1)
}

func TestHub_Broadcast(t *testing.T) {
	// Arrange
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	// Act
	hub.Publish(event(KindFill, "bought 1 BNB"))

	// Assert
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), `"kind":"FILL"`)
	assert.Contains(t, string(msg), "bought 1 BNB")
}

func TestWebhook(t *testing.T) {
	received := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	w := NewWebhook(server.URL, []string{"ALERT"}, zap.NewNop())
	w.Publish(event(KindFill, "ignored"))
	w.Publish(event(KindAlert, "venue timeout"))

	select {
	case body := <-received:
		assert.Contains(t, body, "venue timeout")
		assert.Contains(t, body, "ALERT BNB")
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
	select {
	case body := <-received:
		t.Fatalf("unexpected delivery %s", body)
	case <-time.After(50 * time.Millisecond):
	}
}
