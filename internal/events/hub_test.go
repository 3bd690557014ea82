package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treasuryarena/internal/ledger"
	"treasuryarena/internal/ledger/memory"
	"treasuryarena/internal/models"
)

func event(kind models.AuditKind, msg string) models.AuditEvent {
	return models.AuditEvent{
		Time:    time.Now().UTC(),
		Level:   models.AuditLevelInfo,
		Kind:    kind,
		Message: msg,
	}
}

func TestAppendPersistsAndBroadcasts(t *testing.T) {
	store := memory.NewAuditLog()
	hub := NewHub(store, nil)
	ch, cancel := hub.Subscribe()
	defer cancel()

	require.NoError(t, hub.Append(context.Background(), event(models.AuditKindEmergencyStop, "halt")))

	select {
	case got := <-ch:
		assert.Equal(t, models.AuditKindEmergencyStop, got.Kind)
		assert.Equal(t, "halt", got.Message)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	assert.Equal(t, 1, store.Count(models.AuditKindEmergencyStop, ""))

	listed, err := hub.ListAudit(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestAppendFailureIsNotBroadcast(t *testing.T) {
	hub := NewHub(memory.NewAuditLog(), nil)
	ch, cancel := hub.Subscribe()
	defer cancel()

	err := hub.Append(context.Background(), models.AuditEvent{Message: "no kind"})
	require.ErrorIs(t, err, ledger.ErrInvalidInput)
	assert.Empty(t, ch)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub(nil, nil)
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = hub.Append(context.Background(), event(models.AuditKindExecutionAttempt, "attempt"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("append blocked on a full subscriber")
	}
}

func TestCancelUnsubscribes(t *testing.T) {
	hub := NewHub(nil, nil)
	ch, cancel := hub.Subscribe()
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	assert.Equal(t, 0, hub.Subscribers())
	_, open := <-ch
	assert.False(t, open)
}

func TestStreamWritesEventsToWebsocket(t *testing.T) {
	hub := NewHub(memory.NewAuditLog(), nil)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Stream(ctx, conn)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Append(context.Background(), event(models.AuditKindValidationRejected, "insufficient capital")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got models.AuditEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, models.AuditKindValidationRejected, got.Kind)
	assert.Equal(t, "insufficient capital", got.Message)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}
