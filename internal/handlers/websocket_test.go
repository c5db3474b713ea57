package handlers

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
	"github.com/ternarybob/arbor"

	"github.com/HTF1125/investment-x-sub000/internal/interfaces"
	"github.com/HTF1125/investment-x-sub000/internal/services/events"
	"github.com/HTF1125/investment-x-sub000/internal/services/tasks"
)

func dialWS(t *testing.T, h *WebSocketHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	var hello WSMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "hello", hello.Type)
	return conn
}

func TestWebSocket_RelaysEvents(t *testing.T) {
	logger := arbor.NewLogger()
	bus := events.NewService(logger)
	handler := NewWebSocketHandler(logger)
	NewEventSubscriber(handler, bus, nil, logger)

	conn := dialWS(t, handler)
	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventChartDeleted,
		Payload: map[string]string{"chart_id": "chart_1"},
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, string(interfaces.EventChartDeleted), msg.Type)
	assert.Equal(t, map[string]interface{}{"chart_id": "chart_1"}, msg.Payload)
	assert.False(t, msg.Time.IsZero(), "events carry their publish time")
}

func TestWebSocket_ThrottlesProgressButKeepsFinal(t *testing.T) {
	logger := arbor.NewLogger()
	handler := NewWebSocketHandler(logger)
	sub := NewEventSubscriber(handler, nil, map[interfaces.EventType]time.Duration{
		interfaces.EventExportProgress: time.Hour,
	}, logger)

	progress := func(completed int) interfaces.Event {
		return interfaces.Event{Type: interfaces.EventExportProgress, Payload: tasks.ProgressPayload{TaskID: "t", Completed: completed, Total: 3}}
	}

	assert.True(t, sub.allow(progress(1)))
	assert.False(t, sub.allow(progress(2)))
	assert.True(t, sub.allow(progress(3)))
	assert.True(t, sub.allow(interfaces.Event{Type: interfaces.EventExportCompleted}))
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	handler := NewWebSocketHandler(arbor.NewLogger())
	conn := dialWS(t, handler)
	require.Eventually(t, func() bool { return handler.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return handler.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
