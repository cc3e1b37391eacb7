package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "invoiceflow/internal/websocket"
)

func newWebSocketFixture(t *testing.T) (*WebSocketHandler, *ws.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := ws.NewRegistry(ws.RegistryOptions{}, logger, nil)
	return NewWebSocketHandler(registry, 0, 0, logger), registry
}

func TestWebSocketHandler_RequiresUser(t *testing.T) {
	handler, _ := newWebSocketFixture(t)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebSocketHandler_UpgradeAndNotify(t *testing.T) {
	handler, registry := newWebSocketFixture(t)

	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?user_id=user-1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &ack))
	assert.Equal(t, "connection_established", ack["type"])
	assert.Equal(t, "user-1", ack["user_id"])

	require.Eventually(t, func() bool {
		return registry.SendToUser("user-1", []byte(`{"type":"system_update"}`)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err = conn.ReadMessage()
	require.NoError(t, err)

	var frame map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &frame))
	assert.Equal(t, "system_update", frame["type"])
}

func TestWebSocketHandler_HeaderTakesPrecedence(t *testing.T) {
	handler, registry := newWebSocketFixture(t)

	server := httptest.NewServer(handler)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{}
	header.Set(userIDHeader, "user-7")

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ack map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &ack))
	assert.Equal(t, "user-7", ack["user_id"])
	assert.Equal(t, 1, registry.ClientCount())
}
