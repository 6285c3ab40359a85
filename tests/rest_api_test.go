package tests

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churst90/open-fps-sub000/internal/api"
	"github.com/churst90/open-fps-sub000/internal/protocol"
	"github.com/churst90/open-fps-sub000/internal/world"
)

// newRestStack поднимает игровой стек и REST сервер поверх него.
func newRestStack(t *testing.T) (*gameStack, http.Handler) {
	t.Helper()
	gs := newGameStack(t)
	rest := api.NewRestServer(api.Config{
		Port:     ":0",
		Tokens:   gs.Tokens,
		World:    gs.World,
		Bus:      gs.Bus,
		Console:  gs.Chat,
		Registry: prometheus.NewRegistry(),
	})
	return gs, rest.Handler()
}

func doRequest(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

// TestRestHealth проверяет health check без аутентификации.
func TestRestHealth(t *testing.T) {
	_, handler := newRestStack(t)

	w := doRequest(handler, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

// TestRestRequiresToken проверяет, что /api закрыт без JWT.
func TestRestRequiresToken(t *testing.T) {
	_, handler := newRestStack(t)

	w := doRequest(handler, "GET", "/api/status", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(handler, "GET", "/api/status", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// TestRestStatus проверяет статистику сервера под валидным токеном.
func TestRestStatus(t *testing.T) {
	gs, handler := newRestStack(t)
	token := gs.login(t, "conn-1", "alice", world.RolePlayer)

	w := doRequest(handler, "GET", "/api/status", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.GenericResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["online_users"])
	assert.Equal(t, float64(1), data["maps"])
	assert.Contains(t, data, "event_bus")
}

// TestRestOnlineUsers проверяет список онлайн-игроков.
func TestRestOnlineUsers(t *testing.T) {
	gs, handler := newRestStack(t)
	token := gs.login(t, "conn-1", "alice", world.RolePlayer)
	gs.login(t, "conn-2", "bob", world.RolePlayer)

	w := doRequest(handler, "GET", "/api/users/online", token, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.GenericResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(2), data["total"])
}

// TestRestServerChatAdminOnly проверяет, что серверное объявление
// доступно только админу и доходит до игроков.
func TestRestServerChatAdminOnly(t *testing.T) {
	gs, handler := newRestStack(t)
	playerToken := gs.login(t, "conn-1", "alice", world.RolePlayer)
	adminToken := gs.login(t, "conn-2", "admin", world.RoleAdmin)

	// Игрок получает 403
	w := doRequest(handler, "POST", "/api/chat/server", playerToken, `{"text":"запрещено"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Пустое тело — 400
	w = doRequest(handler, "POST", "/api/chat/server", adminToken, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Админ рассылает объявление всем онлайн
	w = doRequest(handler, "POST", "/api/chat/server", adminToken, `{"text":"рестарт в полночь"}`)
	require.Equal(t, http.StatusOK, w.Code)

	env := gs.Net.lastOf("conn-1", protocol.MsgChatReceive)
	require.NotNil(t, env)

	var received protocol.ChatReceive
	require.NoError(t, env.DecodeData(&received))
	assert.Equal(t, "server", received.Sender)
	assert.Equal(t, "рестарт в полночь", received.Text)
}

// TestRestMetricsEndpoint проверяет экспорт Prometheus метрик.
func TestRestMetricsEndpoint(t *testing.T) {
	_, handler := newRestStack(t)

	w := doRequest(handler, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
