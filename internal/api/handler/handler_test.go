package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"productchat/backend/internal/api/handler"
	"productchat/backend/internal/chat"
	"productchat/backend/internal/chathub"
	"productchat/backend/internal/config"
	"productchat/backend/internal/models"
	"productchat/backend/internal/storage"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(cfg *config.Config) (*gin.Engine, *chat.Service) {
	svc := chat.NewService(storage.NewMemoryStore(), chathub.NewRegistry(), nil)
	r := gin.New()
	handler.NewHandler(svc, cfg).RegisterRoutes(r)
	return r, svc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Scenario(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := doJSON(t, r, http.MethodPost, "/chats", gin.H{"user1": "1", "user2": "3", "product": "101"})
	require.Equal(t, http.StatusCreated, w.Code)
	var session models.ChatSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, uint(1), session.ID)
	assert.Equal(t, []string{"1", "3"}, session.Participants)
	assert.Equal(t, "101", session.ProductID)

	w = doJSON(t, r, http.MethodPost, "/chats/1/messages", gin.H{"sender": "1", "text": "hi"})
	require.Equal(t, http.StatusCreated, w.Code)
	var msg models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, "1", msg.SenderID)
	assert.Equal(t, "hi", msg.Text)

	w = doJSON(t, r, http.MethodGet, "/chats/1/messages", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)
	assert.True(t, msg.Timestamp.Equal(history[0].Timestamp))

	w = doJSON(t, r, http.MethodPost, "/chats", gin.H{"user1": "3", "user2": "1", "product": "101"})
	require.Equal(t, http.StatusOK, w.Code)
	var again models.ChatSession
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, session.ID, again.ID)

	w = doJSON(t, r, http.MethodGet, "/users/3/chats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chats []models.ChatSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "hi", chats[0].LastMessage.Text)
}

func TestHandler_EmptyResults(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := doJSON(t, r, http.MethodGet, "/chats/77/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/users/nobody/chats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	// An id that is not a chat number names no chat.
	for _, id := range []string{"abc", "-1", "1.5"} {
		w = doJSON(t, r, http.MethodGet, "/chats/"+id+"/messages", nil)
		assert.Equal(t, http.StatusOK, w.Code, id)
		assert.JSONEq(t, "[]", w.Body.String(), id)
	}
}

func TestHandler_ReadState(t *testing.T) {
	r, _ := newTestRouter(nil)
	doJSON(t, r, http.MethodPost, "/chats", gin.H{"user1": "buyer", "user2": "seller", "product": "bike"})
	doJSON(t, r, http.MethodPost, "/chats/1/messages", gin.H{"sender": "buyer", "text": "hi"})
	doJSON(t, r, http.MethodPost, "/chats/1/messages", gin.H{"sender": "buyer", "text": "still there?"})

	w := doJSON(t, r, http.MethodGet, "/users/seller/unread_count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unread_count":2}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/users/seller/chats", nil)
	var chats []models.ChatSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, 2, chats[0].UnreadCount)

	w = doJSON(t, r, http.MethodPost, "/chats/1/read", gin.H{"user": "seller"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chat_id":1,"last_read_message_id":2}`, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/users/seller/unread_count", nil)
	assert.JSONEq(t, `{"unread_count":0}`, w.Body.String())
	w = doJSON(t, r, http.MethodGet, "/users/nobody/unread_count", nil)
	assert.JSONEq(t, `{"unread_count":0}`, w.Body.String())
}

func TestHandler_MarkReadErrors(t *testing.T) {
	r, _ := newTestRouter(nil)
	doJSON(t, r, http.MethodPost, "/chats", gin.H{"user1": "a", "user2": "b", "product": "p"})

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown chat", "/chats/99/read", gin.H{"user": "a"}, http.StatusNotFound},
		{"not a participant", "/chats/1/read", gin.H{"user": "mallory"}, http.StatusForbidden},
		{"missing user", "/chats/1/read", nil, http.StatusBadRequest},
		{"bad chat id", "/chats/abc/read", gin.H{"user": "a"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestHandler_PostMessageErrors(t *testing.T) {
	r, _ := newTestRouter(nil)
	doJSON(t, r, http.MethodPost, "/chats", gin.H{"user1": "a", "user2": "b", "product": "p"})

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		error  string
	}{
		{"unknown chat", "/chats/99/messages", gin.H{"sender": "a", "text": "hi"}, http.StatusNotFound, "Chat not found"},
		{"blank text", "/chats/1/messages", gin.H{"sender": "a", "text": "  "}, http.StatusBadRequest, "Message cannot be empty"},
		{"missing sender", "/chats/1/messages", gin.H{"text": "hi"}, http.StatusBadRequest, "Sender is required"},
		{"not a participant", "/chats/1/messages", gin.H{"sender": "mallory", "text": "hi"}, http.StatusForbidden, "Sender is not a participant of this chat"},
		{"bad chat id", "/chats/abc/messages", gin.H{"sender": "a", "text": "hi"}, http.StatusBadRequest, "Invalid chat id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, tt.path, tt.body)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.error, body["error"])
		})
	}
}

func TestHandler_FindOrCreateValidation(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := doJSON(t, r, http.MethodPost, "/chats", gin.H{"user1": "a", "product": "p"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, r, http.MethodPost, "/chats", gin.H{"user1": "a", "user2": "a", "product": "p"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_AnonIDWithoutSecret(t *testing.T) {
	r, _ := newTestRouter(nil)

	w := doJSON(t, r, http.MethodGet, "/anonid", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["anon_id"])
	assert.NotContains(t, body, "token")
}

// TestHandler_VerifiedIdentity verifies a token's user replaces the sender in the body.
func TestHandler_VerifiedIdentity(t *testing.T) {
	r, svc := newTestRouter(&config.Config{JWTSecret: "test-secret"})

	w := doJSON(t, r, http.MethodGet, "/anonid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var issued map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))
	require.NotEmpty(t, issued["token"])

	session, _, err := svc.FindOrCreate(issued["anon_id"], "seller", "p")
	require.NoError(t, err)
	path := "/chats/" + jsonNumber(session.ID) + "/messages"

	w = doJSON(t, r, http.MethodPost, path, gin.H{"sender": "seller", "text": "spoofed?"}, "Authorization", "Bearer "+issued["token"])
	require.Equal(t, http.StatusCreated, w.Code)
	var msg models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msg))
	assert.Equal(t, issued["anon_id"], msg.SenderID)

	w = doJSON(t, r, http.MethodPost, path, gin.H{"sender": "seller", "text": "hi"}, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func jsonNumber(id uint) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.ChatEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.ChatEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

// TestWebSocket_LiveAndRequestSurfacesAgree covers join, live send, HTTP post and disconnect.
func TestWebSocket_LiveAndRequestSurfacesAgree(t *testing.T) {
	r, svc := newTestRouter(nil)
	server := httptest.NewServer(r)
	defer server.Close()

	session, _, err := svc.FindOrCreate("buyer", "seller", "bike")
	require.NoError(t, err)
	registry := svc.Gateway.Registry

	buyer := dialWS(t, server)
	seller := dialWS(t, server)
	outsider := dialWS(t, server)

	for _, conn := range []*websocket.Conn{buyer, seller} {
		require.NoError(t, conn.WriteJSON(models.ChatEvent{Type: models.EventJoinChat, ChatID: session.ID}))
	}
	require.Eventually(t, func() bool { return registry.Members(session.ID) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Live send reaches both participants, the sender included.
	require.NoError(t, buyer.WriteJSON(models.ChatEvent{Type: models.EventSendMessage, ChatID: session.ID, Sender: "buyer", Text: "hello"}))
	for _, conn := range []*websocket.Conn{buyer, seller} {
		ev := readEvent(t, conn)
		assert.Equal(t, models.EventReceiveMessage, ev.Type)
		assert.Equal(t, "hello", ev.Text)
		assert.Equal(t, "buyer", ev.Sender)
		assert.NotNil(t, ev.Timestamp)
	}

	// A request/response post is pushed the same way.
	w := doJSON(t, r, http.MethodPost, "/chats/"+jsonNumber(session.ID)+"/messages", gin.H{"sender": "seller", "text": "yes"})
	require.Equal(t, http.StatusCreated, w.Code)
	ev := readEvent(t, buyer)
	assert.Equal(t, "yes", ev.Text)

	history, _ := svc.ListMessages(session.ID)
	require.Len(t, history, 2)
	assert.Equal(t, "hello", history[0].Text)
	assert.Equal(t, "yes", history[1].Text)

	// Nothing reached the connection that never joined.
	require.NoError(t, outsider.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = outsider.ReadMessage()
	assert.Error(t, err)

	seller.Close()
	assert.Eventually(t, func() bool { return registry.Members(session.ID) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_SendToUnknownChatReturnsError(t *testing.T) {
	r, _ := newTestRouter(nil)
	server := httptest.NewServer(r)
	defer server.Close()

	conn := dialWS(t, server)
	require.NoError(t, conn.WriteJSON(models.ChatEvent{Type: models.EventSendMessage, ChatID: 404, Sender: "a", Text: "anyone?"}))

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Equal(t, uint(404), ev.ChatID)
	assert.Equal(t, "Chat not found", ev.Error)
}

func TestWebSocket_MalformedFrame(t *testing.T) {
	r, _ := newTestRouter(nil)
	server := httptest.NewServer(r)
	defer server.Close()

	conn := dialWS(t, server)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))

	ev := readEvent(t, conn)
	assert.Equal(t, models.EventError, ev.Type)
	assert.Equal(t, "Malformed frame", ev.Error)
}

func TestWebSocket_RejectsBadToken(t *testing.T) {
	r, _ := newTestRouter(&config.Config{JWTSecret: "test-secret"})
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	r, _ := newTestRouter(&config.Config{AllowedOrigins: []string{"https://shop.example"}})
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
