package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-client/internal/api"
	"chat-client/internal/conversation"
	"chat-client/internal/mocks"
	"chat-client/internal/models"
	"chat-client/internal/reconcile"
	"chat-client/internal/session"
	"chat-client/internal/telemetry"
)

type staticSession session.Session

func (s staticSession) Current() session.Session { return session.Session(s) }

type staticNotices []telemetry.Notice

func (n staticNotices) Active() []telemetry.Notice { return n }

func setupRouter(conv *mocks.ConversationMock, sessions *mocks.SessionsMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewConversationHandler(conv, sessions, nil)
	handler.now = func() time.Time { return time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC) }
	return NewRouter(RouterDeps{
		Handler:     handler,
		Sessions:    staticSession(session.Session{Token: "abc", UserID: 7}),
		Notices:     staticNotices{{ID: "n1", Level: telemetry.LevelError, Text: "boom"}},
		ServiceName: "chat-client-test",
	})
}

func do(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestOpenConversation(t *testing.T) {
	conv := new(mocks.ConversationMock)
	sessions := new(mocks.SessionsMock)
	router := setupRouter(conv, sessions)

	conv.On("Open", mock.Anything, int64(9)).Return(nil).Once()
	conv.On("Status").Return(conversation.Status{FriendID: 9, Open: true, Messages: 2}).Once()
	sessions.On("SelectFriend", mock.Anything, int64(9)).Return(nil).Once()

	rec := do(router, http.MethodPost, "/conversation", `{"friend_id":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"friend_id":9,"open":true,"connected":false,"degraded":false,"polling":false,"peer_typing":false,"messages":2,"pending":0}`, rec.Body.String())

	conv.AssertExpectations(t)
	sessions.AssertExpectations(t)
}

func TestOpenConversationInvalidBody(t *testing.T) {
	conv := new(mocks.ConversationMock)
	router := setupRouter(conv, new(mocks.SessionsMock))

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/conversation", `{"friend_id":0}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/conversation", `{"friend_id":7}`).Code)
	conv.AssertNotCalled(t, "Open", mock.Anything, mock.Anything)
}

func TestGetMessagesRendersView(t *testing.T) {
	conv := new(mocks.ConversationMock)
	router := setupRouter(conv, new(mocks.SessionsMock))

	missing := int64(100)
	conv.On("FriendID").Return(int64(9))
	conv.On("SelfID").Return(int64(7))
	conv.On("Messages").Return([]models.Message{
		{ID: 1, SenderID: 9, ReceiverID: 7, Content: "hi", CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{TempID: "temp-1", IsTemp: true, SenderID: 7, ReceiverID: 9, Content: "yo", ReplyToID: &missing, CreatedAt: time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)},
	})

	rec := do(router, http.MethodGet, "/conversation/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		FriendID int64 `json:"friend_id"`
		Messages []struct {
			Key    string `json:"key"`
			Status string `json:"status"`
			When   string `json:"when"`
			Reply  *struct {
				Unavailable bool `json:"unavailable"`
			} `json:"reply"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(9), resp.FriendID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "5 minutes ago", resp.Messages[0].When)
	assert.Equal(t, "sending", resp.Messages[1].Status)
	require.NotNil(t, resp.Messages[1].Reply)
	assert.True(t, resp.Messages[1].Reply.Unavailable)
}

func TestGetMessagesWithoutConversation(t *testing.T) {
	conv := new(mocks.ConversationMock)
	router := setupRouter(conv, new(mocks.SessionsMock))
	conv.On("FriendID").Return(int64(0))

	assert.Equal(t, http.StatusConflict, do(router, http.MethodGet, "/conversation/messages", "").Code)
}

func TestPostMessage(t *testing.T) {
	conv := new(mocks.ConversationMock)
	router := setupRouter(conv, new(mocks.SessionsMock))

	replyTo := int64(3)
	conv.On("Send", mock.Anything, "hello", &replyTo).
		Return(models.Message{TempID: "temp-1", IsTemp: true, SenderID: 7, ReceiverID: 9, Content: "hello"}, nil).Once()
	rec := do(router, http.MethodPost, "/conversation/messages", `{"content":"hello","reply_to_id":3}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	conv.On("Send", mock.Anything, "hi", (*int64)(nil)).
		Return(models.Message{ID: 42, SenderID: 7, ReceiverID: 9, Content: "hi"}, nil).Once()
	rec = do(router, http.MethodPost, "/conversation/messages", `{"content":"hi"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/conversation/messages", `{}`).Code)
	conv.AssertExpectations(t)
}

func TestPostMessageFailureReturnsContent(t *testing.T) {
	conv := new(mocks.ConversationMock)
	router := setupRouter(conv, new(mocks.SessionsMock))

	conv.On("Send", mock.Anything, "hello ", (*int64)(nil)).Return(nil, &conversation.SendError{
		Content: "hello ",
		Err:     &api.Error{Op: "send message", Status: http.StatusForbidden, Detail: "Not friends"},
	}).Once()

	rec := do(router, http.MethodPost, "/conversation/messages", `{"content":"hello "}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"failed to send message","content":"hello ","detail":"Not friends"}`, rec.Body.String())
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"pending", reconcile.ErrPendingMessage, http.StatusConflict},
		{"not found", reconcile.ErrNotFound, http.StatusNotFound},
		{"empty", reconcile.ErrEmptyContent, http.StatusBadRequest},
		{"no conversation", reconcile.ErrNoConversation, http.StatusConflict},
		{"backend 403", &api.Error{Op: "edit message", Status: http.StatusForbidden, Detail: "Not yours"}, http.StatusForbidden},
		{"backend 500", &api.Error{Op: "edit message", Status: http.StatusInternalServerError}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv := new(mocks.ConversationMock)
			router := setupRouter(conv, new(mocks.SessionsMock))
			conv.On("Edit", mock.Anything, "5", "new").Return(nil, tc.err).Once()

			rec := do(router, http.MethodPatch, "/conversation/messages/5", `{"content":"new"}`)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}

func TestUnauthorizedExpiresSession(t *testing.T) {
	conv := new(mocks.ConversationMock)
	sessions := new(mocks.SessionsMock)
	router := setupRouter(conv, sessions)

	conv.On("Delete", mock.Anything, "5").Return(&api.Error{Op: "delete message", Status: http.StatusUnauthorized}).Once()
	sessions.On("Expire", mock.Anything).Return(nil).Once()

	rec := do(router, http.MethodDelete, "/conversation/messages/5", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	sessions.AssertExpectations(t)
}

func TestDeleteUnsendReadTyping(t *testing.T) {
	conv := new(mocks.ConversationMock)
	router := setupRouter(conv, new(mocks.SessionsMock))

	conv.On("Delete", mock.Anything, "5").Return(nil).Once()
	conv.On("Unsend", mock.Anything, "6").Return(models.Message{ID: 6, Content: "[This message was unsent]"}, nil).Once()
	conv.On("MarkRead", mock.Anything).Return(nil, nil).Once()
	conv.On("Typing", true).Return(true, nil).Once()

	assert.Equal(t, http.StatusNoContent, do(router, http.MethodDelete, "/conversation/messages/5", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodDelete, "/conversation/messages/6/unsend", "").Code)

	rec := do(router, http.MethodPost, "/conversation/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message_ids":[]}`, rec.Body.String())

	rec = do(router, http.MethodPost, "/conversation/typing", `{"is_typing":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sent":true}`, rec.Body.String())
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/conversation/typing", `{}`).Code)

	conv.AssertExpectations(t)
}

func TestStatusAndNotices(t *testing.T) {
	conv := new(mocks.ConversationMock)
	router := setupRouter(conv, new(mocks.SessionsMock))
	conv.On("Status").Return(conversation.Status{FriendID: 9, Open: true, Degraded: true, Polling: true})

	rec := do(router, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		UserID       int64               `json:"user_id"`
		Conversation conversation.Status `json:"conversation"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(7), resp.UserID)
	assert.True(t, resp.Conversation.Polling)

	rec = do(router, http.MethodGet, "/notices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"text":"boom"`)

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/metrics", "").Code)
}

func TestGuardRejectsWithoutSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conv := new(mocks.ConversationMock)
	router := NewRouter(RouterDeps{
		Handler:  NewConversationHandler(conv, new(mocks.SessionsMock), nil),
		Sessions: staticSession(session.Session{}),
	})

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/status", "").Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/notices", "").Code)
}

type emitterMock struct {
	mock.Mock
}

func (m *emitterMock) Emit(ctx context.Context, level, text string) {
	m.Called(ctx, level, text)
}

func TestDebugNotice(t *testing.T) {
	gin.SetMode(gin.TestMode)
	emitter := new(emitterMock)
	router := NewRouter(RouterDeps{
		Handler:  NewConversationHandler(new(mocks.ConversationMock), new(mocks.SessionsMock), nil),
		Sessions: staticSession(session.Session{}),
		Debug:    emitter,
	})
	emitter.On("Emit", mock.Anything, "INFO", "hello").Once()

	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/debug/notice", `{"level":"INFO","text":"hello"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/debug/notice", `{"level":"LOUD","text":"x"}`).Code)
	emitter.AssertExpectations(t)
}
