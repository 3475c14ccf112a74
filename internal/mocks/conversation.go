package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/conversation"
	"chat-client/internal/models"
)

type ConversationMock struct {
	mock.Mock
}

func (m *ConversationMock) Open(ctx context.Context, friendID int64) error {
	args := m.Called(ctx, friendID)
	return args.Error(0)
}

func (m *ConversationMock) FriendID() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

func (m *ConversationMock) SelfID() int64 {
	args := m.Called()
	return args.Get(0).(int64)
}

func (m *ConversationMock) Messages() []models.Message {
	args := m.Called()
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs
}

func (m *ConversationMock) Status() conversation.Status {
	args := m.Called()
	return args.Get(0).(conversation.Status)
}

func (m *ConversationMock) Send(ctx context.Context, content string, replyToID *int64) (models.Message, error) {
	args := m.Called(ctx, content, replyToID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ConversationMock) Edit(ctx context.Context, key, content string) (models.Message, error) {
	args := m.Called(ctx, key, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ConversationMock) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *ConversationMock) Unsend(ctx context.Context, key string) (models.Message, error) {
	args := m.Called(ctx, key)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ConversationMock) MarkRead(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

func (m *ConversationMock) Typing(active bool) (bool, error) {
	args := m.Called(active)
	return args.Bool(0), args.Error(1)
}

type SessionsMock struct {
	mock.Mock
}

func (m *SessionsMock) SelectFriend(ctx context.Context, friendID int64) error {
	args := m.Called(ctx, friendID)
	return args.Error(0)
}

func (m *SessionsMock) Expire(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
