package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/models"
)

type BackendMock struct {
	mock.Mock
}

func (m *BackendMock) History(ctx context.Context, friendID int64) ([]models.Message, error) {
	args := m.Called(ctx, friendID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *BackendMock) SendMessage(ctx context.Context, friendID int64, req models.SendRequest) (models.Message, error) {
	args := m.Called(ctx, friendID, req)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) EditMessage(ctx context.Context, id int64, content string) (models.Message, error) {
	args := m.Called(ctx, id, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) DeleteMessage(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *BackendMock) UnsendMessage(ctx context.Context, id int64) (models.Message, error) {
	args := m.Called(ctx, id)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *BackendMock) MarkRead(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

type ChannelMock struct {
	mock.Mock
}

func (m *ChannelMock) Connect(ctx context.Context) {
	m.Called(ctx)
}

func (m *ChannelMock) Send(v any) bool {
	args := m.Called(v)
	return args.Bool(0)
}

func (m *ChannelMock) Connected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *ChannelMock) Close() {
	m.Called()
}

type NoticesMock struct {
	mock.Mock
}

func (m *NoticesMock) Error(ctx context.Context, text string) {
	m.Called(ctx, text)
}

func (m *NoticesMock) Success(ctx context.Context, text string) {
	m.Called(ctx, text)
}

func (m *NoticesMock) Info(ctx context.Context, text string) {
	m.Called(ctx, text)
}
