package view

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

const (
	selfID   int64 = 7
	friendID int64 = 9
)

func TestRenderLabelsAndSenders(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	delivered := now.Add(-4 * time.Minute)
	msgs := []models.Message{
		{ID: 1, SenderID: friendID, ReceiverID: selfID, SenderUsername: "ana", Content: "hi", MessageType: models.MessageTypeText, CreatedAt: now.Add(-5 * time.Minute)},
		{ID: 2, SenderID: selfID, ReceiverID: friendID, Content: "read one", CreatedAt: now.Add(-4 * time.Minute), IsRead: true},
		{ID: 3, SenderID: selfID, ReceiverID: friendID, Content: "delivered one", CreatedAt: now.Add(-3 * time.Minute), DeliveredAt: &delivered},
		{ID: 4, SenderID: selfID, ReceiverID: friendID, Content: "plain", CreatedAt: now.Add(-2 * time.Minute)},
		{TempID: "temp-1", IsTemp: true, SenderID: selfID, ReceiverID: friendID, Content: "pending", CreatedAt: now},
	}

	lines := Render(msgs, selfID, now)
	require.Len(t, lines, 5)

	assert.Equal(t, "ana", lines[0].Sender)
	assert.False(t, lines[0].Mine)
	assert.Empty(t, lines[0].Status)
	assert.Equal(t, "5 minutes ago", lines[0].When)

	assert.Equal(t, "You", lines[1].Sender)
	assert.Equal(t, LabelSeen, lines[1].Status)
	assert.Equal(t, LabelDelivered, lines[2].Status)
	assert.Equal(t, LabelSent, lines[3].Status)
	assert.Equal(t, LabelSending, lines[4].Status)
	assert.Equal(t, "temp-1", lines[4].Key)
	assert.Equal(t, "now", lines[4].When)
}

func TestRenderDoesNotMutateInput(t *testing.T) {
	now := time.Now()
	msgs := []models.Message{{ID: 1, SenderID: friendID, ReceiverID: selfID, Content: "  spaced  ", CreatedAt: now}}
	before := msgs[0]

	Render(msgs, selfID, now)
	assert.Equal(t, before, msgs[0])
}

func TestRenderReplies(t *testing.T) {
	now := time.Now()
	missing := int64(100)
	local := int64(1)
	long := "this is a fairly long message that keeps going well past the excerpt limit of the preview"

	msgs := []models.Message{
		{ID: 1, SenderID: friendID, ReceiverID: selfID, Content: long, CreatedAt: now},
		{ID: 2, SenderID: selfID, ReceiverID: friendID, Content: "local ref", ReplyToID: &local, CreatedAt: now},
		{ID: 3, SenderID: selfID, ReceiverID: friendID, Content: "dangling", ReplyToID: &missing, CreatedAt: now},
		{ID: 4, SenderID: friendID, ReceiverID: selfID, Content: "server ref", CreatedAt: now, ReplyToID: &missing,
			ReplyTo: &models.ReplyPreview{ID: 100, SenderID: selfID, Content: "https://x.cloudinary.com/a.png"}},
	}

	lines := Render(msgs, selfID, now)

	require.NotNil(t, lines[1].Reply)
	assert.False(t, lines[1].Reply.Unavailable)
	assert.Equal(t, "User 9", lines[1].Reply.Sender)
	assert.Len(t, []rune(lines[1].Reply.Excerpt), excerptLen)

	require.NotNil(t, lines[2].Reply)
	assert.True(t, lines[2].Reply.Unavailable)
	assert.Equal(t, missing, lines[2].Reply.ID)

	require.NotNil(t, lines[3].Reply)
	assert.Equal(t, "You", lines[3].Reply.Sender)
	assert.Equal(t, "[image]", lines[3].Reply.Excerpt)

	assert.Nil(t, lines[0].Reply)
}

func TestRenderEditedAndUnsent(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)
	msgs := []models.Message{
		{ID: 1, SenderID: selfID, ReceiverID: friendID, Content: "fixed", CreatedAt: now, UpdatedAt: &later},
		{ID: 2, SenderID: friendID, ReceiverID: selfID, Content: "[This message was unsent]", CreatedAt: now, UpdatedAt: &later},
	}

	lines := Render(msgs, selfID, later)
	assert.True(t, lines[0].Edited)
	assert.False(t, lines[0].Unsent)
	assert.True(t, lines[1].Unsent)
	assert.False(t, lines[1].Edited)
}

func TestWrite(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	missing := int64(100)
	msgs := []models.Message{
		{ID: 1, SenderID: friendID, ReceiverID: selfID, SenderUsername: "ana", Content: "hi", CreatedAt: now},
		{ID: 2, SenderID: selfID, ReceiverID: friendID, Content: "https://cdn.example.com/n.webm", MessageType: models.MessageTypeVoice, ReplyToID: &missing, CreatedAt: now},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Render(msgs, selfID, now)))
	assert.Equal(t,
		"[now] ana: hi\n"+
			"  ↳ (unavailable)\n"+
			"[now] You: [voice] https://cdn.example.com/n.webm · sent\n",
		buf.String())
}
