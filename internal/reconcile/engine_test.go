package reconcile

import (
	"fmt"
	"math/rand"
	"sort"
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

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T) (*Engine, uint64) {
	t.Helper()
	e := NewEngine(selfID, nil)
	e.now = func() time.Time { return t0 }
	n := 0
	e.newTempID = func() string {
		n++
		return fmt.Sprintf("t%d", n)
	}
	return e, e.Reset(friendID)
}

func incoming(id int64, content string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: friendID, ReceiverID: selfID, Content: content, CreatedAt: at}
}

func outgoing(id int64, content string, at time.Time) models.Message {
	return models.Message{ID: id, SenderID: selfID, ReceiverID: friendID, Content: content, CreatedAt: at}
}

func keys(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Key())
	}
	return out
}

func TestSendThenPushWithSameContent(t *testing.T) {
	e, gen := newTestEngine(t)

	temp, err := e.BeginSend(gen, "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", temp.TempID)
	assert.True(t, temp.IsTemp)

	outcome, err := e.Receive(gen, outgoing(42, "hello", t0.Add(50*time.Millisecond)), SourcePush)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTempReplaced, outcome)

	msgs := e.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(42), msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.False(t, msgs[0].IsTemp)

	// The send confirmation arriving after the push is a duplicate.
	outcome, err = e.ConfirmSend(gen, temp.TempID, outgoing(42, "hello", t0.Add(50*time.Millisecond)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, e.Messages(), 1)
}

func TestConfirmSendReplacesTemp(t *testing.T) {
	e, gen := newTestEngine(t)

	temp, err := e.BeginSend(gen, "hi", nil)
	require.NoError(t, err)

	outcome, err := e.ConfirmSend(gen, temp.TempID, outgoing(5, "hi", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTempReplaced, outcome)
	assert.Equal(t, []string{"5"}, keys(e.Messages()))

	// A later push of the same record does nothing.
	outcome, err = e.Receive(gen, outgoing(5, "hi", t0.Add(time.Second)), SourcePush)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, e.Messages(), 1)
}

func TestFailSendRestoresContent(t *testing.T) {
	e, gen := newTestEngine(t)

	temp, err := e.BeginSend(gen, "draft text", nil)
	require.NoError(t, err)
	require.Len(t, e.Messages(), 1)

	content, ok := e.FailSend(gen, temp.TempID)
	require.True(t, ok)
	assert.Equal(t, "draft text", content)
	assert.Empty(t, e.Messages())
}

func TestBeginSendRejectsEmptyContent(t *testing.T) {
	e, gen := newTestEngine(t)

	_, err := e.BeginSend(gen, "   ", nil)
	assert.ErrorIs(t, err, ErrEmptyContent)
}

func TestBeginSendResolvesReplyPreview(t *testing.T) {
	e, gen := newTestEngine(t)
	_, err := e.Receive(gen, incoming(3, "question", t0.Add(-time.Minute)), SourcePush)
	require.NoError(t, err)

	replyTo := int64(3)
	temp, err := e.BeginSend(gen, "answer", &replyTo)
	require.NoError(t, err)
	require.NotNil(t, temp.ReplyTo)
	assert.Equal(t, "question", temp.ReplyTo.Content)
}

func TestOutOfOrderArrivalSorts(t *testing.T) {
	e, gen := newTestEngine(t)

	_, _ = e.Receive(gen, incoming(3, "c", t0.Add(3*time.Second)), SourcePush)
	_, _ = e.Receive(gen, incoming(1, "a", t0.Add(1*time.Second)), SourcePush)
	_, _ = e.Receive(gen, incoming(2, "b", t0.Add(2*time.Second)), SourcePoll)

	assert.Equal(t, []string{"1", "2", "3"}, keys(e.Messages()))
}

func TestRandomInterleavingStaysSortedAndUnique(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 50; round++ {
		e, gen := newTestEngine(t)

		var events []models.Message
		for i := int64(1); i <= 20; i++ {
			at := t0.Add(time.Duration(rng.Intn(10)) * time.Second)
			msg := incoming(i, fmt.Sprintf("m%d", i), at)
			events = append(events, msg, msg)
		}
		rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })

		for i, ev := range events {
			if i%7 == 0 {
				_, err := e.BeginSend(gen, fmt.Sprintf("local %d", i), nil)
				require.NoError(t, err)
			}
			source := SourcePush
			if i%2 == 0 {
				source = SourcePoll
			}
			_, err := e.Receive(gen, ev, source)
			require.NoError(t, err)
		}

		msgs := e.Messages()
		assert.True(t, sort.SliceIsSorted(msgs, func(i, j int) bool {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}), "round %d not sorted", round)

		seen := map[int64]int{}
		for _, m := range msgs {
			if !m.IsTemp {
				seen[m.ID]++
			}
		}
		assert.Len(t, seen, 20)
		for id, n := range seen {
			assert.Equal(t, 1, n, "id %d duplicated", id)
		}
	}
}

func TestReadStateIsForwardOnly(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, outgoing(1, "x", t0), SourcePush)

	readAt := t0.Add(time.Minute)
	assert.True(t, e.ApplyReadReceipt(gen, models.ReadReceipt{MessageID: 1, ReadAt: &readAt}))

	assert.False(t, e.ApplyStatus(gen, models.StatusUpdate{MessageID: 1, IsRead: false, Status: models.StatusSent}))

	unread := outgoing(1, "x", t0)
	_, _ = e.Receive(gen, unread, SourcePoll)
	require.NoError(t, e.ApplyHistory(gen, []models.Message{unread}, SourceHistory))

	msg, ok := e.Lookup(1)
	require.True(t, ok)
	assert.True(t, msg.IsRead)
	require.NotNil(t, msg.ReadAt)
	assert.True(t, msg.ReadAt.Equal(readAt))
	assert.Equal(t, models.StatusSeen, msg.Status)
}

func TestStatusUpdateNeverInserts(t *testing.T) {
	e, gen := newTestEngine(t)

	assert.False(t, e.ApplyStatus(gen, models.StatusUpdate{MessageID: 99, IsRead: true}))
	assert.False(t, e.ApplyReadReceipt(gen, models.ReadReceipt{MessageID: 99}))
	assert.Empty(t, e.Messages())
}

func TestStatusMovesForward(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, outgoing(1, "x", t0), SourcePush)

	deliveredAt := t0.Add(time.Second)
	assert.True(t, e.ApplyStatus(gen, models.StatusUpdate{MessageID: 1, DeliveredAt: &deliveredAt, Status: models.StatusDelivered}))
	assert.False(t, e.ApplyStatus(gen, models.StatusUpdate{MessageID: 1, Status: models.StatusSent}))

	msg, _ := e.Lookup(1)
	assert.Equal(t, models.StatusDelivered, msg.Status)
	require.NotNil(t, msg.DeliveredAt)
}

func TestDuplicateMergesEdit(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, incoming(1, "before", t0), SourcePush)

	edited := incoming(1, "after", t0)
	updatedAt := t0.Add(time.Minute)
	edited.UpdatedAt = &updatedAt

	outcome, err := e.Receive(gen, edited, SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, outcome)

	msg, _ := e.Lookup(1)
	assert.Equal(t, "after", msg.Content)

	outcome, _ = e.Receive(gen, edited, SourcePush)
	assert.Equal(t, OutcomeDuplicate, outcome)
}

func TestReceiveDropsOtherConversation(t *testing.T) {
	e, gen := newTestEngine(t)

	outcome, err := e.Receive(gen, models.Message{ID: 1, SenderID: 100, ReceiverID: selfID, Content: "x", CreatedAt: t0}, SourcePush)
	require.NoError(t, err)
	assert.Equal(t, OutcomeForeign, outcome)
	assert.Empty(t, e.Messages())
}

func TestReceiveInfersMessageType(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, incoming(1, "https://cdn.example.com/a/photo.PNG", t0), SourcePush)

	msg, _ := e.Lookup(1)
	assert.Equal(t, models.MessageTypeImage, msg.MessageType)
}

func TestOldHistoryDoesNotConsumeNewTemp(t *testing.T) {
	e, gen := newTestEngine(t)
	e.now = func() time.Time { return t0.Add(time.Hour) }

	_, err := e.BeginSend(gen, "ok", nil)
	require.NoError(t, err)

	require.NoError(t, e.ApplyHistory(gen, []models.Message{outgoing(1, "ok", t0)}, SourceHistory))
	assert.Equal(t, []string{"1", "t1"}, keys(e.Messages()))
}

func TestKnownHistoryRecordDoesNotConsumeRepeatedSend(t *testing.T) {
	e, gen := newTestEngine(t)
	_, err := e.Receive(gen, outgoing(1, "ok", t0), SourcePush)
	require.NoError(t, err)

	e.now = func() time.Time { return t0.Add(10 * time.Second) }
	temp, err := e.BeginSend(gen, "ok", nil)
	require.NoError(t, err)

	require.NoError(t, e.ApplyHistory(gen, []models.Message{outgoing(1, "ok", t0)}, SourcePoll))
	assert.Equal(t, []string{"1", "t1"}, keys(e.Messages()))
	assert.True(t, e.IsPending(gen, temp.TempID))

	// The echo of the second send still confirms it.
	outcome, err := e.Receive(gen, outgoing(2, "ok", t0.Add(11*time.Second)), SourcePush)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTempReplaced, outcome)
	assert.Equal(t, []string{"1", "2"}, keys(e.Messages()))
}

func TestConfirmSendLeavesOtherPendingCopies(t *testing.T) {
	e, gen := newTestEngine(t)
	first, err := e.BeginSend(gen, "ok", nil)
	require.NoError(t, err)
	_, err = e.BeginSend(gen, "ok", nil)
	require.NoError(t, err)

	outcome, err := e.ConfirmSend(gen, first.TempID, outgoing(1, "ok", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeTempReplaced, outcome)
	assert.Equal(t, []string{"t2", "1"}, keys(e.Messages()))
}

func TestHistoryReplacesConfirmedAndKeepsPending(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, incoming(1, "gone", t0), SourcePush)
	_, err := e.BeginSend(gen, "pending", nil)
	require.NoError(t, err)
	_, err = e.BeginSend(gen, "confirmed by history", nil)
	require.NoError(t, err)

	history := []models.Message{
		incoming(2, "kept", t0.Add(-time.Minute)),
		outgoing(3, "confirmed by history", t0.Add(time.Second)),
	}
	require.NoError(t, e.ApplyHistory(gen, history, SourceHistory))

	assert.Equal(t, []string{"2", "t1", "3"}, keys(e.Messages()))
}

func TestConversationSwitchDiscardsLateResults(t *testing.T) {
	e, genA := newTestEngine(t)
	temp, err := e.BeginSend(genA, "to A", nil)
	require.NoError(t, err)

	genB := e.Reset(10)
	assert.NotEqual(t, genA, genB)
	assert.False(t, e.IsCurrent(genA))

	err = e.ApplyHistory(genA, []models.Message{incoming(1, "from A", t0)}, SourceHistory)
	assert.ErrorIs(t, err, ErrStale)
	_, err = e.ConfirmSend(genA, temp.TempID, outgoing(2, "to A", t0))
	assert.ErrorIs(t, err, ErrStale)
	_, ok := e.FailSend(genA, temp.TempID)
	assert.False(t, ok)

	b := models.Message{ID: 3, SenderID: 10, ReceiverID: selfID, Content: "from B", CreatedAt: t0}
	require.NoError(t, e.ApplyHistory(genB, []models.Message{b}, SourceHistory))
	assert.Equal(t, []string{"3"}, keys(e.Messages()))
}

func TestClosedConversationRejectsMutations(t *testing.T) {
	e := NewEngine(selfID, nil)

	_, err := e.BeginSend(0, "x", nil)
	assert.ErrorIs(t, err, ErrNoConversation)

	gen := e.Reset(0)
	_, err = e.BeginSend(gen, "x", nil)
	assert.ErrorIs(t, err, ErrNoConversation)
}

func TestDispatch(t *testing.T) {
	e, gen := newTestEngine(t)

	require.NoError(t, e.Dispatch(gen, []byte(`{"type":"message","id":4,"sender_id":9,"receiver_id":7,"content":"yo","created_at":"2024-05-01T10:00:00Z"}`)))
	require.NoError(t, e.Dispatch(gen, []byte(`{"type":"typing","user_id":9,"is_typing":true}`)))
	assert.True(t, e.PeerTyping())

	require.NoError(t, e.Dispatch(gen, []byte(`{"type":"message_status_update","message_id":4,"is_read":true}`)))
	msg, ok := e.Lookup(4)
	require.True(t, ok)
	assert.True(t, msg.IsRead)

	require.NoError(t, e.Dispatch(gen, []byte(`{"type":"message_deleted","message_id":4}`)))
	assert.Empty(t, e.Messages())

	require.NoError(t, e.Dispatch(gen, []byte(`{"type":"heartbeat","timestamp":1}`)))
}

func TestDispatchDropsMalformed(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, incoming(1, "x", t0), SourcePush)

	for _, raw := range []string{`not json`, `{"type":"message","content":"no id"}`, `{"type":"wat"}`, `{}`} {
		err := e.Dispatch(gen, []byte(raw))
		assert.ErrorIs(t, err, models.ErrMalformedEvent, raw)
	}
	assert.Equal(t, []string{"1"}, keys(e.Messages()))
}

func TestMarkPeerMessagesRead(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, incoming(1, "a", t0), SourcePush)
	_, _ = e.Receive(gen, outgoing(2, "b", t0.Add(time.Second)), SourcePush)
	_, _ = e.Receive(gen, incoming(3, "c", t0.Add(2*time.Second)), SourcePush)

	ids, err := e.MarkPeerMessagesRead(gen)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	ids, err = e.MarkPeerMessagesRead(gen)
	require.NoError(t, err)
	assert.Empty(t, ids)

	mine, _ := e.Lookup(2)
	assert.False(t, mine.IsRead)
}

func TestEditAndRestore(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, outgoing(1, "first", t0), SourcePush)

	prev, err := e.ApplyEdit(gen, 1, "second")
	require.NoError(t, err)
	assert.Equal(t, "first", prev.Content)

	msg, _ := e.Lookup(1)
	assert.Equal(t, "second", msg.Content)
	assert.NotNil(t, msg.UpdatedAt)

	e.Restore(gen, prev)
	msg, _ = e.Lookup(1)
	assert.Equal(t, "first", msg.Content)
	assert.Nil(t, msg.UpdatedAt)

	_, err = e.ApplyEdit(gen, 99, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveAndRestore(t *testing.T) {
	e, gen := newTestEngine(t)
	_, _ = e.Receive(gen, outgoing(1, "a", t0), SourcePush)
	_, _ = e.Receive(gen, outgoing(2, "b", t0.Add(time.Second)), SourcePush)

	prev, err := e.Remove(gen, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, keys(e.Messages()))

	e.Restore(gen, prev)
	assert.Equal(t, []string{"1", "2"}, keys(e.Messages()))
}

func TestResolveKey(t *testing.T) {
	e, gen := newTestEngine(t)
	temp, err := e.BeginSend(gen, "x", nil)
	require.NoError(t, err)
	e.newTempID = func() string { return "temp-abc" }
	pending, err := e.BeginSend(gen, "y", nil)
	require.NoError(t, err)

	id, err := e.ResolveKey("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	_, err = e.ResolveKey(pending.TempID)
	assert.ErrorIs(t, err, ErrPendingMessage)

	_, err = e.ResolveKey(temp.TempID)
	assert.ErrorIs(t, err, ErrPendingMessage)

	_, err = e.ResolveKey("temp-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
