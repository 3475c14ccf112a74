// Package reconcile keeps the message store of the open conversation
// consistent across optimistic sends, channel pushes and history fetches.
package reconcile

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/store"
)

const tempPrefix = "temp-"

// DefaultClockSkew bounds how much later than its confirmation a temp record
// may have been created and still be matched to it.
const DefaultClockSkew = 2 * time.Minute

var (
	ErrPendingMessage = errors.New("wait for message to send")
	ErrStale          = errors.New("conversation changed")
	ErrNoConversation = errors.New("no conversation open")
	ErrNotFound       = errors.New("message not found")
	ErrEmptyContent   = errors.New("message content is empty")
)

// Outcome describes what applying a record did to the store.
type Outcome string

const (
	OutcomeInserted     Outcome = "inserted"
	OutcomeTempReplaced Outcome = "temp_replaced"
	OutcomeMerged       Outcome = "merged"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeForeign      Outcome = "foreign"
	OutcomeStale        Outcome = "stale"
)

// Sources used for metrics and logs.
const (
	SourcePush    = "push"
	SourceSend    = "send"
	SourceHistory = "history"
	SourcePoll    = "poll"
)

// Engine is the only writer of the conversation store. Every mutating call
// carries the generation returned by Reset; calls for an older generation are
// discarded.
type Engine struct {
	mu         sync.Mutex
	store      *store.Store
	selfID     int64
	gen        uint64
	open       bool
	peerTyping bool
	clockSkew  time.Duration
	logger     *zap.Logger

	now       func() time.Time
	newTempID func() string
}

// NewEngine builds an engine for the session user selfID.
func NewEngine(selfID int64, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store.New(),
		selfID:    selfID,
		clockSkew: DefaultClockSkew,
		logger:    logger,
		now:       time.Now,
		newTempID: func() string { return tempPrefix + uuid.NewString() },
	}
}

// SelfID returns the session user.
func (e *Engine) SelfID() int64 {
	return e.selfID
}

// Reset clears the store for friendID and starts a new generation.
func (e *Engine) Reset(friendID int64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	e.open = friendID != 0
	e.peerTyping = false
	e.store.Reset(friendID)
	return e.gen
}

// IsCurrent reports whether gen is still the active generation.
func (e *Engine) IsCurrent(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open && gen == e.gen
}

// Messages returns the store contents in render order.
func (e *Engine) Messages() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Snapshot()
}

// Lookup returns the confirmed record with id.
func (e *Engine) Lookup(id int64) (models.Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Get(id)
}

// PeerTyping reports the last typing state pushed by the friend.
func (e *Engine) PeerTyping() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peerTyping
}

// ResolveKey maps a rendered record key to a confirmed id. Keys of temp
// records yield ErrPendingMessage.
func (e *Engine) ResolveKey(key string) (int64, error) {
	e.mu.Lock()
	_, pending := e.store.GetTemp(key)
	e.mu.Unlock()
	if pending {
		return 0, ErrPendingMessage
	}
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return id, nil
}

// BeginSend inserts the optimistic record for an outgoing message. Content is
// trimmed the way the server stores it.
func (e *Engine) BeginSend(gen uint64, content string, replyToID *int64) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, ErrEmptyContent
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(gen); err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		TempID:      e.newTempID(),
		SenderID:    e.selfID,
		ReceiverID:  e.store.FriendID(),
		Content:     content,
		MessageType: models.InferMessageType("", content),
		CreatedAt:   e.now(),
		ReplyToID:   replyToID,
		IsTemp:      true,
	}
	if replyToID != nil {
		if target, ok := e.store.Get(*replyToID); ok {
			msg.ReplyTo = preview(target)
		}
	}
	e.store.Insert(msg)
	return msg, nil
}

// ConfirmSend replaces the temp record with the server's record.
func (e *Engine) ConfirmSend(gen uint64, tempID string, confirmed models.Message) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(gen); err != nil {
		observability.IncReconcile(SourceSend, string(OutcomeStale))
		return OutcomeStale, err
	}

	_, hadTemp := e.store.RemoveTemp(tempID)
	outcome := e.receiveLocked(confirmed, !hadTemp)
	if hadTemp && outcome == OutcomeInserted {
		outcome = OutcomeTempReplaced
	}
	observability.IncReconcile(SourceSend, string(outcome))
	return outcome, nil
}

// IsPending reports whether the temp record tempID is still awaiting confirmation.
func (e *Engine) IsPending(gen uint64, tempID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkLocked(gen) != nil {
		return false
	}
	_, ok := e.store.GetTemp(tempID)
	return ok
}

// FailSend rolls back the temp record and returns its content so the caller
// can restore the input.
func (e *Engine) FailSend(gen uint64, tempID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkLocked(gen) != nil {
		return "", false
	}
	msg, ok := e.store.RemoveTemp(tempID)
	return msg.Content, ok
}

// Receive applies a confirmed record pushed by the channel or returned by a poll.
func (e *Engine) Receive(gen uint64, msg models.Message, source string) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(gen); err != nil {
		observability.IncReconcile(source, string(OutcomeStale))
		return OutcomeStale, err
	}
	outcome := e.receiveLocked(msg, true)
	observability.IncReconcile(source, string(outcome))
	return outcome, nil
}

// ApplyHistory replaces every confirmed record with msgs. Temp records stay
// unless one of msgs confirms them; read and delivery state already known
// for a record is kept.
func (e *Engine) ApplyHistory(gen uint64, msgs []models.Message, source string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(gen); err != nil {
		observability.IncReconcile(source, string(OutcomeStale))
		return err
	}

	prior := make(map[int64]models.Message)
	for _, m := range e.store.Snapshot() {
		if !m.IsTemp {
			prior[m.ID] = m
		}
	}
	e.store.RemoveConfirmed()
	for _, msg := range msgs {
		old, known := prior[msg.ID]
		if known {
			mergeState(&msg, old.IsRead, old.ReadAt, old.DeliveredAt, old.Status)
		}
		// A record already in the store confirmed its temp earlier.
		outcome := e.receiveLocked(msg, !known)
		if outcome != OutcomeInserted {
			observability.IncReconcile(source, string(outcome))
		}
	}
	observability.IncReconcile(source, "applied")
	return nil
}

// ApplyReadReceipt marks a message read. It never inserts a record.
func (e *Engine) ApplyReadReceipt(gen uint64, r models.ReadReceipt) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkLocked(gen) != nil {
		return false
	}
	readAt := r.ReadAt
	if readAt == nil {
		now := e.now()
		readAt = &now
	}
	changed := false
	e.store.Update(r.MessageID, func(m *models.Message) {
		changed = markRead(m, readAt)
		if models.StatusSeen.After(m.Status) {
			m.Status = models.StatusSeen
			changed = true
		}
	})
	return changed
}

// ApplyStatus applies a delivery-state update. Fields only move forward.
func (e *Engine) ApplyStatus(gen uint64, s models.StatusUpdate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkLocked(gen) != nil {
		return false
	}
	changed := false
	e.store.Update(s.MessageID, func(m *models.Message) {
		changed = mergeState(m, s.IsRead, s.ReadAt, s.DeliveredAt, s.Status)
	})
	return changed
}

// ApplyDeleted removes a record deleted on the server.
func (e *Engine) ApplyDeleted(gen uint64, id int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkLocked(gen) != nil {
		return false
	}
	_, ok := e.store.Remove(id)
	return ok
}

// ApplyTyping records the friend's typing state.
func (e *Engine) ApplyTyping(gen uint64, t models.TypingEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkLocked(gen) != nil {
		return
	}
	if t.UserID != 0 && t.UserID == e.selfID {
		return
	}
	e.peerTyping = t.IsTyping
}

// ClearTyping resets the friend's typing state, e.g. when the channel closes.
func (e *Engine) ClearTyping(gen uint64) {
	e.ApplyTyping(gen, models.TypingEvent{})
}

// Dispatch decodes a channel frame and applies it. Malformed frames are
// dropped and reported.
func (e *Engine) Dispatch(gen uint64, data []byte) error {
	ev, err := models.DecodeEvent(data)
	if err != nil {
		observability.IncReconcile(SourcePush, "malformed")
		e.logger.Warn("dropping channel event", zap.Error(err), zap.Int("size", len(data)))
		return err
	}

	switch ev.Type {
	case models.EventMessage:
		_, err = e.Receive(gen, *ev.Message, SourcePush)
	case models.EventReadReceipt:
		e.ApplyReadReceipt(gen, *ev.Receipt)
	case models.EventStatusUpdate:
		e.ApplyStatus(gen, *ev.Status)
	case models.EventTyping:
		e.ApplyTyping(gen, *ev.Typing)
	case models.EventMessageDelete:
		e.ApplyDeleted(gen, ev.Deleted.MessageID)
	}
	return err
}

// MarkPeerMessagesRead marks every unread confirmed message from the friend
// as read and returns their ids in order.
func (e *Engine) MarkPeerMessagesRead(gen uint64) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(gen); err != nil {
		return nil, err
	}

	now := e.now()
	friendID := e.store.FriendID()
	var ids []int64
	for _, m := range e.store.Snapshot() {
		if m.IsTemp || m.IsRead || m.SenderID != friendID {
			continue
		}
		e.store.Update(m.ID, func(m *models.Message) { markRead(m, &now) })
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ApplyEdit sets new content on a confirmed record and returns the previous
// version for rollback.
func (e *Engine) ApplyEdit(gen uint64, id int64, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(gen); err != nil {
		return models.Message{}, err
	}
	prev, ok := e.store.Get(id)
	if !ok {
		return models.Message{}, ErrNotFound
	}
	now := e.now()
	e.store.Update(id, func(m *models.Message) {
		m.Content = content
		m.MessageType = models.InferMessageType("", content)
		m.UpdatedAt = &now
	})
	return prev, nil
}

// Remove drops a confirmed record locally and returns it for rollback.
func (e *Engine) Remove(gen uint64, id int64) (models.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(gen); err != nil {
		return models.Message{}, err
	}
	msg, ok := e.store.Remove(id)
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return msg, nil
}

// Restore puts back a version saved by ApplyEdit or Remove. Read state that
// advanced meanwhile is kept.
func (e *Engine) Restore(gen uint64, prev models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checkLocked(gen) != nil {
		return
	}
	if !e.store.Update(prev.ID, func(m *models.Message) {
		m.Content = prev.Content
		m.MessageType = prev.MessageType
		m.UpdatedAt = prev.UpdatedAt
	}) {
		e.store.Insert(prev)
	}
}

func (e *Engine) checkLocked(gen uint64) error {
	if !e.open {
		return ErrNoConversation
	}
	if gen != e.gen {
		return ErrStale
	}
	return nil
}

// receiveLocked inserts or merges msg. When matchPending is set, a pending
// temp record with the same sender and content is taken as confirmed by it.
func (e *Engine) receiveLocked(msg models.Message, matchPending bool) Outcome {
	msg.IsTemp = false
	msg.TempID = ""
	msg.MessageType = models.InferMessageType(msg.MessageType, msg.Content)

	friendID := e.store.FriendID()
	if !msg.Participants(e.selfID, friendID) {
		e.logger.Debug("dropping message for another conversation",
			zap.Int64("message_id", msg.ID), zap.Int64("friend_id", friendID))
		return OutcomeForeign
	}

	if e.store.Contains(msg.ID) {
		changed := false
		e.store.Update(msg.ID, func(m *models.Message) { changed = mergeConfirmed(m, msg) })
		if changed {
			return OutcomeMerged
		}
		return OutcomeDuplicate
	}

	if msg.ReplyTo == nil && msg.ReplyToID != nil {
		if target, ok := e.store.Get(*msg.ReplyToID); ok {
			msg.ReplyTo = preview(target)
		}
	}

	replaced := false
	if matchPending {
		var latest time.Time
		if !msg.CreatedAt.IsZero() {
			latest = msg.CreatedAt.Add(e.clockSkew)
		}
		_, replaced = e.store.TakePendingByContent(msg.SenderID, msg.Content, latest)
	}
	e.store.Insert(msg)
	if replaced {
		return OutcomeTempReplaced
	}
	return OutcomeInserted
}

// mergeConfirmed folds a second delivery of the same message into m.
func mergeConfirmed(m *models.Message, in models.Message) bool {
	changed := false
	if in.UpdatedAt != nil && (m.UpdatedAt == nil || in.UpdatedAt.After(*m.UpdatedAt)) {
		m.Content = in.Content
		m.MessageType = in.MessageType
		m.UpdatedAt = in.UpdatedAt
		changed = true
	}
	if m.ReplyTo == nil && in.ReplyTo != nil {
		m.ReplyTo = in.ReplyTo
		changed = true
	}
	if m.SenderUsername == "" && in.SenderUsername != "" {
		m.SenderUsername = in.SenderUsername
		changed = true
	}
	if mergeState(m, in.IsRead, in.ReadAt, in.DeliveredAt, in.Status) {
		changed = true
	}
	return changed
}

func mergeState(m *models.Message, isRead bool, readAt, deliveredAt *time.Time, status models.DeliveryStatus) bool {
	changed := false
	if isRead && markRead(m, readAt) {
		changed = true
	}
	if readAt != nil && m.IsRead && m.ReadAt == nil {
		m.ReadAt = readAt
		changed = true
	}
	if deliveredAt != nil && m.DeliveredAt == nil {
		m.DeliveredAt = deliveredAt
		changed = true
	}
	if status.After(m.Status) {
		m.Status = status
		changed = true
	}
	return changed
}

func markRead(m *models.Message, readAt *time.Time) bool {
	changed := false
	if !m.IsRead {
		m.IsRead = true
		changed = true
	}
	if m.ReadAt == nil && readAt != nil {
		at := *readAt
		m.ReadAt = &at
		changed = true
	}
	return changed
}

func preview(m models.Message) *models.ReplyPreview {
	return &models.ReplyPreview{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		Content:        m.Content,
		MessageType:    m.MessageType,
	}
}
