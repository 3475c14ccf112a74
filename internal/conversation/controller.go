// Package conversation owns the active private conversation: it wires the
// channel, the fallback client and the reconciliation engine together.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-client/internal/api"
	"chat-client/internal/models"
	"chat-client/internal/reconcile"
	"chat-client/internal/ws"
)

// Backend is the request/response path to the chat server.
type Backend interface {
	History(ctx context.Context, friendID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, friendID int64, req models.SendRequest) (models.Message, error)
	EditMessage(ctx context.Context, id int64, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, id int64) error
	UnsendMessage(ctx context.Context, id int64) (models.Message, error)
	MarkRead(ctx context.Context, ids []int64) error
}

// Channel is the real-time connection of one conversation.
type Channel interface {
	Connect(ctx context.Context)
	Send(v any) bool
	Connected() bool
	Close()
}

// ChannelFactory opens the channel for friendID.
type ChannelFactory func(friendID int64, cb ws.Callbacks) (Channel, error)

// Notices receives transient user-facing notifications.
type Notices interface {
	Error(ctx context.Context, text string)
	Success(ctx context.Context, text string)
	Info(ctx context.Context, text string)
}

// SendError is returned when a message could not be sent. Content holds the
// original input so it can be restored for a retry.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Options tunes controller timings.
type Options struct {
	PollInterval   time.Duration
	RequestTimeout time.Duration
	ConfirmTimeout time.Duration
	TypingIdle     time.Duration
	TypingEvery    time.Duration
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 10 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 3 * time.Second
	}
	if o.TypingEvery <= 0 {
		o.TypingEvery = 2 * time.Second
	}
}

// Status is a snapshot of the controller state.
type Status struct {
	FriendID   int64 `json:"friend_id"`
	Open       bool  `json:"open"`
	Connected  bool  `json:"connected"`
	Degraded   bool  `json:"degraded"`
	Polling    bool  `json:"polling"`
	PeerTyping bool  `json:"peer_typing"`
	Messages   int   `json:"messages"`
	Pending    int   `json:"pending"`
}

// Controller drives one conversation at a time. Opening another conversation
// tears down everything tied to the previous one.
type Controller struct {
	engine  *reconcile.Engine
	backend Backend
	dial    ChannelFactory
	notices Notices
	logger  *zap.Logger
	opts    Options

	mu         sync.Mutex
	friendID   int64
	gen        uint64
	channel    Channel
	convCtx    context.Context
	cancel     context.CancelFunc
	degraded   bool
	pollCancel context.CancelFunc
	fetchSeq   uint64
	typing     typingState
}

// NewController builds a controller for the session user of engine.
func NewController(engine *reconcile.Engine, backend Backend, dial ChannelFactory, notices Notices, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.defaults()
	return &Controller{
		engine:  engine,
		backend: backend,
		dial:    dial,
		notices: notices,
		logger:  logger,
		opts:    opts,
		typing:  typingState{limiter: rate.NewLimiter(rate.Every(opts.TypingEvery), 1)},
	}
}

// Open switches to the conversation with friendID and loads its history.
// Work still in flight for the previous conversation is cancelled and its
// results discarded.
func (c *Controller) Open(ctx context.Context, friendID int64) error {
	if friendID <= 0 {
		return fmt.Errorf("invalid friend id %d", friendID)
	}

	c.mu.Lock()
	c.teardownLocked()
	gen := c.engine.Reset(friendID)
	convCtx, cancel := context.WithCancel(context.Background())
	c.friendID, c.gen = friendID, gen
	c.convCtx, c.cancel = convCtx, cancel

	var ch Channel
	if c.dial != nil {
		var err error
		ch, err = c.dial(friendID, c.callbacks(gen))
		if err != nil {
			c.logger.Warn("channel unavailable", zap.Int64("friend_id", friendID), zap.Error(err))
			ch = nil
		}
	}
	c.channel = ch
	if ch == nil {
		c.enterDegradedLocked(gen)
	}
	c.mu.Unlock()

	c.logger.Info("conversation opened", zap.Int64("friend_id", friendID), zap.Uint64("generation", gen))
	if ch != nil {
		ch.Connect(convCtx)
	}

	reqCtx, cancelReq := c.requestContext(ctx, convCtx)
	defer cancelReq()
	if err := c.refresh(reqCtx, gen, reconcile.SourceHistory); err != nil {
		if errors.Is(err, reconcile.ErrStale) || errors.Is(err, context.Canceled) {
			return nil
		}
		c.notices.Error(ctx, "Failed to load messages: "+describe(err))
		return err
	}
	return nil
}

// Close tears down the active conversation.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.gen = c.engine.Reset(0)
	c.friendID = 0
}

// FriendID returns the active conversation, or 0.
func (c *Controller) FriendID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.friendID
}

// Messages returns the store contents in render order.
func (c *Controller) Messages() []models.Message {
	return c.engine.Messages()
}

// SelfID returns the session user.
func (c *Controller) SelfID() int64 {
	return c.engine.SelfID()
}

// Status reports connection and store state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		FriendID: c.friendID,
		Open:     c.friendID != 0,
		Degraded: c.degraded,
		Polling:  c.pollCancel != nil,
	}
	if c.channel != nil {
		st.Connected = c.channel.Connected()
	}
	c.mu.Unlock()

	msgs := c.engine.Messages()
	st.Messages = len(msgs)
	for _, m := range msgs {
		if m.IsTemp {
			st.Pending++
		}
	}
	st.PeerTyping = c.engine.PeerTyping()
	return st
}

// Send posts content to the active conversation. The channel is tried first;
// when it is unavailable the fallback client is used. On failure the temp
// record is rolled back and a *SendError carries the original content.
func (c *Controller) Send(ctx context.Context, content string, replyToID *int64) (models.Message, error) {
	gen, friendID, ch, convCtx, err := c.current()
	if err != nil {
		return models.Message{}, err
	}

	temp, err := c.engine.BeginSend(gen, content, replyToID)
	if err != nil {
		return models.Message{}, err
	}
	c.stopTyping(ch)

	frame := models.OutgoingMessage{
		Type:        models.EventMessage,
		Content:     temp.Content,
		MessageType: temp.MessageType,
		ReplyToID:   replyToID,
	}
	if ch != nil && ch.Send(frame) {
		c.watchPending(convCtx, gen, temp)
		return temp, nil
	}

	reqCtx, cancel := c.requestContext(ctx, convCtx)
	defer cancel()
	confirmed, err := c.backend.SendMessage(reqCtx, friendID, models.SendRequest{
		Content:     temp.Content,
		MessageType: temp.MessageType,
		ReplyToID:   replyToID,
	})
	if err != nil {
		c.engine.FailSend(gen, temp.TempID)
		c.logger.Warn("send failed", zap.Int64("friend_id", friendID), zap.Error(err))
		c.notices.Error(ctx, "Failed to send message: "+describe(err))
		return models.Message{}, &SendError{Content: content, Err: err}
	}

	if _, err := c.engine.ConfirmSend(gen, temp.TempID, confirmed); err != nil {
		return confirmed, err
	}
	return confirmed, nil
}

// watchPending checks a message sent over the channel after ConfirmTimeout.
// If its echo never arrived, history is reloaded; a record still pending
// after that is rolled back and reported with its content.
func (c *Controller) watchPending(convCtx context.Context, gen uint64, temp models.Message) {
	time.AfterFunc(c.opts.ConfirmTimeout, func() {
		if convCtx.Err() != nil || !c.engine.IsPending(gen, temp.TempID) {
			return
		}
		reqCtx, cancel := context.WithTimeout(convCtx, c.opts.RequestTimeout)
		defer cancel()
		if err := c.refresh(reqCtx, gen, reconcile.SourcePoll); err != nil {
			c.logger.Debug("confirmation reload failed", zap.Error(err))
		}
		if content, ok := c.engine.FailSend(gen, temp.TempID); ok {
			c.logger.Warn("message not confirmed", zap.String("temp_id", temp.TempID))
			c.notices.Error(convCtx, "Message was not delivered: "+content)
		}
	})
}

// Edit replaces the content of the message identified by key.
func (c *Controller) Edit(ctx context.Context, key, content string) (models.Message, error) {
	gen, _, _, convCtx, err := c.current()
	if err != nil {
		return models.Message{}, err
	}
	id, err := c.resolve(ctx, key)
	if err != nil {
		return models.Message{}, err
	}

	prev, err := c.engine.ApplyEdit(gen, id, content)
	if err != nil {
		return models.Message{}, err
	}

	reqCtx, cancel := c.requestContext(ctx, convCtx)
	defer cancel()
	updated, err := c.backend.EditMessage(reqCtx, id, content)
	if err != nil {
		c.engine.Restore(gen, prev)
		c.notices.Error(ctx, "Failed to edit message: "+describe(err))
		return models.Message{}, err
	}
	if updated.ID == id {
		_, _ = c.engine.Receive(gen, updated, reconcile.SourceSend)
	}
	c.notices.Success(ctx, "Message edited")
	msg, _ := c.engine.Lookup(id)
	return msg, nil
}

// Delete removes the message identified by key for the session user.
func (c *Controller) Delete(ctx context.Context, key string) error {
	gen, _, _, convCtx, err := c.current()
	if err != nil {
		return err
	}
	id, err := c.resolve(ctx, key)
	if err != nil {
		return err
	}

	prev, err := c.engine.Remove(gen, id)
	if err != nil {
		return err
	}

	reqCtx, cancel := c.requestContext(ctx, convCtx)
	defer cancel()
	if err := c.backend.DeleteMessage(reqCtx, id); err != nil {
		c.engine.Restore(gen, prev)
		c.notices.Error(ctx, "Failed to delete message: "+describe(err))
		return err
	}
	c.notices.Success(ctx, "Message deleted")
	return nil
}

// Unsend retracts the message identified by key for both participants.
func (c *Controller) Unsend(ctx context.Context, key string) (models.Message, error) {
	gen, _, _, convCtx, err := c.current()
	if err != nil {
		return models.Message{}, err
	}
	id, err := c.resolve(ctx, key)
	if err != nil {
		return models.Message{}, err
	}
	if _, ok := c.engine.Lookup(id); !ok {
		return models.Message{}, reconcile.ErrNotFound
	}

	reqCtx, cancel := c.requestContext(ctx, convCtx)
	defer cancel()
	retracted, err := c.backend.UnsendMessage(reqCtx, id)
	if err != nil {
		c.notices.Error(ctx, "Failed to unsend message: "+describe(err))
		return models.Message{}, err
	}
	if retracted.ID == id {
		_, _ = c.engine.Receive(gen, retracted, reconcile.SourceSend)
	}
	c.notices.Success(ctx, "Message unsent")
	msg, _ := c.engine.Lookup(id)
	return msg, nil
}

// MarkRead marks the friend's unread messages read and notifies the server
// over the channel, or over the fallback client when the channel is down.
func (c *Controller) MarkRead(ctx context.Context) ([]int64, error) {
	gen, _, ch, convCtx, err := c.current()
	if err != nil {
		return nil, err
	}
	ids, err := c.engine.MarkPeerMessagesRead(gen)
	if err != nil || len(ids) == 0 {
		return ids, err
	}

	var remaining []int64
	for i, id := range ids {
		if ch == nil || !ch.Send(models.OutgoingRead{Type: models.FrameRead, MessageID: id}) {
			remaining = ids[i:]
			break
		}
	}
	if len(remaining) == 0 {
		return ids, nil
	}

	reqCtx, cancel := c.requestContext(ctx, convCtx)
	defer cancel()
	if err := c.backend.MarkRead(reqCtx, remaining); err != nil {
		// Local read state is forward-only; the next history load reconciles it.
		c.logger.Warn("mark read failed", zap.Int("count", len(remaining)), zap.Error(err))
		return ids, err
	}
	return ids, nil
}

func (c *Controller) current() (uint64, int64, Channel, context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.friendID == 0 {
		return 0, 0, nil, nil, reconcile.ErrNoConversation
	}
	return c.gen, c.friendID, c.channel, c.convCtx, nil
}

func (c *Controller) resolve(ctx context.Context, key string) (int64, error) {
	id, err := c.engine.ResolveKey(key)
	if errors.Is(err, reconcile.ErrPendingMessage) {
		c.notices.Info(ctx, "Please wait for the message to send")
	}
	return id, err
}

// refresh loads history and applies it only if no newer load was issued for
// the same conversation in the meantime.
func (c *Controller) refresh(ctx context.Context, gen uint64, source string) error {
	c.mu.Lock()
	if gen != c.gen || c.friendID == 0 {
		c.mu.Unlock()
		return reconcile.ErrStale
	}
	c.fetchSeq++
	seq, friendID := c.fetchSeq, c.friendID
	c.mu.Unlock()

	msgs, err := c.backend.History(ctx, friendID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || seq != c.fetchSeq {
		c.logger.Debug("discarding superseded history", zap.String("source", source), zap.Uint64("seq", seq))
		return reconcile.ErrStale
	}
	if err != nil {
		return err
	}
	return c.engine.ApplyHistory(gen, msgs, source)
}

func (c *Controller) requestContext(ctx, convCtx context.Context) (context.Context, context.CancelFunc) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	stop := context.AfterFunc(convCtx, cancel)
	return reqCtx, func() {
		stop()
		cancel()
	}
}

func (c *Controller) teardownLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	c.pollCancel = nil
	c.degraded = false
	c.typing.reset()
}

func (c *Controller) callbacks(gen uint64) ws.Callbacks {
	return ws.Callbacks{
		OnOpen: func() {
			c.onChannelOpen(gen)
		},
		OnMessage: func(data []byte) {
			_ = c.engine.Dispatch(gen, data)
		},
		OnClose: func(code int, reason string) {
			c.engine.ClearTyping(gen)
		},
		OnError: func(err error) {
			c.logger.Debug("channel error", zap.Error(err))
		},
		OnReconnect: func(attempt int) {
			c.logger.Info("channel reconnecting", zap.Int("attempt", attempt))
		},
		OnGiveUp: func(err error) {
			c.logger.Warn("channel stopped, switching to polling", zap.Int64("friend_id", c.FriendID()), zap.Error(err))
			c.mu.Lock()
			defer c.mu.Unlock()
			if gen != c.gen {
				return
			}
			c.enterDegradedLocked(gen)
		},
	}
}

// onChannelOpen leaves degraded mode and reloads history, since the channel
// does not replay messages missed while disconnected.
func (c *Controller) onChannelOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	wasDegraded := c.degraded
	c.degraded = false
	c.stopPollerLocked()
	convCtx := c.convCtx
	c.mu.Unlock()

	if wasDegraded {
		c.notices.Success(convCtx, "Real-time connection restored")
	}
	go func() {
		reqCtx, cancel := context.WithTimeout(convCtx, c.opts.RequestTimeout)
		defer cancel()
		if err := c.refresh(reqCtx, gen, reconcile.SourceHistory); err != nil && !errors.Is(err, reconcile.ErrStale) && reqCtx.Err() == nil {
			c.logger.Warn("history reload failed", zap.Error(err))
		}
	}()
}

func (c *Controller) enterDegradedLocked(gen uint64) {
	if c.degraded {
		return
	}
	c.degraded = true
	c.notices.Error(c.convCtx, "Real-time connection unavailable, checking for new messages periodically")
	c.startPollerLocked(gen)
}

func describe(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}
	return err.Error()
}
