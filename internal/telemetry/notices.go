// Package telemetry surfaces transient, user-facing notices such as send
// failures or edit confirmations.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	LevelError   = "ERROR"
	LevelSuccess = "SUCCESS"
	LevelInfo    = "INFO"
)

const maxNotices = 50

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Notice is a message shown to the user until it expires.
type Notice struct {
	ID         string    `json:"id"`
	Level      string    `json:"level"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type NoticeEnvelope struct {
	SchemaVersion int           `json:"schema_version"`
	EventType     string        `json:"event_type"`
	OccurredAt    string        `json:"occurred_at"`
	Service       string        `json:"service"`
	Environment   string        `json:"environment"`
	UserID        *int64        `json:"user_id,omitempty"`
	Payload       NoticePayload `json:"payload"`
}

type NoticePayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// Notifier keeps recent notices for display and forwards them to the publisher.
type Notifier struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	userID  *int64
	notices []Notice
}

func NewNotifier(publisher Publisher, routingKey, service, environment string, ttl time.Duration, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
	}
}

// SetUser tags later envelopes with the session user.
func (n *Notifier) SetUser(userID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userID = &userID
}

func (n *Notifier) Error(ctx context.Context, text string) {
	n.Emit(ctx, LevelError, text)
}

func (n *Notifier) Success(ctx context.Context, text string) {
	n.Emit(ctx, LevelSuccess, text)
}

func (n *Notifier) Info(ctx context.Context, text string) {
	n.Emit(ctx, LevelInfo, text)
}

func (n *Notifier) Emit(ctx context.Context, level, text string) {
	if n == nil {
		return
	}

	now := n.now()
	notice := Notice{
		ID:         uuid.NewString(),
		Level:      level,
		Text:       text,
		OccurredAt: now,
		ExpiresAt:  now.Add(n.ttl),
	}

	n.mu.Lock()
	n.notices = append(n.notices, notice)
	if len(n.notices) > maxNotices {
		n.notices = n.notices[len(n.notices)-maxNotices:]
	}
	userID := n.userID
	n.mu.Unlock()

	n.logger.Info("notice", zap.String("level", level), zap.String("text", text))
	if n.publisher == nil {
		return
	}

	envelope := NoticeEnvelope{
		SchemaVersion: 1,
		EventType:     "client_notice",
		OccurredAt:    now.UTC().Format(time.RFC3339Nano),
		Service:       n.service,
		Environment:   n.environment,
		UserID:        userID,
		Payload: NoticePayload{
			Level: level,
			Text:  text,
		},
	}
	if err := n.publisher.Publish(ctx, n.routingKey, envelope); err != nil {
		n.logger.Warn("notice publish failed", zap.Error(err))
	}
}

// Active returns the notices that have not expired yet, oldest first.
func (n *Notifier) Active() []Notice {
	if n == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	kept := n.notices[:0]
	for _, notice := range n.notices {
		if now.Before(notice.ExpiresAt) {
			kept = append(kept, notice)
		}
	}
	n.notices = kept

	out := make([]Notice, len(kept))
	copy(out, kept)
	return out
}
