package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"chat-client/internal/observability"
	"chat-client/internal/telemetry"
)

const (
	appID       = "chat-client"
	dialTimeout = 5 * time.Second
)

// Publisher publishes client events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects to the broker and declares the topic exchange. Any
// failure yields a noop publisher so the client keeps working offline.
func NewPublisher(amqpURL, exchange string, logger *zap.Logger) Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if amqpURL == "" {
		logger.Info("rabbitmq disabled, using noop", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", logger: logger}
	}

	p, err := dial(amqpURL, exchange, logger)
	if err != nil {
		logger.Warn("rabbitmq disabled, using noop", zap.Error(err))
		return noopPublisher{reason: err.Error(), logger: logger}
	}
	logger.Info("rabbitmq connected", zap.String("exchange", exchange))
	return p
}

func dial(amqpURL, exchange string, logger *zap.Logger) (*amqpPublisher, error) {
	conn, err := amqp.DialConfig(amqpURL, amqp.Config{
		Dial:       amqp.DefaultDial(dialTimeout),
		Properties: amqp.Table{"connection_name": appID},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %q: %w", exchange, err)
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange, logger: logger}
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			logger.Warn("rabbitmq connection lost, events will be dropped", zap.String("reason", err.Reason))
		}
		p.lost.Store(true)
	}()
	return p, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
	lost     atomic.Bool
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	if p.lost.Load() {
		p.logger.Debug("rabbitmq publish skipped, connection lost", zap.String("routing_key", routingKey))
		return nil
	}
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		AppId:        appID,
		Type:         eventType(event),
		Timestamp:    time.Now(),
		Headers:      headersFor(event),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}

func eventType(event any) string {
	switch e := event.(type) {
	case telemetry.NoticeEnvelope:
		return e.EventType
	case observability.EventEnvelope:
		return e.EventType
	default:
		return ""
	}
}

func headersFor(event any) amqp.Table {
	headers := amqp.Table{}
	switch e := event.(type) {
	case observability.EventEnvelope:
		for key, value := range e.Headers {
			headers[key] = value
		}
	case telemetry.NoticeEnvelope:
		headers["level"] = e.Payload.Level
		if e.UserID != nil {
			headers["user_id"] = *e.UserID
		}
	}
	return headers
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	fields := []zap.Field{zap.String("routing_key", routingKey)}
	switch e := event.(type) {
	case telemetry.NoticeEnvelope:
		fields = append(fields, zap.String("event_type", e.EventType), zap.String("level", e.Payload.Level))
	case observability.EventEnvelope:
		fields = append(fields, zap.String("event_type", e.EventType), zap.String("event_name", e.EventName))
	}
	p.logger.Debug("rabbitmq noop publish", fields...)
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason reports why events are not sent to a broker.
func PublisherNoopReason(p Publisher) string {
	if n, ok := p.(noopPublisher); ok {
		return n.reason
	}
	return ""
}
