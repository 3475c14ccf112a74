package observability

import (
	"context"
	"time"
)

// Routing keys for client lifecycle events.
const (
	RoutingKeyWSEvents = "ws_events.chats"
	RoutingKeyNotices  = "notices.chats"
)

type EventEnvelope struct {
	EventType  string            `json:"event_type"`
	EventName  string            `json:"event_name"`
	OccurredAt string            `json:"occurred_at"`
	Headers    map[string]string `json:"headers,omitempty"`
	Payload    interface{}       `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// WSEvent describes a channel lifecycle transition for one conversation.
type WSEvent struct {
	Event      string
	FriendID   int64
	UserID     int64
	ConnID     string
	Attempt    int
	DurationMS int64
	Reason     string
	TraceID    string
}

// PublishWSEvent counts the event and forwards it to the event publisher.
func PublishWSEvent(ctx context.Context, ev WSEvent) {
	IncWSEvent(ev.Event)
	_ = PublishEvent(ctx, RoutingKeyWSEvents, EventEnvelope{
		EventType:  "ws_events",
		EventName:  ev.Event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "private",
				"resource_id": ev.FriendID,
				"event":       ev.Event,
				"conn_id":     ev.ConnID,
				"attempt":     ev.Attempt,
				"duration_ms": ev.DurationMS,
				"reason":      ev.Reason,
			},
			"identity": map[string]interface{}{
				"user_id": ev.UserID,
			},
		},
	}, BuildHeaders("", ev.TraceID))
}
