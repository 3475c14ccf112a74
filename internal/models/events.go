package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event types pushed by the server over the private chat channel.
const (
	EventMessage       = "message"
	EventReadReceipt   = "read_receipt"
	EventTyping        = "typing"
	EventStatusUpdate  = "message_status_update"
	EventMessageDelete = "message_deleted"
	EventHeartbeat     = "heartbeat"
)

// FrameRead is the outgoing frame type acknowledging a message as read.
const FrameRead = "read"

// ErrMalformedEvent is returned for payloads that cannot be applied.
var ErrMalformedEvent = errors.New("malformed event")

// ChatEvent is a decoded channel event. Exactly one of the payload fields is
// set, according to Type.
type ChatEvent struct {
	Type    string
	Message *Message
	Receipt *ReadReceipt
	Status  *StatusUpdate
	Typing  *TypingEvent
	Deleted *DeletedEvent
}

// ReadReceipt marks a message read by its receiver.
type ReadReceipt struct {
	MessageID int64      `json:"message_id"`
	ReaderID  int64      `json:"read_by,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

// StatusUpdate carries delivery-state changes for a message.
type StatusUpdate struct {
	MessageID   int64          `json:"message_id"`
	IsRead      bool           `json:"is_read"`
	ReadAt      *time.Time     `json:"read_at,omitempty"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
	Status      DeliveryStatus `json:"status,omitempty"`
}

// TypingEvent reports whether the peer is typing.
type TypingEvent struct {
	UserID   int64 `json:"user_id,omitempty"`
	IsTyping bool  `json:"is_typing"`
}

// DeletedEvent reports a message removed on the server.
type DeletedEvent struct {
	MessageID int64 `json:"message_id"`
}

// DecodeEvent parses a raw channel frame.
func DecodeEvent(data []byte) (ChatEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ChatEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := ChatEvent{Type: head.Type}
	switch head.Type {
	case EventMessage:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return ev, fmt.Errorf("%w: message: %v", ErrMalformedEvent, err)
		}
		if msg.ID == 0 || msg.SenderID == 0 {
			return ev, fmt.Errorf("%w: message without id or sender", ErrMalformedEvent)
		}
		msg.IsTemp = false
		msg.TempID = ""
		msg.MessageType = InferMessageType(msg.MessageType, msg.Content)
		ev.Message = &msg
	case EventReadReceipt:
		var r ReadReceipt
		if err := json.Unmarshal(data, &r); err != nil || r.MessageID == 0 {
			return ev, fmt.Errorf("%w: read receipt", ErrMalformedEvent)
		}
		ev.Receipt = &r
	case EventStatusUpdate:
		var s StatusUpdate
		if err := json.Unmarshal(data, &s); err != nil || s.MessageID == 0 {
			return ev, fmt.Errorf("%w: status update", ErrMalformedEvent)
		}
		ev.Status = &s
	case EventTyping:
		var t TypingEvent
		if err := json.Unmarshal(data, &t); err != nil {
			return ev, fmt.Errorf("%w: typing: %v", ErrMalformedEvent, err)
		}
		ev.Typing = &t
	case EventMessageDelete:
		var d DeletedEvent
		if err := json.Unmarshal(data, &d); err != nil || d.MessageID == 0 {
			return ev, fmt.Errorf("%w: message deleted", ErrMalformedEvent)
		}
		ev.Deleted = &d
	case EventHeartbeat:
	case "":
		// Edits and unsends are broadcast as bare message records.
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil || msg.ID == 0 || msg.SenderID == 0 {
			return ev, fmt.Errorf("%w: missing type", ErrMalformedEvent)
		}
		msg.IsTemp = false
		msg.TempID = ""
		msg.MessageType = InferMessageType(msg.MessageType, msg.Content)
		ev.Type = EventMessage
		ev.Message = &msg
	default:
		return ev, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, head.Type)
	}
	return ev, nil
}

// OutgoingMessage is the frame sent over the channel to post a message.
type OutgoingMessage struct {
	Type        string      `json:"type"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	ReplyToID   *int64      `json:"reply_to_id"`
}

// OutgoingRead acknowledges a message as read.
type OutgoingRead struct {
	Type      string `json:"type"`
	MessageID int64  `json:"message_id"`
}

// OutgoingTyping toggles the local typing indicator for the peer.
type OutgoingTyping struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// SendRequest is the HTTP body used by the fallback client to post a message.
type SendRequest struct {
	Content     string      `json:"content" validate:"required"`
	MessageType MessageType `json:"message_type" validate:"required,oneof=text image voice"`
	ReplyToID   *int64      `json:"reply_to_id"`
}
