package models

import (
	"mime"
	"path"
	"strconv"
	"strings"
	"time"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVoice MessageType = "voice"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVoice:
		return true
	}
	return false
}

// DeliveryStatus is the delivery state reported by the server. It only moves forward.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusSeen      DeliveryStatus = "seen"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	}
	return 0
}

// After reports whether s is strictly further along than other.
func (s DeliveryStatus) After(other DeliveryStatus) bool {
	return s.rank() > other.rank()
}

// Message represents a private chat message as held by the client.
type Message struct {
	ID             int64          `json:"id,omitempty"`
	TempID         string         `json:"temp_id,omitempty"`
	SenderID       int64          `json:"sender_id"`
	ReceiverID     int64          `json:"receiver_id"`
	SenderUsername string         `json:"sender_username,omitempty"`
	Content        string         `json:"content"`
	MessageType    MessageType    `json:"message_type"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      *time.Time     `json:"updated_at,omitempty"`
	IsRead         bool           `json:"is_read"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	Status         DeliveryStatus `json:"status,omitempty"`
	ReplyToID      *int64         `json:"reply_to_id,omitempty"`
	ReplyTo        *ReplyPreview  `json:"reply_to,omitempty"`
	IsTemp         bool           `json:"is_temp"`
}

// ReplyPreview is the server-provided summary of a replied-to message.
type ReplyPreview struct {
	ID             int64       `json:"id"`
	SenderID       int64       `json:"sender_id"`
	SenderUsername string      `json:"sender_username,omitempty"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"message_type,omitempty"`
}

// Key identifies the record inside a conversation. Temp and confirmed ids live in
// different spaces so they never collide.
func (m Message) Key() string {
	if m.IsTemp {
		return m.TempID
	}
	return strconv.FormatInt(m.ID, 10)
}

// Participants reports whether the message belongs to the conversation between a and b.
func (m Message) Participants(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".webp": true, ".bmp": true, ".svg": true,
}

var voiceExtensions = map[string]bool{
	".webm": true, ".ogg": true, ".mp3": true, ".wav": true, ".m4a": true,
}

// InferMessageType returns explicit when it is a known type, otherwise guesses
// from the shape of content.
func InferMessageType(explicit MessageType, content string) MessageType {
	if explicit.Valid() {
		return explicit
	}

	c := strings.TrimSpace(content)
	lower := strings.ToLower(c)
	switch {
	case strings.HasPrefix(lower, "data:image/"), strings.HasPrefix(lower, "blob:"):
		return MessageTypeImage
	case strings.HasPrefix(lower, "data:audio/"):
		return MessageTypeVoice
	case strings.Contains(lower, "cloudinary.com") && !hasVoiceExtension(lower):
		return MessageTypeImage
	}

	if hasVoiceExtension(lower) {
		return MessageTypeVoice
	}
	ext := extension(lower)
	if imageExtensions[ext] {
		return MessageTypeImage
	}
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "image/") {
		return MessageTypeImage
	}
	return MessageTypeText
}

func hasVoiceExtension(lower string) bool {
	return voiceExtensions[extension(lower)]
}

func extension(lower string) string {
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	if strings.ContainsAny(lower, " \n\t") {
		return ""
	}
	return path.Ext(lower)
}
