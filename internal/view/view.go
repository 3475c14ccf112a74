// Package view derives display lines from the message store. It never
// mutates what it is given.
package view

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"chat-client/internal/models"
)

const (
	LabelSending   = "sending"
	LabelSent      = "sent"
	LabelDelivered = "delivered"
	LabelSeen      = "seen"

	excerptLen  = 60
	unsentText  = "[This message was unsent]"
	unavailable = "unavailable"
)

// Line is one rendered message.
type Line struct {
	Key       string             `json:"key"`
	ID        int64              `json:"id,omitempty"`
	Mine      bool               `json:"mine"`
	Sender    string             `json:"sender"`
	Content   string             `json:"content"`
	Type      models.MessageType `json:"message_type"`
	CreatedAt time.Time          `json:"created_at"`
	When      string             `json:"when"`
	Edited    bool               `json:"edited"`
	Unsent    bool               `json:"unsent"`
	Status    string             `json:"status,omitempty"`
	Reply     *Reply             `json:"reply,omitempty"`
}

// Reply is the quoted message shown above a reply.
type Reply struct {
	ID          int64  `json:"id"`
	Sender      string `json:"sender,omitempty"`
	Excerpt     string `json:"excerpt,omitempty"`
	Unavailable bool   `json:"unavailable"`
}

// Render builds display lines for msgs as seen by selfID at time now. A reply
// whose target is neither previewed by the server nor present in msgs is
// marked unavailable.
func Render(msgs []models.Message, selfID int64, now time.Time) []Line {
	byID := make(map[int64]models.Message, len(msgs))
	for _, m := range msgs {
		if !m.IsTemp {
			byID[m.ID] = m
		}
	}

	lines := make([]Line, 0, len(msgs))
	for _, m := range msgs {
		mine := m.SenderID == selfID
		line := Line{
			Key:       m.Key(),
			ID:        m.ID,
			Mine:      mine,
			Sender:    senderName(m.SenderID, m.SenderUsername, selfID),
			Content:   m.Content,
			Type:      m.MessageType,
			CreatedAt: m.CreatedAt,
			When:      humanize.RelTime(m.CreatedAt, now, "ago", "from now"),
			Edited:    m.UpdatedAt != nil && m.UpdatedAt.After(m.CreatedAt) && m.Content != unsentText,
			Unsent:    m.Content == unsentText,
			Reply:     reply(m, byID, selfID),
		}
		if mine {
			line.Status = Label(m)
		}
		lines = append(lines, line)
	}
	return lines
}

// Label is the delivery label of a message sent by the session user.
func Label(m models.Message) string {
	switch {
	case m.IsTemp:
		return LabelSending
	case m.IsRead || m.Status == models.StatusSeen:
		return LabelSeen
	case m.Status == models.StatusDelivered || m.DeliveredAt != nil:
		return LabelDelivered
	default:
		return LabelSent
	}
}

func reply(m models.Message, byID map[int64]models.Message, selfID int64) *Reply {
	if m.ReplyToID == nil && m.ReplyTo == nil {
		return nil
	}
	if p := m.ReplyTo; p != nil {
		return &Reply{
			ID:      p.ID,
			Sender:  senderName(p.SenderID, p.SenderUsername, selfID),
			Excerpt: excerpt(p.Content, p.MessageType),
		}
	}
	if target, ok := byID[*m.ReplyToID]; ok {
		return &Reply{
			ID:      target.ID,
			Sender:  senderName(target.SenderID, target.SenderUsername, selfID),
			Excerpt: excerpt(target.Content, target.MessageType),
		}
	}
	return &Reply{ID: *m.ReplyToID, Unavailable: true}
}

func senderName(id int64, username string, selfID int64) string {
	switch {
	case id == selfID:
		return "You"
	case username != "":
		return username
	default:
		return fmt.Sprintf("User %d", id)
	}
}

func excerpt(content string, t models.MessageType) string {
	switch models.InferMessageType(t, content) {
	case models.MessageTypeImage:
		return "[image]"
	case models.MessageTypeVoice:
		return "[voice message]"
	}
	content = strings.Join(strings.Fields(content), " ")
	r := []rune(content)
	if len(r) <= excerptLen {
		return content
	}
	return string(r[:excerptLen-1]) + "…"
}

// Write prints lines as plain text, one message per line.
func Write(w io.Writer, lines []Line) error {
	for _, l := range lines {
		var b strings.Builder
		if l.Reply != nil {
			if l.Reply.Unavailable {
				fmt.Fprintf(&b, "  ↳ (%s)\n", unavailable)
			} else {
				fmt.Fprintf(&b, "  ↳ %s: %s\n", l.Reply.Sender, l.Reply.Excerpt)
			}
		}
		body := l.Content
		switch l.Type {
		case models.MessageTypeImage:
			body = "[image] " + body
		case models.MessageTypeVoice:
			body = "[voice] " + body
		}
		fmt.Fprintf(&b, "[%s] %s: %s", l.When, l.Sender, body)
		if l.Edited {
			b.WriteString(" (edited)")
		}
		if l.Status != "" {
			fmt.Fprintf(&b, " · %s", l.Status)
		}
		b.WriteByte('\n')
		if _, err := io.WriteString(w, b.String()); err != nil {
			return fmt.Errorf("failed to write line %s: %w", l.Key, err)
		}
	}
	return nil
}
