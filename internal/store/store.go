// Package store holds the ordered message collection of the open conversation.
//
// A Store is not safe for concurrent use; the reconciliation engine owns it and
// serializes every access.
package store

import (
	"sort"
	"time"

	"chat-client/internal/models"
)

type entry struct {
	msg models.Message
	seq uint64
}

// Store keeps records sorted by CreatedAt. Records with equal CreatedAt keep
// their insertion order.
type Store struct {
	friendID int64
	entries  []entry
	seq      uint64
}

// New returns an empty store with no conversation.
func New() *Store {
	return &Store{}
}

// Reset drops every record and scopes the store to friendID.
func (s *Store) Reset(friendID int64) {
	s.friendID = friendID
	s.entries = nil
}

// FriendID returns the conversation the store currently holds.
func (s *Store) FriendID() int64 {
	return s.friendID
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.entries)
}

// Insert adds msg after every record whose CreatedAt is not later than msg's.
func (s *Store) Insert(msg models.Message) {
	s.seq++
	e := entry{msg: msg, seq: s.seq}
	i := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].msg.CreatedAt.After(msg.CreatedAt)
	})
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

// Get returns the confirmed record with id.
func (s *Store) Get(id int64) (models.Message, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.entries[i].msg, true
	}
	return models.Message{}, false
}

// GetTemp returns the temp record with tempID.
func (s *Store) GetTemp(tempID string) (models.Message, bool) {
	if i := s.indexOfTemp(tempID); i >= 0 {
		return s.entries[i].msg, true
	}
	return models.Message{}, false
}

// Contains reports whether a confirmed record with id exists.
func (s *Store) Contains(id int64) bool {
	return s.indexOf(id) >= 0
}

// Update applies fn to the confirmed record with id in place. The position is
// recomputed only when fn changes CreatedAt.
func (s *Store) Update(id int64, fn func(*models.Message)) bool {
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	before := s.entries[i].msg.CreatedAt
	fn(&s.entries[i].msg)
	if !s.entries[i].msg.CreatedAt.Equal(before) {
		e := s.entries[i]
		s.removeAt(i)
		s.reinsert(e)
	}
	return true
}

// Remove deletes the confirmed record with id.
func (s *Store) Remove(id int64) (models.Message, bool) {
	i := s.indexOf(id)
	if i < 0 {
		return models.Message{}, false
	}
	msg := s.entries[i].msg
	s.removeAt(i)
	return msg, true
}

// RemoveTemp deletes the temp record with tempID.
func (s *Store) RemoveTemp(tempID string) (models.Message, bool) {
	i := s.indexOfTemp(tempID)
	if i < 0 {
		return models.Message{}, false
	}
	msg := s.entries[i].msg
	s.removeAt(i)
	return msg, true
}

// TakePendingByContent removes and returns the oldest temp record sent by
// senderID with exactly content. Temp records created after latest are
// skipped; a zero latest matches any age.
func (s *Store) TakePendingByContent(senderID int64, content string, latest time.Time) (models.Message, bool) {
	for i, e := range s.entries {
		if !latest.IsZero() && e.msg.CreatedAt.After(latest) {
			continue
		}
		if e.msg.IsTemp && e.msg.SenderID == senderID && e.msg.Content == content {
			s.removeAt(i)
			return e.msg, true
		}
	}
	return models.Message{}, false
}

// RemoveConfirmed drops every confirmed record and keeps temp records.
func (s *Store) RemoveConfirmed() {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.msg.IsTemp {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(s.entries); i++ {
		s.entries[i] = entry{}
	}
	s.entries = kept
}

// Pending returns the temp records in order.
func (s *Store) Pending() []models.Message {
	var out []models.Message
	for _, e := range s.entries {
		if e.msg.IsTemp {
			out = append(out, e.msg)
		}
	}
	return out
}

// Snapshot returns a copy of all records in render order.
func (s *Store) Snapshot() []models.Message {
	out := make([]models.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}

func (s *Store) indexOf(id int64) int {
	if id == 0 {
		return -1
	}
	for i, e := range s.entries {
		if !e.msg.IsTemp && e.msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) indexOfTemp(tempID string) int {
	for i, e := range s.entries {
		if e.msg.IsTemp && e.msg.TempID == tempID {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(i int) {
	copy(s.entries[i:], s.entries[i+1:])
	s.entries[len(s.entries)-1] = entry{}
	s.entries = s.entries[:len(s.entries)-1]
}

// reinsert places e by CreatedAt, then by its original sequence among equal timestamps.
func (s *Store) reinsert(e entry) {
	i := sort.Search(len(s.entries), func(i int) bool {
		cur := s.entries[i]
		if cur.msg.CreatedAt.Equal(e.msg.CreatedAt) {
			return cur.seq > e.seq
		}
		return cur.msg.CreatedAt.After(e.msg.CreatedAt)
	})
	s.entries = append(s.entries, entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}
