// Package session holds the explicit session context of the client: the
// bearer token, the user it belongs to and the selected conversation.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultProfile is used when no profile is configured.
const DefaultProfile = "default"

// ErrSessionNotFound is returned when no session was saved for a profile.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoSession is returned by operations that need a logged-in session.
var ErrNoSession = errors.New("no active session")

// Session is the state shared between CLI invocations.
type Session struct {
	Token            string    `json:"token" db:"token"`
	UserID           int64     `json:"user_id" db:"user_id"`
	SelectedFriendID int64     `json:"selected_friend_id" db:"selected_friend_id"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Authenticated reports whether the session carries a usable token.
func (s Session) Authenticated() bool {
	return s.Token != "" && s.UserID > 0
}

// Store persists sessions by profile name.
type Store interface {
	Load(ctx context.Context, profile string) (Session, error)
	Save(ctx context.Context, profile string, s Session) error
	Delete(ctx context.Context, profile string) error
	Close() error
}

// Holder is the in-process view of one profile's session.
type Holder struct {
	store   Store
	profile string

	mu  sync.RWMutex
	cur Session
}

func NewHolder(store Store, profile string) *Holder {
	if profile == "" {
		profile = DefaultProfile
	}
	return &Holder{store: store, profile: profile}
}

// Load reads the saved session. A missing session leaves the holder empty
// and returns ErrSessionNotFound.
func (h *Holder) Load(ctx context.Context) (Session, error) {
	s, err := h.store.Load(ctx, h.profile)
	if err != nil {
		return Session{}, err
	}
	h.mu.Lock()
	h.cur = s
	h.mu.Unlock()
	return s, nil
}

// Current returns the session in memory.
func (h *Holder) Current() Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cur
}

// Save replaces and persists the session.
func (h *Holder) Save(ctx context.Context, s Session) error {
	s.UpdatedAt = time.Now().UTC()
	if err := h.store.Save(ctx, h.profile, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	h.mu.Lock()
	h.cur = s
	h.mu.Unlock()
	return nil
}

// SelectFriend records the conversation to open next.
func (h *Holder) SelectFriend(ctx context.Context, friendID int64) error {
	s := h.Current()
	if !s.Authenticated() {
		return ErrNoSession
	}
	s.SelectedFriendID = friendID
	return h.Save(ctx, s)
}

// Expire drops the token after the server rejected it. The selected
// conversation is kept for the next login.
func (h *Holder) Expire(ctx context.Context) error {
	s := h.Current()
	if s.Token == "" {
		return nil
	}
	s.Token = ""
	return h.Save(ctx, s)
}

// Clear removes the saved session.
func (h *Holder) Clear(ctx context.Context) error {
	if err := h.store.Delete(ctx, h.profile); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	h.mu.Lock()
	h.cur = Session{}
	h.mu.Unlock()
	return nil
}
