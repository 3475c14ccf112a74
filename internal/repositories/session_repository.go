package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-client/internal/session"
)

// SessionRepo is a sqlx-backed session.Store for clients sharing a database.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Load returns the session saved for profile.
func (r *SessionRepo) Load(ctx context.Context, profile string) (session.Session, error) {
	var s session.Session
	err := r.db.GetContext(ctx, &s, `SELECT token, user_id, selected_friend_id, updated_at FROM client_sessions WHERE profile=$1`, profile)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrSessionNotFound
	}
	return s, err
}

// Save upserts the session for profile.
func (r *SessionRepo) Save(ctx context.Context, profile string, s session.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO client_sessions (profile, token, user_id, selected_friend_id, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (profile) DO UPDATE SET token=EXCLUDED.token, user_id=EXCLUDED.user_id,
            selected_friend_id=EXCLUDED.selected_friend_id, updated_at=EXCLUDED.updated_at`,
		profile, s.Token, s.UserID, s.SelectedFriendID, s.UpdatedAt)
	return err
}

// Delete removes the session for profile.
func (r *SessionRepo) Delete(ctx context.Context, profile string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM client_sessions WHERE profile=$1`, profile)
	return err
}

// Close closes the underlying database.
func (r *SessionRepo) Close() error {
	return r.db.Close()
}
