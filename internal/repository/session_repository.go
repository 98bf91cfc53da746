package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/dbx"
	"github.com/iliyamo/echosecure-chat/internal/model"
)

// SessionRepo persists login sessions. Expiry is evaluated by callers
// against CreatedAt; DeleteCreatedBefore reclaims stale rows.
type SessionRepo struct{ DB dbx.DBTX }

func NewSessionRepo(db dbx.DBTX) *SessionRepo { return &SessionRepo{DB: db} }

func (r *SessionRepo) Create(ctx context.Context, s model.Session) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO sessions (session_id,user_id,csrf_token,ip_address,created_at) VALUES (?,?,?,?,?)",
		s.SessionID, s.UserID, s.CSRFToken, s.IPAddress, s.CreatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, sessionID string) (model.Session, error) {
	var s model.Session
	err := r.DB.QueryRowContext(ctx,
		"SELECT session_id,user_id,csrf_token,ip_address,created_at FROM sessions WHERE session_id=? LIMIT 1",
		sessionID).Scan(&s.SessionID, &s.UserID, &s.CSRFToken, &s.IPAddress, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (r *SessionRepo) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE session_id=?", sessionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteCreatedBefore removes sessions created before cutoff and returns
// how many were removed.
func (r *SessionRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM sessions WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
