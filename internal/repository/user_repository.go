package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/echosecure-chat/internal/dbx"
	"github.com/iliyamo/echosecure-chat/internal/model"
)

type UserRepo struct{ DB dbx.DBTX }

func NewUserRepo(db dbx.DBTX) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,full_name,email,password_hash,profile_pic,role,otp_hash,otp_expires_at,disappear_settings,created_at,updated_at"

// Create inserts u. Email is expected to be normalized by the caller.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (id,full_name,email,password_hash,profile_pic,role,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)",
		u.ID, u.FullName, u.Email, u.PasswordHash, u.ProfilePic, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", email))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	return r.scanOne(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

func (r *UserRepo) scanOne(row *sql.Row) (model.User, error) {
	var (
		u         model.User
		otpHash   sql.NullString
		otpExp    sql.NullTime
		disappear []byte
	)
	err := row.Scan(&u.ID, &u.FullName, &u.Email, &u.PasswordHash, &u.ProfilePic, &u.Role,
		&otpHash, &otpExp, &disappear, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("db error: %w", err)
	}
	u.OTPHash = otpHash.String
	if otpExp.Valid {
		t := otpExp.Time
		u.OTPExpiresAt = &t
	}
	u.DisappearSettings = map[string]string{}
	if len(disappear) > 0 {
		if err := json.Unmarshal(disappear, &u.DisappearSettings); err != nil {
			return model.User{}, fmt.Errorf("decode disappear_settings: %w", err)
		}
	}
	return u, nil
}

// SetOTP stores a pending passcode hash, replacing any previous one.
func (r *UserRepo) SetOTP(ctx context.Context, userID, hash string, exp time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET otp_hash=?, otp_expires_at=? WHERE id=?", hash, exp, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return mustAffect(res)
}

// ConsumeOTP clears the passcode only if it is still the one the caller
// verified. It reports false when a concurrent verification won the race.
func (r *UserRepo) ConsumeOTP(ctx context.Context, userID, hash string) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET otp_hash=NULL, otp_expires_at=NULL WHERE id=? AND otp_hash=?", userID, hash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// SetDisappear upserts one entry of the user's disappear settings map.
func (r *UserRepo) SetDisappear(ctx context.Context, userID, targetID, setting string) error {
	path := fmt.Sprintf(`$."%s"`, strings.ReplaceAll(targetID, `"`, ``))
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET disappear_settings=JSON_SET(COALESCE(disappear_settings, JSON_OBJECT()), ?, ?) WHERE id=?",
		path, setting, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
