package model

import "time"

// SessionTTL bounds how long a session row authorizes requests.
const SessionTTL = 24 * time.Hour

// Session mirrors the `sessions` table: one row per successful OTP login.
type Session struct {
	SessionID string
	UserID    string
	CSRFToken string
	IPAddress string
	CreatedAt time.Time
}

func (s Session) ExpiresAt() time.Time { return s.CreatedAt.Add(SessionTTL) }

func (s Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt()) }
