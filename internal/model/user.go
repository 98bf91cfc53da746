package model

import (
	"strconv"
	"strings"
	"time"
)

// User mirrors the `users` table. OTPHash is empty and OTPExpiresAt nil
// when no one-time passcode is pending.
type User struct {
	ID                string
	FullName          string
	Email             string
	PasswordHash      string
	ProfilePic        string
	Role              string
	OTPHash           string
	OTPExpiresAt      *time.Time
	DisappearSettings map[string]string // peer or group id -> "off" | "<N>min"
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"

	DisappearOff = "off"
)

// PublicUser is the shape returned to clients and embedded in events.
type PublicUser struct {
	ID         string `json:"_id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic"`
}

func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, FullName: u.FullName, Email: u.Email, ProfilePic: u.ProfilePic}
}

// MaxDisappear bounds a disappear timer so the expiry stays representable.
const MaxDisappear = 365 * 24 * time.Hour

const maxDisappearMinutes = int(MaxDisappear / time.Minute)

// ParseDisappear converts a setting such as "5min" into a duration.
// "off", "", anything unparsable and timers above MaxDisappear yield ok=false.
func ParseDisappear(setting string) (time.Duration, bool) {
	s := strings.TrimSpace(strings.ToLower(setting))
	if s == "" || s == DisappearOff {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "min"))
	if err != nil || n <= 0 || n > maxDisappearMinutes {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}

// ValidDisappear reports whether setting is storable.
func ValidDisappear(setting string) bool {
	if setting == DisappearOff {
		return true
	}
	_, ok := ParseDisappear(setting)
	return ok && strings.HasSuffix(setting, "min")
}
