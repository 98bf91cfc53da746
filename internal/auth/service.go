// Package auth implements password + one-time-passcode login, server-side
// sessions, access/refresh token issuance and CSRF validation.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/model"
	"github.com/iliyamo/echosecure-chat/internal/repository"
	"github.com/iliyamo/echosecure-chat/internal/utils"
)

const (
	OTPTTL            = 10 * time.Minute
	minPasswordLength = 6
	sessionIDBytes    = 16
	csrfTokenBytes    = 32
)

type UserStore interface {
	Create(ctx context.Context, u model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	SetOTP(ctx context.Context, userID, hash string, exp time.Time) error
	ConsumeOTP(ctx context.Context, userID, hash string) (bool, error)
	SetDisappear(ctx context.Context, userID, targetID, setting string) error
}

type SessionStore interface {
	Create(ctx context.Context, s model.Session) error
	Get(ctx context.Context, sessionID string) (model.Session, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Notifier delivers a passcode out of band.
type Notifier interface {
	SendOTP(ctx context.Context, email, fullName, otp string) error
}

type Config struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int
}

// Credentials is everything a successful OTP verification hands back to
// the transport layer to set as cookies.
type Credentials struct {
	Session model.Session
	Access  utils.SignedToken
	Refresh utils.SignedToken
}

// Principal identifies the caller of an authenticated request.
type Principal struct {
	UserID    string
	SessionID string
}

type Service struct {
	users    UserStore
	sessions SessionStore
	notifier Notifier
	ip       IPResolver
	cfg      Config
	log      logging.Logger
	now      func() time.Time
}

func NewService(cfg Config, users UserStore, sessions SessionStore, notifier Notifier, ip IPResolver, log logging.Logger) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		notifier: notifier,
		ip:       ip,
		cfg:      cfg,
		log:      log.With("component", "auth"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// Signup creates an account. It does not log the user in.
func (s *Service) Signup(ctx context.Context, fullName, email, password string) (model.PublicUser, error) {
	fullName = strings.TrimSpace(fullName)
	email = normalizeEmail(email)
	if fullName == "" || email == "" || password == "" {
		return model.PublicUser{}, apperr.Validation("All fields are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.PublicUser{}, apperr.Validation("Invalid email")
	}
	if len(password) < minPasswordLength {
		return model.PublicUser{}, apperr.Validation("Password must be at least 6 characters")
	}
	hash, err := utils.HashPassword(password, s.cfg.BcryptCost)
	if err != nil {
		return model.PublicUser{}, apperr.Internal("hash password", err)
	}
	now := s.now()
	u := model.User{
		ID:           uuid.NewString(),
		FullName:     fullName,
		Email:        email,
		PasswordHash: hash,
		Role:         model.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return model.PublicUser{}, apperr.Validation("Email already exists")
		}
		return model.PublicUser{}, apperr.Internal("create user", err)
	}
	s.log.Info(ctx, "user signed up", "user_id", u.ID)
	return u.Public(), nil
}

// Login checks the password and, on success, issues a fresh passcode. The
// caller is then OTP-pending; no session exists yet.
func (s *Service) Login(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return apperr.Validation("Email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Auth("Invalid credentials")
		}
		return apperr.Internal("load user", err)
	}
	if !utils.VerifyPassword(u.PasswordHash, password) {
		return apperr.Auth("Invalid credentials")
	}

	otp, err := utils.GenerateOTP()
	if err != nil {
		return apperr.Internal("generate otp", err)
	}
	hash, err := utils.HashPassword(otp, s.cfg.BcryptCost)
	if err != nil {
		return apperr.Internal("hash otp", err)
	}
	if err := s.users.SetOTP(ctx, u.ID, hash, s.now().Add(OTPTTL)); err != nil {
		return apperr.Internal("store otp", err)
	}
	if err := s.notifier.SendOTP(ctx, u.Email, u.FullName, otp); err != nil {
		return apperr.Internal("send otp", err)
	}
	s.log.Info(ctx, "otp issued", "user_id", u.ID)
	return nil
}

// VerifyOTP completes login. The passcode is consumed on success so a
// second call with the same code fails.
func (s *Service) VerifyOTP(ctx context.Context, email, otp, remoteIP string) (model.PublicUser, Credentials, error) {
	email = normalizeEmail(email)
	otp = strings.TrimSpace(otp)
	if email == "" || otp == "" {
		return model.PublicUser{}, Credentials{}, apperr.Validation("Email and OTP are required")
	}
	invalid := apperr.Auth("Invalid or expired OTP")

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PublicUser{}, Credentials{}, invalid
		}
		return model.PublicUser{}, Credentials{}, apperr.Internal("load user", err)
	}
	if u.OTPHash == "" || u.OTPExpiresAt == nil || !s.now().Before(*u.OTPExpiresAt) {
		return model.PublicUser{}, Credentials{}, invalid
	}
	if !utils.VerifyPassword(u.OTPHash, otp) {
		return model.PublicUser{}, Credentials{}, invalid
	}
	consumed, err := s.users.ConsumeOTP(ctx, u.ID, u.OTPHash)
	if err != nil {
		return model.PublicUser{}, Credentials{}, apperr.Internal("consume otp", err)
	}
	if !consumed {
		return model.PublicUser{}, Credentials{}, invalid
	}

	creds, err := s.issueSession(ctx, u.ID, s.resolveIP(ctx, remoteIP))
	if err != nil {
		return model.PublicUser{}, Credentials{}, err
	}
	s.log.Info(ctx, "session created", "user_id", u.ID, "ip", creds.Session.IPAddress)
	return u.Public(), creds, nil
}

func (s *Service) issueSession(ctx context.Context, userID, ip string) (Credentials, error) {
	sid, err := utils.RandomHex(sessionIDBytes)
	if err != nil {
		return Credentials{}, apperr.Internal("session id", err)
	}
	csrf, err := utils.RandomHex(csrfTokenBytes)
	if err != nil {
		return Credentials{}, apperr.Internal("csrf token", err)
	}
	sess := model.Session{
		SessionID: sid,
		UserID:    userID,
		CSRFToken: csrf,
		IPAddress: ip,
		CreatedAt: s.now(),
	}
	access, err := utils.NewAccessToken(s.cfg.AccessSecret, userID, sid, s.cfg.AccessTTL)
	if err != nil {
		return Credentials{}, apperr.Internal("sign access token", err)
	}
	refresh, err := utils.NewRefreshToken(s.cfg.RefreshSecret, userID, sid, s.cfg.RefreshTTL)
	if err != nil {
		return Credentials{}, apperr.Internal("sign refresh token", err)
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return Credentials{}, apperr.Internal("create session", err)
	}
	return Credentials{Session: sess, Access: access, Refresh: refresh}, nil
}

// liveSession loads a session and checks its TTL. Missing and expired
// sessions are both reported as repository.ErrNotFound.
func (s *Service) liveSession(ctx context.Context, sessionID string) (model.Session, error) {
	if sessionID == "" {
		return model.Session{}, repository.ErrNotFound
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return model.Session{}, err
	}
	if sess.Expired(s.now()) {
		return model.Session{}, repository.ErrNotFound
	}
	return sess, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (utils.SignedToken, error) {
	if refreshToken == "" {
		return utils.SignedToken{}, apperr.Auth("Refresh token missing")
	}
	claims, err := utils.ParseToken(s.cfg.RefreshSecret, refreshToken)
	if err != nil {
		return utils.SignedToken{}, apperr.Auth("Invalid refresh token")
	}
	sess, err := s.liveSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return utils.SignedToken{}, apperr.Auth("Session expired")
		}
		return utils.SignedToken{}, apperr.Internal("load session", err)
	}
	if sess.UserID != claims.Subject {
		return utils.SignedToken{}, apperr.Auth("Invalid refresh token")
	}
	access, err := utils.NewAccessToken(s.cfg.AccessSecret, sess.UserID, sess.SessionID, s.cfg.AccessTTL)
	if err != nil {
		return utils.SignedToken{}, apperr.Internal("sign access token", err)
	}
	return access, nil
}

// Authenticate resolves the caller of a request from its access token.
// sessionCookie, when present, must name the same session the token was
// issued for, and that session must still exist.
func (s *Service) Authenticate(ctx context.Context, accessToken, sessionCookie string) (Principal, error) {
	if accessToken == "" {
		return Principal{}, apperr.Auth("Unauthorized - No token provided")
	}
	claims, err := utils.ParseToken(s.cfg.AccessSecret, accessToken)
	if err != nil {
		return Principal{}, apperr.Auth("Unauthorized - Invalid token")
	}
	if sessionCookie != "" && sessionCookie != claims.SessionID {
		return Principal{}, apperr.Auth("Unauthorized - Session mismatch")
	}
	sess, err := s.liveSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Principal{}, apperr.Auth("Unauthorized - Session expired")
		}
		return Principal{}, apperr.Internal("load session", err)
	}
	if sess.UserID != claims.Subject {
		return Principal{}, apperr.Auth("Unauthorized - Invalid token")
	}
	return Principal{UserID: sess.UserID, SessionID: sess.SessionID}, nil
}

// ValidateCSRF checks the header token against the token stored on the
// session. A failure never touches the session itself.
func (s *Service) ValidateCSRF(ctx context.Context, headerToken, sessionID string) error {
	if headerToken == "" || sessionID == "" {
		return apperr.Forbidden("CSRF token missing")
	}
	sess, err := s.liveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.Forbidden("Invalid session")
		}
		return apperr.Internal("load session", err)
	}
	if subtle.ConstantTimeCompare([]byte(headerToken), []byte(sess.CSRFToken)) != 1 {
		return apperr.Forbidden("Invalid CSRF token")
	}
	return nil
}

// Logout deletes the session row. Tokens issued for it stop working
// because every check goes through the session.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return apperr.Internal("delete session", err)
	}
	s.log.Info(ctx, "session deleted", "session_id", sessionID)
	return nil
}

// Me returns the public profile of userID.
func (s *Service) Me(ctx context.Context, userID string) (model.PublicUser, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.PublicUser{}, apperr.NotFound("User not found")
		}
		return model.PublicUser{}, apperr.Internal("load user", err)
	}
	return u.Public(), nil
}

func (s *Service) DisappearSettings(ctx context.Context, userID string) (map[string]string, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, apperr.Internal("load user", err)
	}
	return u.DisappearSettings, nil
}

// SetDisappear stores the timer for messages userID sends to targetID
// (a peer or a group).
func (s *Service) SetDisappear(ctx context.Context, userID, targetID, setting string) error {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return apperr.Validation("targetId is required")
	}
	if !model.ValidDisappear(setting) {
		return apperr.Validation("Invalid disappear setting")
	}
	if err := s.users.SetDisappear(ctx, userID, targetID, setting); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("User not found")
		}
		return apperr.Internal("store disappear setting", err)
	}
	return nil
}

// SweepSessions removes sessions whose TTL has lapsed.
func (s *Service) SweepSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteCreatedBefore(ctx, s.now().Add(-model.SessionTTL))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info(ctx, "expired sessions removed", "count", n)
	}
	return n, nil
}
