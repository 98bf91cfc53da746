package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/repository/memstore"
)

type captureNotifier struct {
	mu   sync.Mutex
	last map[string]string
}

func (n *captureNotifier) SendOTP(_ context.Context, email, _ string, otp string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		n.last = map[string]string{}
	}
	n.last[email] = otp
	return nil
}

func (n *captureNotifier) otp(email string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last[email]
}

type fixedResolver string

func (f fixedResolver) Resolve(context.Context, string) string { return string(f) }

type fixture struct {
	svc      *Service
	sessions *memstore.Sessions
	notifier *captureNotifier
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: memstore.NewSessions(),
		notifier: &captureNotifier{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		BcryptCost:    4,
	}, memstore.NewUsers(), f.sessions, f.notifier, fixedResolver("203.0.113.7"), logging.Nop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) signupAndLogin(t *testing.T, email string) (Credentials, string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, "Alice Example", email, "s3cret!")
	require.NoError(t, err)
	require.NoError(t, f.svc.Login(ctx, email, "s3cret!"))
	otp := f.notifier.otp(email)
	require.Len(t, otp, 6)
	_, creds, err := f.svc.VerifyOTP(ctx, email, otp, "127.0.0.1")
	require.NoError(t, err)
	return creds, otp
}

func TestSignup_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name, fullName, email, password string
	}{
		{"missing name", "", "a@example.com", "secret1"},
		{"bad email", "A", "not-an-email", "secret1"},
		{"short password", "A", "a@example.com", "123"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Signup(ctx, tc.fullName, tc.email, tc.password)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	_, err := f.svc.Signup(ctx, "A", "Dup@Example.com", "secret1")
	require.NoError(t, err)
	_, err = f.svc.Signup(ctx, "B", "dup@example.com", "secret2")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, "A", "a@example.com", "secret1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.Login(ctx, "a@example.com", "wrong"), apperr.ErrAuth)
	assert.ErrorIs(t, f.svc.Login(ctx, "nobody@example.com", "secret1"), apperr.ErrAuth)
	assert.Empty(t, f.notifier.otp("a@example.com"))
}

func TestVerifyOTP_SingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	creds, otp := f.signupAndLogin(t, "a@example.com")
	assert.Len(t, creds.Session.SessionID, 32)
	assert.Len(t, creds.Session.CSRFToken, 64)
	assert.Equal(t, "127.0.0.1", creds.Session.IPAddress)
	assert.NotEmpty(t, creds.Access.Token)
	assert.NotEmpty(t, creds.Refresh.Token)

	_, _, err := f.svc.VerifyOTP(ctx, "a@example.com", otp, "127.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestVerifyOTP_WrongAndExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, "A", "a@example.com", "secret1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Login(ctx, "a@example.com", "secret1"))
	otp := f.notifier.otp("a@example.com")

	wrong := "000000"
	if otp == wrong {
		wrong = "111111"
	}
	_, _, err = f.svc.VerifyOTP(ctx, "a@example.com", wrong, "127.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	f.clock = f.clock.Add(OTPTTL + time.Second)
	_, _, err = f.svc.VerifyOTP(ctx, "a@example.com", otp, "127.0.0.1")
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creds, _ := f.signupAndLogin(t, "a@example.com")

	access, err := f.svc.Refresh(ctx, creds.Refresh.Token)
	require.NoError(t, err)
	assert.NotEmpty(t, access.Token)

	_, err = f.svc.Refresh(ctx, creds.Access.Token)
	assert.ErrorIs(t, err, apperr.ErrAuth, "access token must not work as refresh token")

	require.NoError(t, f.svc.Logout(ctx, creds.Session.SessionID))
	_, err = f.svc.Refresh(ctx, creds.Refresh.Token)
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creds, _ := f.signupAndLogin(t, "a@example.com")

	p, err := f.svc.Authenticate(ctx, creds.Access.Token, creds.Session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, creds.Session.UserID, p.UserID)

	_, err = f.svc.Authenticate(ctx, creds.Access.Token, "other-session")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	_, err = f.svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, apperr.ErrAuth)

	require.NoError(t, f.svc.Logout(ctx, creds.Session.SessionID))
	_, err = f.svc.Authenticate(ctx, creds.Access.Token, creds.Session.SessionID)
	assert.ErrorIs(t, err, apperr.ErrAuth)
}

func TestAuthenticate_SessionTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creds, _ := f.signupAndLogin(t, "a@example.com")

	// The refresh token itself is valid for 7 days; only the session lapsed.
	f.clock = f.clock.Add(25 * time.Hour)
	_, err := f.svc.Refresh(ctx, creds.Refresh.Token)
	assert.ErrorIs(t, err, apperr.ErrAuth)

	n, err := f.svc.SweepSessions(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestValidateCSRF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creds, _ := f.signupAndLogin(t, "a@example.com")
	sid := creds.Session.SessionID

	assert.NoError(t, f.svc.ValidateCSRF(ctx, creds.Session.CSRFToken, sid))
	assert.ErrorIs(t, f.svc.ValidateCSRF(ctx, "forged", sid), apperr.ErrForbidden)
	assert.ErrorIs(t, f.svc.ValidateCSRF(ctx, "", sid), apperr.ErrForbidden)
	assert.ErrorIs(t, f.svc.ValidateCSRF(ctx, creds.Session.CSRFToken, "missing"), apperr.ErrForbidden)

	// A failed check leaves the session usable.
	_, err := f.svc.Authenticate(ctx, creds.Access.Token, sid)
	assert.NoError(t, err)
}

func TestDisappearSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u, err := f.svc.Signup(ctx, "A", "a@example.com", "secret1")
	require.NoError(t, err)

	require.NoError(t, f.svc.SetDisappear(ctx, u.ID, "peer-1", "5min"))
	assert.ErrorIs(t, f.svc.SetDisappear(ctx, u.ID, "peer-1", "forever"), apperr.ErrValidation)
	assert.ErrorIs(t, f.svc.SetDisappear(ctx, u.ID, "", "off"), apperr.ErrValidation)

	got, err := f.svc.DisappearSettings(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"peer-1": "5min"}, got)
}

func TestResolveIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, "127.0.0.1", f.svc.resolveIP(ctx, "::1"))
	assert.Equal(t, "127.0.0.1", f.svc.resolveIP(ctx, "127.0.0.1"))
	assert.Equal(t, "198.51.100.4", f.svc.resolveIP(ctx, "198.51.100.4"))
	assert.Equal(t, "203.0.113.7", f.svc.resolveIP(ctx, "10.0.0.5"))
}

func TestHTTPIPResolver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ip":"198.51.100.9"}`))
	}))
	defer srv.Close()

	r := NewHTTPIPResolver(srv.URL, logging.Nop())
	assert.Equal(t, "198.51.100.9", r.Resolve(context.Background(), "10.0.0.1"))

	broken := NewHTTPIPResolver("http://127.0.0.1:1", logging.Nop())
	assert.Equal(t, "10.0.0.1", broken.Resolve(context.Background(), "10.0.0.1"))
}
