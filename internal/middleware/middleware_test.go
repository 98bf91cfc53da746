package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/auth"
	"github.com/iliyamo/echosecure-chat/internal/config"
	"github.com/iliyamo/echosecure-chat/internal/logging"
)

type stubAuth struct {
	gotAccess, gotSession string
	principal             auth.Principal
	err                   error
	csrfErr               error
	csrfCalls             int
}

func (s *stubAuth) Authenticate(_ context.Context, access, session string) (auth.Principal, error) {
	s.gotAccess, s.gotSession = access, session
	return s.principal, s.err
}

func (s *stubAuth) ValidateCSRF(_ context.Context, header, sid string) error {
	s.csrfCalls++
	if header == "" || sid == "" {
		return apperr.Forbidden("CSRF token missing")
	}
	return s.csrfErr
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"user": UserID(c), "session": SessionID(c)})
}

func TestRequireSession(t *testing.T) {
	a := &stubAuth{principal: auth.Principal{UserID: "u1", SessionID: "s1"}}
	e := echo.New()
	e.GET("/me", whoami, RequireSession(a, logging.Nop()))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: AccessCookie, Value: "tok"})
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "s1"})
	rec := serve(e, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"u1","session":"s1"}`, rec.Body.String())
	assert.Equal(t, "tok", a.gotAccess)
	assert.Equal(t, "s1", a.gotSession)
}

func TestRequireSession_Rejects(t *testing.T) {
	a := &stubAuth{err: apperr.Auth("Unauthorized - No token provided")}
	e := echo.New()
	e.GET("/me", whoami, RequireSession(a, logging.Nop()))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized - No token provided"}`, rec.Body.String())

	a.err = apperr.Internal("load session", assert.AnError)
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
}

func TestRequireCSRF(t *testing.T) {
	a := &stubAuth{principal: auth.Principal{UserID: "u1", SessionID: "s1"}}
	e := echo.New()
	g := e.Group("", RequireSession(a, logging.Nop()), RequireCSRF(a, logging.Nop()))
	g.GET("/x", whoami)
	g.POST("/x", whoami)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, a.csrfCalls)

	rec = serve(e, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(CSRFHeader, "good")
	rec = serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	a.csrfErr = apperr.Forbidden("Invalid CSRF token")
	req = httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(CSRFHeader, "bad")
	rec = serve(e, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid CSRF token"}`, rec.Body.String())
}

func TestNewTokenBucket_DisabledPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(config.RateLimitConfig{Enabled: false}, nil, logging.Nop()))

	for i := 0; i < 5; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestNewTokenBucket_FailsOpenWhenRedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}

	e := echo.New()
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, rdb, logging.Nop()))

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.Header.Set(echo.HeaderXRealIP, "203.0.113.9")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/auth/login")

	cases := map[string]string{
		"ip":         "rl:ip:203.0.113.9",
		"user":       "rl:user:anon",
		"ip_route":   "rl:ip:203.0.113.9:route:POST /api/auth/login",
		"":           "rl:ip:203.0.113.9:user:anon:route:POST /api/auth/login",
		"user_route": "rl:user:anon:route:POST /api/auth/login",
	}
	for strategy, want := range cases {
		assert.Equal(t, want, buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: strategy}, c), strategy)
	}

	c.Set(userIDKey, "u1")
	assert.Equal(t, "rl:user:u1", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}, c))
}
