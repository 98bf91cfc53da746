package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/echosecure-chat/internal/apperr"
	"github.com/iliyamo/echosecure-chat/internal/auth"
	"github.com/iliyamo/echosecure-chat/internal/logging"
	"github.com/iliyamo/echosecure-chat/internal/middleware"
)

// AuthHandler bundles the auth endpoints.
type AuthHandler struct {
	Auth    *auth.Service
	Cookies CookiePolicy
	Log     logging.Logger
	now     func() time.Time
}

func NewAuthHandler(svc *auth.Service, cookies CookiePolicy, log logging.Logger) *AuthHandler {
	return &AuthHandler{Auth: svc, Cookies: cookies, Log: log, now: time.Now}
}

// ----- DTOs -----

type signupReq struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Password string `json:"password"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type verifyReq struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}
type disappearReq struct {
	TargetID string `json:"targetId"`
	Setting  string `json:"setting"`
}

// Signup: create the account. Logging in is a separate step.
func (h *AuthHandler) Signup(c echo.Context) error {
	var req signupReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	u, err := h.Auth.Signup(ctx, req.FullName, req.Email, req.Password)
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusCreated, u)
}

// Login: check the password and mail a passcode.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := h.Auth.Login(ctx, req.Email, req.Password); err != nil {
		return failAs(c, h.Log, err, apperr.KindAuth, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, echo.Map{"otpPending": true, "message": "OTP sent to your email"})
}

// VerifyOTP: consume the passcode, open a session and set the cookies.
func (h *AuthHandler) VerifyOTP(c echo.Context) error {
	var req verifyReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	u, creds, err := h.Auth.VerifyOTP(ctx, req.Email, req.OTP, c.RealIP())
	if err != nil {
		return failAs(c, h.Log, err, apperr.KindAuth, http.StatusBadRequest)
	}
	h.Cookies.setSession(c, creds, h.now())
	return c.JSON(http.StatusOK, u)
}

// RefreshToken: new access token cookie from the refresh token cookie.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	var raw string
	if ck, err := c.Cookie(middleware.RefreshCookie); err == nil {
		raw = ck.Value
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	access, err := h.Auth.Refresh(ctx, raw)
	if err != nil {
		return fail(c, h.Log, err)
	}
	c.SetCookie(h.Cookies.cookie(middleware.AccessCookie, access.Token, access.Exp.Sub(h.now()), true))
	return c.JSON(http.StatusOK, echo.Map{"message": "Token refreshed"})
}

// Logout: drop the session row and clear every cookie.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := h.Auth.Logout(ctx, middleware.SessionID(c)); err != nil {
		return fail(c, h.Log, err)
	}
	h.Cookies.clear(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "Logged out successfully"})
}

// Check returns the signed-in user.
func (h *AuthHandler) Check(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	u, err := h.Auth.Me(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, u)
}

func (h *AuthHandler) GetDisappear(c echo.Context) error {
	ctx, cancel := withTimeout(c)
	defer cancel()

	settings, err := h.Auth.DisappearSettings(ctx, middleware.UserID(c))
	if err != nil {
		return fail(c, h.Log, err)
	}
	if settings == nil {
		settings = map[string]string{}
	}
	return c.JSON(http.StatusOK, settings)
}

func (h *AuthHandler) SetDisappear(c echo.Context) error {
	var req disappearReq
	if err := c.Bind(&req); err != nil {
		return badBody(c)
	}
	ctx, cancel := withTimeout(c)
	defer cancel()

	if err := h.Auth.SetDisappear(ctx, middleware.UserID(c), req.TargetID, req.Setting); err != nil {
		return fail(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"targetId": req.TargetID, "setting": req.Setting})
}
