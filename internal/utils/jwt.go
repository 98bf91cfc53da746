package utils // package utils provides helpers for token creation, hashing and randomness

import (
	"crypto/rand"  // secure random number generation
	"encoding/hex" // hex encoding for session ids and CSRF tokens
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and verifying signed tokens
)

// SignedToken is a serialized JWT together with its expiry.
type SignedToken struct {
	Token string
	Exp   time.Time
}

// Claims carries the user id in `sub` and the session the token was issued
// for in `sid`. Both access and refresh tokens use this shape; they differ
// only by signing secret and lifetime.
type Claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

var ErrInvalidToken = errors.New("invalid token")

// NewAccessToken signs a short-lived HS256 token for userID bound to sessionID.
func NewAccessToken(secret, userID, sessionID string, ttl time.Duration) (SignedToken, error) {
	return sign(secret, userID, sessionID, ttl)
}

// NewRefreshToken signs a long-lived HS256 token. It must use a different
// secret than access tokens so one can never stand in for the other.
func NewRefreshToken(secret, userID, sessionID string, ttl time.Duration) (SignedToken, error) {
	return sign(secret, userID, sessionID, ttl)
}

func sign(secret, userID, sessionID string, ttl time.Duration) (SignedToken, error) {
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(secret))
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: signed, Exp: exp}, nil
}

// ParseToken verifies raw with secret and returns its claims. Expired,
// tampered or non-HMAC tokens yield ErrInvalidToken.
func ParseToken(secret, raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// RandomHex returns n bytes of cryptographically secure randomness as hex.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
