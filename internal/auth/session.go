// Package auth covers both sides of authentication: the redirect-based
// Auth0 flow that resolves an identity, and the signed session tokens
// that carry that identity back on every request.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shelfspace-app/shelfspace-back/internal/config"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

type (
	// Identity is what a completed login resolves to.
	Identity struct {
		ExternalID string
		Name       string
		Picture    string
	}

	// SessionClaims is the payload of a session token. Signup tokens are
	// the short-lived variant issued between callback and username
	// choice; they never grant access to guarded routes.
	SessionClaims struct {
		Name    string `json:"name,omitempty"`
		Picture string `json:"picture,omitempty"`
		Signup  bool   `json:"signup,omitempty"`
		jwt.RegisteredClaims
	}

	Sessions struct {
		secret    []byte
		ttl       time.Duration
		signupTTL time.Duration
	}
)

func NewSessions(cfg *config.Config) *Sessions {
	return &Sessions{
		secret:    []byte(cfg.SessionSecret),
		ttl:       time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		signupTTL: time.Duration(cfg.SignupTTLMinutes) * time.Minute,
	}
}

func (s *Sessions) Issue(id Identity) (string, error) {
	return s.sign(id, false, s.ttl)
}

func (s *Sessions) IssueSignup(id Identity) (string, error) {
	return s.sign(id, true, s.signupTTL)
}

func (s *Sessions) sign(id Identity, signup bool, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Name:    id.Name,
		Picture: id.Picture,
		Signup:  signup,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ExternalID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "shelfspace",
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign session token")
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the carried
// identity plus whether this is a signup-only token.
func (s *Sessions) Verify(tokenString string) (Identity, bool, error) {
	if tokenString == "" {
		return Identity{}, false, ErrInvalidToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, false, ErrExpiredToken
		}
		return Identity{}, false, ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return Identity{}, false, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, false, ErrInvalidToken
	}

	return Identity{
		ExternalID: claims.Subject,
		Name:       claims.Name,
		Picture:    claims.Picture,
	}, claims.Signup, nil
}
