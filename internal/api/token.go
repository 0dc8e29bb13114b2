package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the lifetime of minted bearer tokens.
const DefaultTokenTTL = 5 * time.Minute

// TokenSource produces the bearer token attached to a submission for eui.
type TokenSource interface {
	Token(eui string) (string, error)
}

// StaticToken always returns the same pre-shared token.
type StaticToken string

func (s StaticToken) Token(string) (string, error) {
	return string(s), nil
}

// JWTSigner mints a short-lived HS256 token per submission, with the device
// EUI as subject and the agent id as issuer.
type JWTSigner struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTSigner creates a signer. ttl defaults to DefaultTokenTTL.
func NewJWTSigner(secret []byte, issuer string, ttl time.Duration) (*JWTSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTSigner{secret: secret, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

func (s *JWTSigner) Token(eui string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   eui,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
