// Package middleware provides HTTP middleware for the gateway edge.
package middleware

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// InternalAuthHeader is the header carrying the minted exchange token on
// proxied downstream requests.
const InternalAuthHeader = "Authorization"

// ExchangeClaims are the JWT claims of an internal exchange token.
type ExchangeClaims struct {
	Scopes []string `json:"scopes"`
	KeyID  string   `json:"key_id"`
	jwt.RegisteredClaims
}

// TokenMinter mints and parses short-lived internal exchange tokens. Tokens
// are request-scoped credentials; nothing is ever persisted.
type TokenMinter struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenMinter creates a minter. ttl should be minutes, not hours.
func NewTokenMinter(secret []byte, issuer string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenMinter{secret: secret, issuer: issuer, ttl: ttl}
}

// Mint creates a signed exchange token for the verified subject.
func (tm *TokenMinter) Mint(subject, keyID string, scopes []string) (string, error) {
	now := time.Now()
	claims := &ExchangeClaims{
		Scopes: scopes,
		KeyID:  keyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tm.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("sign exchange token: %w", err)
	}
	return signed, nil
}

// Parse validates a signed exchange token and returns its claims.
func (tm *TokenMinter) Parse(tokenString string) (*ExchangeClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ExchangeClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse exchange token: %w", err)
	}
	claims, ok := token.Claims.(*ExchangeClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid exchange token")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (tm *TokenMinter) TTL() time.Duration { return tm.ttl }
