// Package identity defines the third-party identity verification model.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// UserInfo is the verified identity returned by a provider.
type UserInfo struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`

	// Degraded marks a result served from the fallback cache rather than a
	// fresh provider verification. Callers must treat degraded identities
	// with reduced trust.
	Degraded bool `json:"degraded,omitempty"`
}

// CachedVerification is the last-known-good verification result stored per
// (provider, token fingerprint).
type CachedVerification struct {
	User     UserInfo      `json:"user"`
	CachedAt time.Time     `json:"cached_at"`
	TTL      time.Duration `json:"ttl"`
	Degraded bool          `json:"degraded"`
}

// Expired reports whether the entry is past its TTL relative to now. Expiry
// is checked lazily on every read; entries past TTL are never served,
// degraded or not.
func (c CachedVerification) Expired(now time.Time) bool {
	return now.Sub(c.CachedAt) >= c.TTL
}

// Fingerprint returns the hex SHA-256 digest of a raw identity token. Cache
// keys and log fields carry this digest, never the token itself.
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
