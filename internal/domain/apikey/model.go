// Package apikey defines the API key domain model shared by the
// authenticator, the key stores and the issuance service.
package apikey

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"time"
)

// PrefixLength is the number of leading raw-key characters retained for
// display and lookup hints. The prefix alone can never authenticate.
const PrefixLength = 8

// Key is an issued API key. Only the hash of the raw secret is ever stored;
// the raw material exists transiently at issuance.
type Key struct {
	ID                 string
	OwnerID            string
	Name               string
	KeyHash            string
	KeyPrefix          string
	Scopes             []string
	RateLimitPerMinute int64
	DailyQuota         int64
	IPWhitelist        []string
	IsActive           bool
	CreatedAt          time.Time
	ExpiresAt          *time.Time
	LastUsedAt         *time.Time
	UsageCount         int64
}

// RateLimitWindow is the per-minute counter bucket for a key.
type RateLimitWindow struct {
	KeyID       string
	WindowStart time.Time
	Count       int64
}

// DailyQuota is the per-day counter bucket for a key.
type DailyQuota struct {
	KeyID string
	Day   time.Time
	Count int64
}

// HashKey returns the hex SHA-256 digest of a raw key. Lookup and storage
// operate on this digest only.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HashEqual compares two hex digests in constant time.
func HashEqual(a, b string) bool {
	ab, err := hex.DecodeString(a)
	if err != nil {
		return false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return false
	}
	if len(ab) != len(bb) {
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}

// HasScope reports whether the key carries the given scope.
func (k Key) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Expired reports whether the key has an expiry in the past relative to now.
func (k Key) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// IPAllowed reports whether ip is permitted by the key's whitelist. An empty
// whitelist allows every address; entries may be single IPs or CIDR ranges.
// Unparseable whitelist entries are skipped rather than failing open.
func (k Key) IPAllowed(ip string) bool {
	if len(k.IPWhitelist) == 0 {
		return true
	}
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	for _, entry := range k.IPWhitelist {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if cidr.Contains(addr) {
				return true
			}
			continue
		}
		if allowed := net.ParseIP(entry); allowed != nil && allowed.Equal(addr) {
			return true
		}
	}
	return false
}
