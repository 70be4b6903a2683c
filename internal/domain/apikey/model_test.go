package apikey

import (
	"strings"
	"testing"
	"time"
)

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey("fv_abc123")
	b := HashKey("fv_abc123")
	if a != b {
		t.Errorf("HashKey not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
	if a == HashKey("fv_abc124") {
		t.Error("different keys produced the same hash")
	}
}

func TestHashEqual(t *testing.T) {
	h := HashKey("secret")

	if !HashEqual(h, h) {
		t.Error("HashEqual(h, h) = false")
	}
	if HashEqual(h, HashKey("other")) {
		t.Error("HashEqual matched different hashes")
	}
	if HashEqual("not-hex", h) {
		t.Error("HashEqual accepted invalid hex")
	}
	if HashEqual(h, h[:32]) {
		t.Error("HashEqual matched hashes of different length")
	}
}

func TestKeyExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	if (Key{}).Expired(now) {
		t.Error("key without expiry reported expired")
	}
	if (Key{ExpiresAt: &future}).Expired(now) {
		t.Error("future expiry reported expired")
	}
	if !(Key{ExpiresAt: &past}).Expired(now) {
		t.Error("past expiry not reported expired")
	}
}

func TestKeyIPAllowed(t *testing.T) {
	tests := []struct {
		name      string
		whitelist []string
		ip        string
		want      bool
	}{
		{"empty whitelist allows all", nil, "203.0.113.7", true},
		{"exact match", []string{"203.0.113.7"}, "203.0.113.7", true},
		{"no match", []string{"203.0.113.7"}, "203.0.113.8", false},
		{"cidr match", []string{"10.0.0.0/8"}, "10.42.1.1", true},
		{"cidr no match", []string{"10.0.0.0/8"}, "192.168.1.1", false},
		{"mixed entries", []string{"10.0.0.0/8", "203.0.113.7"}, "203.0.113.7", true},
		{"garbage entry skipped", []string{"not-an-ip", "203.0.113.7"}, "203.0.113.7", true},
		{"unparseable request ip", []string{"10.0.0.0/8"}, "garbage", false},
		{"ipv6 exact", []string{"2001:db8::1"}, "2001:db8::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := Key{IPWhitelist: tt.whitelist}
			if got := key.IPAllowed(tt.ip); got != tt.want {
				t.Errorf("IPAllowed(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestHasScope(t *testing.T) {
	key := Key{Scopes: []string{"accounts:read", "transactions:read"}}

	if !key.HasScope("accounts:read") {
		t.Error("HasScope missed a granted scope")
	}
	if key.HasScope("accounts:write") {
		t.Error("HasScope matched an absent scope")
	}
}

func TestPrefixLengthFitsRawKeys(t *testing.T) {
	// Issued keys start with "fv_"; the display prefix must cover more than
	// the static marker.
	if PrefixLength <= len("fv_") {
		t.Errorf("PrefixLength = %d, too short to be useful", PrefixLength)
	}
	raw := "fv_" + strings.Repeat("a", 48)
	if raw[:PrefixLength] == "fv_" {
		t.Error("prefix carries no key material")
	}
}
