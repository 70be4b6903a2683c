package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/finvault/gateway/internal/domain/apikey"
	"github.com/finvault/gateway/internal/logging"
	"github.com/finvault/gateway/internal/storage"
)

// rawKeyPrefix marks finvault gateway keys so leaked secrets are
// recognizable in scanning tools.
const rawKeyPrefix = "fv_"

// rawKeyBytes is the entropy of the secret portion of a raw key.
const rawKeyBytes = 24

// IssueRequest describes a key to create. Zero limits fall back to the
// issuer defaults.
type IssueRequest struct {
	OwnerID            string
	Name               string
	Scopes             []string
	RateLimitPerMinute int64
	DailyQuota         int64
	IPWhitelist        []string
	ExpiresAt          *time.Time
}

// IssuedKey pairs the stored record with the raw secret. The raw key is
// returned exactly once and never persisted.
type IssuedKey struct {
	Key    apikey.Key
	RawKey string
}

// Issuer creates and revokes API keys.
type Issuer struct {
	store  storage.KeyStore
	logger *logging.Logger

	defaultPerMinute int64
	defaultDaily     int64
}

// NewIssuer creates an issuer with the given default limits.
func NewIssuer(store storage.KeyStore, logger *logging.Logger, defaultPerMinute, defaultDaily int64) *Issuer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Issuer{
		store:            store,
		logger:           logger,
		defaultPerMinute: defaultPerMinute,
		defaultDaily:     defaultDaily,
	}
}

// Issue generates a fresh key, stores its hash and returns the raw secret.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (IssuedKey, error) {
	if req.OwnerID == "" {
		return IssuedKey{}, fmt.Errorf("owner id is required")
	}

	raw, err := generateRawKey()
	if err != nil {
		return IssuedKey{}, fmt.Errorf("generate key material: %w", err)
	}

	perMinute := req.RateLimitPerMinute
	if perMinute == 0 {
		perMinute = i.defaultPerMinute
	}
	daily := req.DailyQuota
	if daily == 0 {
		daily = i.defaultDaily
	}

	key := apikey.Key{
		OwnerID:            req.OwnerID,
		Name:               req.Name,
		KeyHash:            apikey.HashKey(raw),
		KeyPrefix:          raw[:apikey.PrefixLength],
		Scopes:             req.Scopes,
		RateLimitPerMinute: perMinute,
		DailyQuota:         daily,
		IPWhitelist:        req.IPWhitelist,
		IsActive:           true,
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          req.ExpiresAt,
	}

	stored, err := i.store.CreateKey(ctx, key)
	if err != nil {
		return IssuedKey{}, fmt.Errorf("store key: %w", err)
	}

	i.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"key_id": stored.ID,
		"owner":  stored.OwnerID,
		"prefix": stored.KeyPrefix,
	}).Info("api key issued")

	return IssuedKey{Key: stored, RawKey: raw}, nil
}

// Revoke deactivates a key. Revoked keys fail verification immediately; the
// record is kept for audit.
func (i *Issuer) Revoke(ctx context.Context, keyID string) error {
	key, err := i.store.GetKey(ctx, keyID)
	if err != nil {
		return err
	}
	key.IsActive = false
	if _, err := i.store.UpdateKey(ctx, key); err != nil {
		return err
	}

	i.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"key_id": key.ID,
		"prefix": key.KeyPrefix,
	}).Info("api key revoked")
	return nil
}

// List returns an owner's keys. Hashes are cleared so handlers cannot leak
// them.
func (i *Issuer) List(ctx context.Context, ownerID string) ([]apikey.Key, error) {
	keys, err := i.store.ListKeys(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for idx := range keys {
		keys[idx].KeyHash = ""
	}
	return keys, nil
}

func generateRawKey() (string, error) {
	buf := make([]byte, rawKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return rawKeyPrefix + hex.EncodeToString(buf), nil
}
