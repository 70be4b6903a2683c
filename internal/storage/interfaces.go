package storage

import (
	"context"
	"errors"
	"time"

	"github.com/finvault/gateway/internal/domain/apikey"
)

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("storage: not found")

// KeyStore persists API key records. Lookups are by hash, never by prefix,
// so a miss and a hit cost the same store round trip.
type KeyStore interface {
	CreateKey(ctx context.Context, key apikey.Key) (apikey.Key, error)
	UpdateKey(ctx context.Context, key apikey.Key) (apikey.Key, error)
	GetKey(ctx context.Context, id string) (apikey.Key, error)
	GetKeyByHash(ctx context.Context, keyHash string) (apikey.Key, error)
	ListKeys(ctx context.Context, ownerID string) ([]apikey.Key, error)

	// TouchKey atomically increments the lifetime usage counter and records
	// the use time. The increment must never be a read-modify-write.
	TouchKey(ctx context.Context, id string, usedAt time.Time) error
}
