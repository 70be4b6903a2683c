// Package memory provides an in-memory KeyStore. It is safe for concurrent
// use and is primarily intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finvault/gateway/internal/domain/apikey"
	"github.com/finvault/gateway/internal/storage"
)

// Store is an in-memory implementation of storage.KeyStore.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	keys       map[string]apikey.Key
	keysByHash map[string]string
}

var _ storage.KeyStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:     1,
		keys:       make(map[string]apikey.Key),
		keysByHash: make(map[string]string),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) CreateKey(_ context.Context, key apikey.Key) (apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == "" {
		key.ID = s.nextIDLocked()
	} else if _, exists := s.keys[key.ID]; exists {
		return apikey.Key{}, fmt.Errorf("key %s already exists", key.ID)
	}
	if _, exists := s.keysByHash[key.KeyHash]; exists {
		return apikey.Key{}, fmt.Errorf("key hash collision for %s", key.KeyPrefix)
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	s.keys[key.ID] = key
	s.keysByHash[key.KeyHash] = key.ID
	return key, nil
}

func (s *Store) UpdateKey(_ context.Context, key apikey.Key) (apikey.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.keys[key.ID]
	if !ok {
		return apikey.Key{}, storage.ErrNotFound
	}
	if existing.KeyHash != key.KeyHash {
		delete(s.keysByHash, existing.KeyHash)
		s.keysByHash[key.KeyHash] = key.ID
	}
	s.keys[key.ID] = key
	return key, nil
}

func (s *Store) GetKey(_ context.Context, id string) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[id]
	if !ok {
		return apikey.Key{}, storage.ErrNotFound
	}
	return key, nil
}

func (s *Store) GetKeyByHash(_ context.Context, keyHash string) (apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.keysByHash[keyHash]
	if !ok {
		return apikey.Key{}, storage.ErrNotFound
	}
	return s.keys[id], nil
}

func (s *Store) ListKeys(_ context.Context, ownerID string) ([]apikey.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []apikey.Key
	for _, key := range s.keys {
		if ownerID == "" || key.OwnerID == ownerID {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *Store) TouchKey(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return storage.ErrNotFound
	}
	key.UsageCount++
	t := usedAt
	key.LastUsedAt = &t
	s.keys[id] = key
	return nil
}
