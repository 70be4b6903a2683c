package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/finvault/gateway/internal/domain/apikey"
	"github.com/finvault/gateway/internal/storage"
)

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateKey(ctx, apikey.Key{
		OwnerID:   "owner-1",
		Name:      "reporting",
		KeyHash:   apikey.HashKey("fv_abcdef123456"),
		KeyPrefix: "fv_abcdef123456"[:apikey.PrefixLength],
		Scopes:    []string{"accounts:read"},
		IsActive:  true,
	})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}
	if created.ID == "" {
		t.Fatal("no id assigned")
	}
	if created.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err := s.GetKey(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if got.Name != "reporting" || got.OwnerID != "owner-1" {
		t.Errorf("unexpected key %+v", got)
	}
}

func TestGetKeyByHash(t *testing.T) {
	s := New()
	ctx := context.Background()

	hash := apikey.HashKey("fv_lookup")
	created, err := s.CreateKey(ctx, apikey.Key{OwnerID: "owner-1", KeyHash: hash, IsActive: true})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	got, err := s.GetKeyByHash(ctx, hash)
	if err != nil {
		t.Fatalf("GetKeyByHash: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("id = %q, want %q", got.ID, created.ID)
	}

	if _, err := s.GetKeyByHash(ctx, apikey.HashKey("fv_other")); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown hash error = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectsDuplicateHash(t *testing.T) {
	s := New()
	ctx := context.Background()

	hash := apikey.HashKey("fv_dup")
	if _, err := s.CreateKey(ctx, apikey.Key{OwnerID: "a", KeyHash: hash}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := s.CreateKey(ctx, apikey.Key{OwnerID: "b", KeyHash: hash}); err == nil {
		t.Error("duplicate hash accepted")
	}
}

func TestUpdateKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateKey(ctx, apikey.Key{OwnerID: "owner-1", KeyHash: apikey.HashKey("fv_upd"), IsActive: true})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	created.IsActive = false
	updated, err := s.UpdateKey(ctx, created)
	if err != nil {
		t.Fatalf("UpdateKey: %v", err)
	}
	if updated.IsActive {
		t.Error("update not applied")
	}

	got, _ := s.GetKey(ctx, created.ID)
	if got.IsActive {
		t.Error("update not persisted")
	}

	if _, err := s.UpdateKey(ctx, apikey.Key{ID: "999"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("update of unknown key = %v, want ErrNotFound", err)
	}
}

func TestListKeysFiltersByOwner(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i, owner := range []string{"alice", "alice", "bob"} {
		if _, err := s.CreateKey(ctx, apikey.Key{OwnerID: owner, KeyHash: apikey.HashKey(string(rune('a' + i)))}); err != nil {
			t.Fatalf("CreateKey: %v", err)
		}
	}

	keys, err := s.ListKeys(ctx, "alice")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("alice has %d keys, want 2", len(keys))
	}

	all, err := s.ListKeys(ctx, "")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all = %d keys, want 3", len(all))
	}
}

func TestTouchKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateKey(ctx, apikey.Key{OwnerID: "owner-1", KeyHash: apikey.HashKey("fv_touch")})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	usedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.TouchKey(ctx, created.ID, usedAt); err != nil {
		t.Fatalf("TouchKey: %v", err)
	}

	got, _ := s.GetKey(ctx, created.ID)
	if got.UsageCount != 1 {
		t.Errorf("usage count = %d, want 1", got.UsageCount)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Errorf("last used at = %v, want %v", got.LastUsedAt, usedAt)
	}

	if err := s.TouchKey(ctx, "999", usedAt); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("touch of unknown key = %v, want ErrNotFound", err)
	}
}

func TestTouchKeyConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateKey(ctx, apikey.Key{OwnerID: "owner-1", KeyHash: apikey.HashKey("fv_conc")})
	if err != nil {
		t.Fatalf("CreateKey: %v", err)
	}

	const workers = 100
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			s.TouchKey(ctx, created.ID, time.Now())
		}()
	}
	wg.Wait()

	got, _ := s.GetKey(ctx, created.ID)
	if got.UsageCount != workers {
		t.Errorf("usage count = %d, want %d", got.UsageCount, workers)
	}
}
