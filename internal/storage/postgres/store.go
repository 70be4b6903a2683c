// Package postgres implements the KeyStore backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/finvault/gateway/internal/domain/apikey"
	"github.com/finvault/gateway/internal/storage"
)

// Store implements storage.KeyStore backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.KeyStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

const keyColumns = `id, owner_id, name, key_hash, key_prefix, scopes, rate_limit_per_minute,
	daily_quota, ip_whitelist, is_active, created_at, expires_at, last_used_at, usage_count`

type keyRow struct {
	ID                 string         `db:"id"`
	OwnerID            string         `db:"owner_id"`
	Name               string         `db:"name"`
	KeyHash            string         `db:"key_hash"`
	KeyPrefix          string         `db:"key_prefix"`
	Scopes             pq.StringArray `db:"scopes"`
	RateLimitPerMinute int64          `db:"rate_limit_per_minute"`
	DailyQuota         int64          `db:"daily_quota"`
	IPWhitelist        pq.StringArray `db:"ip_whitelist"`
	IsActive           bool           `db:"is_active"`
	CreatedAt          time.Time      `db:"created_at"`
	ExpiresAt          *time.Time     `db:"expires_at"`
	LastUsedAt         *time.Time     `db:"last_used_at"`
	UsageCount         int64          `db:"usage_count"`
}

func (r keyRow) toDomain() apikey.Key {
	return apikey.Key{
		ID:                 r.ID,
		OwnerID:            r.OwnerID,
		Name:               r.Name,
		KeyHash:            r.KeyHash,
		KeyPrefix:          r.KeyPrefix,
		Scopes:             []string(r.Scopes),
		RateLimitPerMinute: r.RateLimitPerMinute,
		DailyQuota:         r.DailyQuota,
		IPWhitelist:        []string(r.IPWhitelist),
		IsActive:           r.IsActive,
		CreatedAt:          r.CreatedAt,
		ExpiresAt:          r.ExpiresAt,
		LastUsedAt:         r.LastUsedAt,
		UsageCount:         r.UsageCount,
	}
}

func (s *Store) CreateKey(ctx context.Context, key apikey.Key) (apikey.Key, error) {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix,
		pq.StringArray(key.Scopes), key.RateLimitPerMinute, key.DailyQuota,
		pq.StringArray(key.IPWhitelist), key.IsActive, key.CreatedAt,
		key.ExpiresAt, key.LastUsedAt, key.UsageCount)
	if err != nil {
		return apikey.Key{}, err
	}
	return key, nil
}

func (s *Store) UpdateKey(ctx context.Context, key apikey.Key) (apikey.Key, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET name = $2, scopes = $3, rate_limit_per_minute = $4, daily_quota = $5,
			ip_whitelist = $6, is_active = $7, expires_at = $8
		WHERE id = $1
	`, key.ID, key.Name, pq.StringArray(key.Scopes), key.RateLimitPerMinute,
		key.DailyQuota, pq.StringArray(key.IPWhitelist), key.IsActive, key.ExpiresAt)
	if err != nil {
		return apikey.Key{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return apikey.Key{}, storage.ErrNotFound
	}
	return s.GetKey(ctx, key.ID)
}

func (s *Store) GetKey(ctx context.Context, id string) (apikey.Key, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+keyColumns+` FROM api_keys WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return apikey.Key{}, storage.ErrNotFound
	}
	if err != nil {
		return apikey.Key{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetKeyByHash(ctx context.Context, keyHash string) (apikey.Key, error) {
	var row keyRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1
	`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return apikey.Key{}, storage.ErrNotFound
	}
	if err != nil {
		return apikey.Key{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListKeys(ctx context.Context, ownerID string) ([]apikey.Key, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys ORDER BY created_at`
	args := []interface{}{}
	if ownerID != "" {
		query = `SELECT ` + keyColumns + ` FROM api_keys WHERE owner_id = $1 ORDER BY created_at`
		args = append(args, ownerID)
	}

	var rows []keyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]apikey.Key, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// TouchKey bumps the usage counter in a single UPDATE so concurrent touches
// never lose increments.
func (s *Store) TouchKey(ctx context.Context, id string, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET usage_count = usage_count + 1, last_used_at = $2
		WHERE id = $1
	`, id, usedAt)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}
