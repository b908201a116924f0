package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrCacheMiss is returned by Get when the key has never been written.
var ErrCacheMiss = errors.New("reference cache miss")

// CacheRepository stores reference data (menu snapshots, price lists) the UI
// needs while the terminal is offline. Object-level get/put, JSON values.
type CacheRepository struct {
	db *sqlx.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *sqlx.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Put upserts a cached object.
func (r *CacheRepository) Put(key string, value json.RawMessage) error {
	const q = `
        INSERT INTO reference_cache (key, value, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	_, err := r.db.Exec(q, key, string(value), time.Now().UTC())
	return err
}

// Get returns the cached object for key, or ErrCacheMiss.
func (r *CacheRepository) Get(key string) (json.RawMessage, error) {
	const q = `SELECT value FROM reference_cache WHERE key = $1`
	var raw string
	if err := r.db.Get(&raw, q, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}
	return json.RawMessage(raw), nil
}
