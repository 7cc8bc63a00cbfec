package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"askzine/pkg/db"
)

// Cacher defines the caching interface.
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// Key derives a deterministic cache key from a canonicalized payload.
// encoding/json sorts map keys, so equal payloads always hash identically.
func Key(prefix string, payload any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Non-serializable payloads degrade to an uncacheable unique key.
		data = []byte(fmt.Sprintf("%#v|%d", payload, time.Now().UnixNano()))
	}
	sum := sha256.Sum256(data)
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// GetOrCompute returns the cached payload for key if a live entry exists;
// otherwise it invokes compute, stores the result with the given TTL, and
// returns it. Store failures are logged, never propagated: the computed value
// is still returned.
func GetOrCompute(ctx context.Context, c Cacher, key string, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if val, hit := c.Get(ctx, key); hit {
		return val, nil
	}

	val, err := compute(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.Set(ctx, key, val, ttl); err != nil {
		slog.Error("Failed to cache response", "key", key, "error", err)
	}
	return val, nil
}

// SQLiteCache implements Cacher using pkg/db. Expiry is checked lazily on
// read; a corrupted or unreadable entry is treated as a miss.
type SQLiteCache struct {
	db *db.DB
}

// NewSQLiteCache creates a new cache.
func NewSQLiteCache(d *db.DB) *SQLiteCache {
	return &SQLiteCache{db: d}
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

// Get returns the cached value for key, or a miss if the entry is absent,
// expired, or unreadable.
func (c *SQLiteCache) Get(ctx context.Context, key string) ([]byte, bool) {
	var (
		val       []byte
		ttlSecs   int64
		createdAt string
	)
	row := c.db.QueryRowContext(ctx, "SELECT value, ttl_seconds, created_at FROM cache WHERE key = ?", key)
	if err := row.Scan(&val, &ttlSecs, &createdAt); err != nil {
		// Missing or corrupted row: a miss either way.
		return nil, false
	}

	if ttlSecs > 0 {
		created, err := time.Parse(sqliteTimeLayout, createdAt)
		if err != nil {
			slog.Debug("Cache entry has unreadable timestamp, treating as miss", "key", key, "error", err)
			return nil, false
		}
		if time.Now().UTC().After(created.Add(time.Duration(ttlSecs) * time.Second)) {
			// Expired. Delete lazily, best effort.
			_, _ = c.db.ExecContext(ctx, "DELETE FROM cache WHERE key = ?", key)
			return nil, false
		}
	}

	return val, true
}

// Set stores val under key with the given TTL (0 = never expires). Keys are
// pure functions of request content, so concurrent writers for the same key
// write equivalent values and last-write-wins is fine.
func (c *SQLiteCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO cache (key, value, ttl_seconds, created_at) VALUES (?, ?, ?, ?)",
		key, val, int64(ttl.Seconds()), time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Memory is an in-process Cacher for tests and cache-less runs.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	val     []byte
	expires time.Time // zero = never
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]memEntry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false
	}
	return e.val, true
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	e := memEntry{val: val}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}
