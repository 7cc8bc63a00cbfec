package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askzine/pkg/db"
)

func newTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "cache_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewSQLiteCache(d)
}

func TestSQLiteCacheRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, hit := c.Get(ctx, "missing")
	assert.False(t, hit)

	require.NoError(t, c.Set(ctx, "k", []byte("payload"), time.Hour))

	val, hit := c.Get(ctx, "k")
	require.True(t, hit)
	assert.Equal(t, []byte("payload"), val)
}

func TestSQLiteCacheExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))

	// Backdate the entry well past its TTL.
	_, err := c.db.Exec("UPDATE cache SET created_at = ? WHERE key = ?",
		time.Now().UTC().Add(-time.Minute).Format(sqliteTimeLayout), "k")
	require.NoError(t, err)

	_, hit := c.Get(ctx, "k")
	assert.False(t, hit, "expired entry must read as a miss")

	// The expired row is deleted lazily.
	var count int
	require.NoError(t, c.db.QueryRow("SELECT count(*) FROM cache WHERE key = 'k'").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSQLiteCacheCorruptedEntryIsMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Hour))

	// Mangle the timestamp so the stored row no longer parses.
	_, err := c.db.Exec("UPDATE cache SET created_at = 'garbage' WHERE key = 'k'")
	require.NoError(t, err)

	_, hit := c.Get(ctx, "k")
	assert.False(t, hit, "corrupted entry must degrade to a miss, not an error")
}

func TestGetOrCompute(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	calls := 0
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("result"), nil
	}

	v1, err := GetOrCompute(ctx, c, "k", time.Hour, compute)
	require.NoError(t, err)
	v2, err := GetOrCompute(ctx, c, "k", time.Hour, compute)
	require.NoError(t, err)

	assert.Equal(t, v1, v2, "payloads must be identical")
	assert.Equal(t, 1, calls, "compute must run at most once while the entry is live")
}

func TestGetOrComputeError(t *testing.T) {
	c := NewMemory()
	wantErr := errors.New("upstream down")

	_, err := GetOrCompute(context.Background(), c, "k", time.Hour, func(context.Context) ([]byte, error) {
		return nil, wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	_, hit := c.Get(context.Background(), "k")
	assert.False(t, hit, "failed computes must not be cached")
}

func TestKeyDeterminism(t *testing.T) {
	type payload struct {
		Prompt string
		Style  string
		Params map[string]string
	}

	a := payload{Prompt: "p", Style: "s", Params: map[string]string{"b": "2", "a": "1"}}
	b := payload{Prompt: "p", Style: "s", Params: map[string]string{"a": "1", "b": "2"}}

	assert.Equal(t, Key("img", a), Key("img", b), "key must be a pure function of content")
	assert.NotEqual(t, Key("img", a), Key("txt", a))
}
