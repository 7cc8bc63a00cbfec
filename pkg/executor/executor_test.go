package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askzine/pkg/cache"
	"askzine/pkg/config"
	"askzine/pkg/llm"
	"askzine/pkg/model"
	"askzine/pkg/tracker"
)

func testConfig() config.GeneratorConfig {
	return config.GeneratorConfig{
		Concurrency: 4,
		RateLimit:   1000,
		RateWindow:  config.Duration(time.Second),
		MaxAttempts: 5,
		Backoff: config.BackoffConfig{
			BaseDelay: config.Duration(10 * time.Millisecond),
			MaxDelay:  config.Duration(100 * time.Millisecond),
		},
	}
}

func requests(n int) []model.GenerationRequest {
	var reqs []model.GenerationRequest
	for i := 0; i < n; i++ {
		reqs = append(reqs, model.GenerationRequest{
			ID:     fmt.Sprintf("task-%d", i),
			Prompt: fmt.Sprintf("prompt %d", i),
			Style:  "minimalist",
		})
	}
	return reqs
}

func TestRunAllSucceed(t *testing.T) {
	e := New(testConfig(), time.Hour, cache.NewMemory(), tracker.New())

	results := e.Run(context.Background(), requests(8), func(_ context.Context, req model.GenerationRequest) ([]byte, error) {
		return []byte("payload:" + req.ID), nil
	})

	require.Len(t, results, 8)
	for id, r := range results {
		assert.Equal(t, model.StatusSucceeded, r.Status)
		assert.Equal(t, []byte("payload:"+id), r.Payload)
	}
}

func TestTransientRetryThenSuccess(t *testing.T) {
	// Fails with a transient error 3 times, succeeds on the 4th attempt.
	e := New(testConfig(), time.Hour, cache.NewMemory(), nil)

	var calls atomic.Int32
	start := time.Now()
	results := e.Run(context.Background(), requests(1), func(context.Context, model.GenerationRequest) ([]byte, error) {
		if calls.Add(1) <= 3 {
			return nil, llm.Transient(errors.New("server overloaded"))
		}
		return []byte("ok"), nil
	})

	r := results["task-0"]
	require.Equal(t, model.StatusSucceeded, r.Status)
	assert.Equal(t, 4, r.Attempts)
	// Backoff delays for the first three failures: 10ms + 20ms + 40ms.
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestFatalFailsImmediately(t *testing.T) {
	e := New(testConfig(), time.Hour, cache.NewMemory(), nil)

	var calls atomic.Int32
	results := e.Run(context.Background(), requests(1), func(context.Context, model.GenerationRequest) ([]byte, error) {
		calls.Add(1)
		return nil, llm.Fatal(errors.New("invalid key"))
	})

	r := results["task-0"]
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Equal(t, int32(1), calls.Load(), "fatal errors must not be retried")
	assert.True(t, llm.IsFatal(r.Err))
}

func TestAttemptBudgetExhausted(t *testing.T) {
	e := New(testConfig(), time.Hour, cache.NewMemory(), nil)

	var calls atomic.Int32
	results := e.Run(context.Background(), requests(1), func(context.Context, model.GenerationRequest) ([]byte, error) {
		calls.Add(1)
		return nil, llm.Transient(errors.New("still down"))
	})

	r := results["task-0"]
	assert.Equal(t, model.StatusFailed, r.Status)
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, 5, r.Attempts)
	assert.Error(t, r.Err, "an exhausted task appears in the report, never silently dropped")
}

func TestPartialFailure(t *testing.T) {
	e := New(testConfig(), time.Hour, cache.NewMemory(), nil)

	results := e.Run(context.Background(), requests(6), func(_ context.Context, req model.GenerationRequest) ([]byte, error) {
		if req.ID == "task-2" {
			return nil, llm.Fatal(errors.New("bad request"))
		}
		return []byte("ok"), nil
	})

	require.Len(t, results, 6)
	assert.Equal(t, model.StatusFailed, results["task-2"].Status)
	assert.Len(t, Succeeded(results), 5)
}

func TestCacheHitSkipsGeneration(t *testing.T) {
	mem := cache.NewMemory()
	e := New(testConfig(), time.Hour, mem, tracker.New())

	var calls atomic.Int32
	fn := func(context.Context, model.GenerationRequest) ([]byte, error) {
		calls.Add(1)
		return []byte("fresh"), nil
	}

	first := e.Run(context.Background(), requests(1), fn)
	second := e.Run(context.Background(), requests(1), fn)

	assert.Equal(t, int32(1), calls.Load(), "second run must be served from cache")
	assert.Equal(t, first["task-0"].Payload, second["task-0"].Payload)
	assert.True(t, second["task-0"].Cached)
}

func TestBudgetExpiryAbandonsRemaining(t *testing.T) {
	cfg := testConfig()
	cfg.Concurrency = 1
	e := New(cfg, time.Hour, cache.NewMemory(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	var mu sync.Mutex
	started := map[string]bool{}
	results := e.Run(ctx, requests(10), func(_ context.Context, req model.GenerationRequest) ([]byte, error) {
		mu.Lock()
		started[req.ID] = true
		mu.Unlock()
		time.Sleep(25 * time.Millisecond)
		return []byte("ok"), nil
	})

	require.Len(t, results, 10, "every task gets a result even when abandoned")
	var succeeded, failed int
	for _, r := range results {
		switch r.Status {
		case model.StatusSucceeded:
			succeeded++
		case model.StatusFailed:
			failed++
		}
	}
	assert.Greater(t, succeeded, 0)
	assert.Greater(t, failed, 0)
}
