// Package executor runs generation tasks on a bounded worker pool. Every
// external call is gated by the shared rate limiter and checked against the
// content cache first; transient failures are retried with exponential
// backoff while fatal ones fail the task immediately. A failed task never
// aborts the batch.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"askzine/pkg/cache"
	"askzine/pkg/config"
	"askzine/pkg/llm"
	"askzine/pkg/model"
	"askzine/pkg/ratelimit"
	"askzine/pkg/tracker"
)

// GenerateFunc produces the payload for a single request. The executor does
// not care what the payload is (image bytes, caption text).
type GenerateFunc func(ctx context.Context, req model.GenerationRequest) ([]byte, error)

// Task is the executor's unit of work.
type Task struct {
	Request  model.GenerationRequest
	Status   model.TaskStatus
	Attempts int
}

// Result reports the terminal state of one task.
type Result struct {
	ID       string
	Status   model.TaskStatus
	Payload  []byte
	Err      error
	Attempts int
	Cached   bool
}

// Executor owns the worker pool and retry policy.
type Executor struct {
	limiter *ratelimit.Limiter
	cache   cache.Cacher
	tracker *tracker.Tracker

	concurrency int
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	cacheTTL    time.Duration
}

// New creates an executor from generator settings.
func New(cfg config.GeneratorConfig, cacheTTL time.Duration, c cache.Cacher, t *tracker.Tracker) *Executor {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Executor{
		limiter:     ratelimit.New(cfg.RateLimit, time.Duration(cfg.RateWindow)),
		cache:       c,
		tracker:     t,
		concurrency: concurrency,
		maxAttempts: maxAttempts,
		baseDelay:   time.Duration(cfg.Backoff.BaseDelay),
		maxDelay:    time.Duration(cfg.Backoff.MaxDelay),
		cacheTTL:    cacheTTL,
	}
}

// Run executes all requests and returns a result per request id. Completion
// order is irrelevant; results are keyed by id. When ctx expires, tasks not
// yet finished are reported Failed with the context error and the partial
// result set is returned.
func (e *Executor) Run(ctx context.Context, requests []model.GenerationRequest, fn GenerateFunc) map[string]Result {
	results := make(map[string]Result, len(requests))
	var mu sync.Mutex

	queue := make(chan model.GenerationRequest)
	var wg sync.WaitGroup

	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range queue {
				res := e.runTask(ctx, req, fn)
				mu.Lock()
				results[req.ID] = res
				mu.Unlock()
			}
		}()
	}

feed:
	for _, req := range requests {
		select {
		case queue <- req:
		case <-ctx.Done():
			break feed
		}
	}
	close(queue)
	wg.Wait()

	// Tasks abandoned by budget expiry still appear in the report.
	mu.Lock()
	for _, req := range requests {
		if _, ok := results[req.ID]; !ok {
			results[req.ID] = Result{
				ID:     req.ID,
				Status: model.StatusFailed,
				Err:    fmt.Errorf("abandoned: %w", ctx.Err()),
			}
			if e.tracker != nil {
				e.tracker.TrackTaskFailed()
			}
		}
	}
	mu.Unlock()

	return results
}

func (e *Executor) runTask(ctx context.Context, req model.GenerationRequest, fn GenerateFunc) Result {
	key := cache.Key("gen", req)

	if payload, ok := e.cache.Get(ctx, key); ok {
		if e.tracker != nil {
			e.tracker.TrackCacheHit("generation")
			e.tracker.TrackTaskSucceeded()
		}
		return Result{ID: req.ID, Status: model.StatusSucceeded, Payload: payload, Cached: true}
	}
	if e.tracker != nil {
		e.tracker.TrackCacheMiss("generation")
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if err := e.limiter.Acquire(ctx); err != nil {
			return e.failed(req.ID, attempt-1, fmt.Errorf("rate limit wait: %w", err))
		}

		payload, err := fn(ctx, req)
		if err == nil {
			if serr := e.cache.Set(ctx, key, payload, e.cacheTTL); serr != nil {
				slog.Warn("Failed to cache generation result", "id", req.ID, "error", serr)
			}
			if e.tracker != nil {
				e.tracker.TrackTaskSucceeded()
			}
			return Result{ID: req.ID, Status: model.StatusSucceeded, Payload: payload, Attempts: attempt}
		}

		lastErr = err
		if llm.IsFatal(err) {
			slog.Warn("Task failed fatally", "id", req.ID, "attempt", attempt, "error", err)
			return e.failed(req.ID, attempt, err)
		}

		if attempt == e.maxAttempts {
			break
		}

		delay := e.backoffDelay(attempt)
		slog.Debug("Task failed, retrying", "id", req.ID, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return e.failed(req.ID, attempt, fmt.Errorf("abandoned during backoff: %w", ctx.Err()))
		}
	}

	slog.Warn("Task exhausted retry attempts", "id", req.ID, "attempts", e.maxAttempts, "error", lastErr)
	return e.failed(req.ID, e.maxAttempts, lastErr)
}

func (e *Executor) failed(id string, attempts int, err error) Result {
	if e.tracker != nil {
		e.tracker.TrackTaskFailed()
	}
	return Result{ID: id, Status: model.StatusFailed, Err: err, Attempts: attempts}
}

// backoffDelay returns baseDelay * 2^(attempt-1) with 10% jitter, capped.
func (e *Executor) backoffDelay(attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(e.baseDelay) * multiplier)
	if delay > e.maxDelay {
		delay = e.maxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

// Succeeded filters a result map down to the successful payloads.
func Succeeded(results map[string]Result) []Result {
	var ok []Result
	for _, r := range results {
		if r.Status == model.StatusSucceeded {
			ok = append(ok, r)
		}
	}
	return ok
}
