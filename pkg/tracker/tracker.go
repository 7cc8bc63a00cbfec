package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks usage statistics per provider plus pipeline-level counters.
type Tracker struct {
	mu    sync.RWMutex
	stats map[string]*ProviderStats

	pipeline PipelineStats
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits   int64
	CacheMisses int64
	APISuccess  int64
	APIFailures int64
}

// PipelineStats holds batch-level counters for a generation run.
// Fields are accessed atomically.
type PipelineStats struct {
	TasksSucceeded   int64
	TasksFailed      int64
	CaptionsAccepted int64
	CaptionsRejected int64
	CaptionsFallback int64
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats: make(map[string]*ProviderStats),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

func (t *Tracker) TrackTaskSucceeded() {
	atomic.AddInt64(&t.pipeline.TasksSucceeded, 1)
}

func (t *Tracker) TrackTaskFailed() {
	atomic.AddInt64(&t.pipeline.TasksFailed, 1)
}

func (t *Tracker) TrackCaptionAccepted() {
	atomic.AddInt64(&t.pipeline.CaptionsAccepted, 1)
}

func (t *Tracker) TrackCaptionRejected() {
	atomic.AddInt64(&t.pipeline.CaptionsRejected, 1)
}

func (t *Tracker) TrackCaptionFallback() {
	atomic.AddInt64(&t.pipeline.CaptionsFallback, 1)
}

// Snapshot returns a copy of the current per-provider stats.
func (t *Tracker) Snapshot() map[string]ProviderStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]ProviderStats)
	for k, v := range t.stats {
		result[k] = ProviderStats{
			CacheHits:   atomic.LoadInt64(&v.CacheHits),
			CacheMisses: atomic.LoadInt64(&v.CacheMisses),
			APISuccess:  atomic.LoadInt64(&v.APISuccess),
			APIFailures: atomic.LoadInt64(&v.APIFailures),
		}
	}
	return result
}

// Pipeline returns a copy of the pipeline counters.
func (t *Tracker) Pipeline() PipelineStats {
	return PipelineStats{
		TasksSucceeded:   atomic.LoadInt64(&t.pipeline.TasksSucceeded),
		TasksFailed:      atomic.LoadInt64(&t.pipeline.TasksFailed),
		CaptionsAccepted: atomic.LoadInt64(&t.pipeline.CaptionsAccepted),
		CaptionsRejected: atomic.LoadInt64(&t.pipeline.CaptionsRejected),
		CaptionsFallback: atomic.LoadInt64(&t.pipeline.CaptionsFallback),
	}
}

// Reset zeroes all counters, keeping known providers in the map.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.stats {
		atomic.StoreInt64(&s.CacheHits, 0)
		atomic.StoreInt64(&s.CacheMisses, 0)
		atomic.StoreInt64(&s.APISuccess, 0)
		atomic.StoreInt64(&s.APIFailures, 0)
	}
	atomic.StoreInt64(&t.pipeline.TasksSucceeded, 0)
	atomic.StoreInt64(&t.pipeline.TasksFailed, 0)
	atomic.StoreInt64(&t.pipeline.CaptionsAccepted, 0)
	atomic.StoreInt64(&t.pipeline.CaptionsRejected, 0)
	atomic.StoreInt64(&t.pipeline.CaptionsFallback, 0)
}
