package failover

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"askzine/pkg/llm"
	"askzine/pkg/tracker"
)

// Provider wraps an ordered chain of llm.Providers and falls through to the
// next one on failure. A provider that fails fatally (bad key, malformed
// request shape) is disabled for the rest of the session; transient failures
// just move on to the next candidate. Per-attempt retry with backoff is the
// executor's job, not ours.
type Provider struct {
	providers []llm.Provider
	names     []string
	disabled  map[int]bool
	tracker   *tracker.Tracker
	mu        sync.RWMutex
}

// New creates a failover chain. providers and names must be parallel slices.
func New(providers []llm.Provider, names []string, t *tracker.Tracker) (*Provider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one provider required for failover")
	}
	if len(providers) != len(names) {
		return nil, fmt.Errorf("provider count (%d) does not match name count (%d)", len(providers), len(names))
	}

	return &Provider{
		providers: providers,
		names:     names,
		disabled:  make(map[int]bool),
		tracker:   t,
	}, nil
}

// GenerateText implements llm.Provider.
func (f *Provider) GenerateText(ctx context.Context, intent, prompt string) (string, error) {
	res, err := f.execute(intent, func(p llm.Provider) (any, error) {
		return p.GenerateText(ctx, intent, prompt)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// GenerateImage implements llm.Provider.
func (f *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) ([]byte, error) {
	res, err := f.execute("image", func(p llm.Provider) (any, error) {
		return p.GenerateImage(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return res.([]byte), nil
}

// HealthCheck verifies that at least one provider is healthy.
func (f *Provider) HealthCheck(ctx context.Context) error {
	f.mu.RLock()
	providers := f.providers
	names := f.names
	disabled := make(map[int]bool, len(f.disabled))
	for k, v := range f.disabled {
		disabled[k] = v
	}
	f.mu.RUnlock()

	var errs []string
	for i, p := range providers {
		if disabled[i] {
			continue
		}
		if err := p.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", names[i], err))
			continue
		}
		return nil // At least one is healthy
	}

	if len(errs) == 0 {
		return fmt.Errorf("no providers available in failover chain")
	}
	return fmt.Errorf("all providers failed health check: %s", strings.Join(errs, "; "))
}

// execute runs fn against the chain until one provider succeeds.
func (f *Provider) execute(intent string, fn func(llm.Provider) (any, error)) (any, error) {
	f.mu.RLock()
	providers := f.providers
	names := f.names
	f.mu.RUnlock()

	var lastErr error
	for i, p := range providers {
		f.mu.RLock()
		isDisabled := f.disabled[i]
		f.mu.RUnlock()
		if isDisabled {
			continue
		}

		res, err := fn(p)
		if err == nil {
			f.trackStats(names[i], true)
			return res, nil
		}

		f.trackStats(names[i], false)
		lastErr = err

		if llm.IsFatal(err) {
			slog.Warn("Provider fatal error, disabling for the session", "provider", names[i], "intent", intent, "error", err)
			f.mu.Lock()
			f.disabled[i] = true
			f.mu.Unlock()
			continue
		}

		slog.Info("Provider failed, falling back", "provider", names[i], "intent", intent, "error", err)
	}

	if lastErr == nil {
		return nil, llm.Fatal(fmt.Errorf("no active provider in failover chain"))
	}
	return nil, lastErr
}

func (f *Provider) trackStats(name string, ok bool) {
	if f.tracker == nil {
		return
	}
	if ok {
		f.tracker.TrackAPISuccess(name)
	} else {
		f.tracker.TrackAPIFailure(name)
	}
}
