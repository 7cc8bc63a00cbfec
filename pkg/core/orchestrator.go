// Package core drives the pipeline: a generation round fans a theme out into
// rate-limited, cached, deduplicated candidates; a curation round selects
// from the accumulated pool and hands volume manifests to the publisher.
package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"askzine/pkg/cache"
	"askzine/pkg/config"
	"askzine/pkg/curator"
	"askzine/pkg/dedup"
	"askzine/pkg/executor"
	"askzine/pkg/llm"
	"askzine/pkg/model"
	"askzine/pkg/pool"
	"askzine/pkg/prompt"
	"askzine/pkg/tracker"
)

// ErrBatchTotalFailure is returned when a generation round produces zero
// successes. Any lesser failure is absorbed into a reduced result set.
var ErrBatchTotalFailure = errors.New("generation round produced no successful tasks")

// Publisher consumes volume manifests. It performs the actual layout and
// rendering; the orchestrator only produces the manifest.
type Publisher interface {
	Publish(ctx context.Context, manifest model.VolumeManifest) error
}

// Orchestrator wires the pipeline components together.
type Orchestrator struct {
	cfg       *config.Config
	provider  llm.Provider
	builder   *prompt.Builder
	exec      *executor.Executor
	dedup     *dedup.Deduplicator
	pool      *pool.Pool
	selector  *curator.Selector
	renders   RenderStore
	publisher Publisher
	cache     cache.Cacher
	tracker   *tracker.Tracker
}

// New assembles an orchestrator from already-constructed components.
func New(cfg *config.Config, provider llm.Provider, exec *executor.Executor, d *dedup.Deduplicator,
	p *pool.Pool, sel *curator.Selector, renders RenderStore, pub Publisher, c cache.Cacher, t *tracker.Tracker) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		provider:  provider,
		builder:   prompt.NewBuilder(cfg.Image),
		exec:      exec,
		dedup:     d,
		pool:      p,
		selector:  sel,
		renders:   renders,
		publisher: pub,
		cache:     c,
		tracker:   t,
	}
}

// SeedCaptionHistory preloads the deduplicator with recent captions so a new
// process does not repeat last run's text.
func (o *Orchestrator) SeedCaptionHistory(ctx context.Context) error {
	if o.cfg.Dedup.RecentWindow <= 0 {
		return nil
	}
	records, err := o.pool.RecentCaptions(ctx, o.cfg.Dedup.RecentWindow)
	if err != nil {
		return fmt.Errorf("failed to load caption history: %w", err)
	}
	o.dedup.Seed(records)
	slog.Debug("Seeded caption history", "count", len(records))
	return nil
}

// BuildRequests expands a theme into generation requests, one per fanned-out
// prompt, all using the day's style. The fan-out is deterministic per theme
// and day, so the expansion itself goes through the content cache.
func (o *Orchestrator) BuildRequests(ctx context.Context, theme string, now time.Time) ([]model.GenerationRequest, error) {
	style := o.cfg.DailyStyle(now)
	n := o.cfg.Generator.PromptsPerRound

	key := cache.Key("fanout", map[string]any{
		"theme": theme,
		"style": style.Name,
		"n":     n,
		"date":  now.Format("2006-01-02"),
	})
	data, err := cache.GetOrCompute(ctx, o.cache, key, time.Duration(o.cfg.Cache.TTL), func(ctx context.Context) ([]byte, error) {
		prompts, ferr := o.builder.FanOut(ctx, o.provider, theme, n)
		if ferr != nil {
			return nil, ferr
		}
		return json.Marshal(prompts)
	})
	if err != nil {
		return nil, err
	}

	var prompts []string
	if err := json.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("corrupt fan-out cache entry: %w", err)
	}

	reqs := make([]model.GenerationRequest, len(prompts))
	for i, p := range prompts {
		reqs[i] = model.GenerationRequest{
			ID:     uuid.NewString(),
			Prompt: p,
			Style:  style.Name,
		}
	}
	return reqs, nil
}

// RoundReport summarises one generation round.
type RoundReport struct {
	Succeeded  int
	Failed     int
	Candidates []model.CurationCandidate
}

// RunGenerationRound executes all requests and absorbs the survivors into
// the candidate pool. Partial failure is normal; only a round with zero
// successes returns an error.
func (o *Orchestrator) RunGenerationRound(ctx context.Context, requests []model.GenerationRequest) (*RoundReport, error) {
	if len(requests) == 0 {
		return &RoundReport{}, nil
	}

	if budget := time.Duration(o.cfg.Generator.BatchBudget); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	results := o.exec.Run(ctx, requests, func(ctx context.Context, req model.GenerationRequest) ([]byte, error) {
		style, _ := o.cfg.StyleByName(req.Style)
		return o.provider.GenerateImage(ctx, o.builder.ImageRequest(req.Prompt, style))
	})

	report := &RoundReport{}
	for _, req := range requests {
		res := results[req.ID]
		if res.Status != model.StatusSucceeded {
			report.Failed++
			slog.Warn("Generation task failed", "id", req.ID, "attempts", res.Attempts, "error", res.Err)
			continue
		}
		report.Succeeded++

		candidate, err := o.absorb(ctx, req, res.Payload)
		if err != nil {
			slog.Warn("Failed to absorb generation result", "id", req.ID, "error", err)
			continue
		}
		report.Candidates = append(report.Candidates, candidate)
	}

	if report.Succeeded == 0 {
		return report, ErrBatchTotalFailure
	}
	return report, nil
}

// absorb stores the payload, captions it, and adds the candidate to the pool.
func (o *Orchestrator) absorb(ctx context.Context, req model.GenerationRequest, payload []byte) (model.CurationCandidate, error) {
	ref, err := o.renders.Write(ctx, req.ID, payload)
	if err != nil {
		return model.CurationCandidate{}, err
	}

	caption, err := o.caption(ctx, req)
	if err != nil {
		// A candidate without a caption is still publishable.
		slog.Warn("Captioning failed, keeping candidate without caption", "id", req.ID, "error", err)
		caption = model.CaptionRecord{Style: req.Style}
	} else if serr := o.pool.SaveCaption(ctx, caption); serr != nil {
		slog.Warn("Failed to persist caption", "id", req.ID, "error", serr)
	}

	candidate := model.CurationCandidate{
		ID:         req.ID,
		ContentRef: ref,
		Caption:    caption.Text,
		Style:      req.Style,
		BestEffort: caption.BestEffort,
		CreatedAt:  time.Now(),
	}
	if _, err := o.pool.Add(ctx, candidate); err != nil {
		return model.CurationCandidate{}, err
	}
	return candidate, nil
}

func (o *Orchestrator) caption(ctx context.Context, req model.GenerationRequest) (model.CaptionRecord, error) {
	return o.dedup.GenerateUnique(ctx, req.Style, func(ctx context.Context) (string, error) {
		raw, err := o.provider.GenerateText(ctx, "captions", o.builder.CaptionPrompt(req.Prompt))
		if err != nil {
			return "", err
		}
		return prompt.CleanCaption(raw), nil
	})
}

// RunCurationRound selects from the pool for the period, publishes the
// resulting volumes, and marks the published candidates consumed. An empty
// pool is a no-op, not an error.
func (o *Orchestrator) RunCurationRound(ctx context.Context, period model.Period) ([]model.VolumeManifest, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("unknown curation period %q", period)
	}

	candidates, err := o.pool.Available(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}
	if len(candidates) == 0 {
		slog.Info("Curation round skipped, candidate pool is empty", "period", period)
		return nil, nil
	}

	volumes, manifests, err := o.selector.Curate(candidates, period, time.Now())
	if err != nil {
		return nil, err
	}
	if len(volumes) == 0 {
		return nil, nil
	}

	for _, m := range manifests {
		if err := o.publisher.Publish(ctx, m); err != nil {
			// Nothing is marked consumed, so the next round retries cleanly.
			return nil, fmt.Errorf("failed to publish volume %d: %w", m.Seq, err)
		}
	}

	var ids []string
	for _, vol := range volumes {
		for _, c := range vol.Items {
			ids = append(ids, c.ID)
		}
	}
	if err := o.pool.MarkConsumed(ctx, ids, period); err != nil {
		return nil, fmt.Errorf("failed to mark candidates consumed: %w", err)
	}

	slog.Info("Curation round complete", "period", period, "volumes", len(manifests), "items", len(ids))
	return manifests, nil
}
