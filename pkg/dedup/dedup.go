// Package dedup rejects near-duplicate captions using Jaccard similarity
// over lowercase word-shingle sets.
package dedup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"askzine/pkg/config"
	"askzine/pkg/model"
	"askzine/pkg/tracker"
)

type record struct {
	caption  model.CaptionRecord
	shingles map[string]struct{}
}

// Deduplicator holds the accepted-caption set for a production run.
// Similarity check and insertion happen under one lock so the no-duplicate
// invariant holds under concurrent callers.
type Deduplicator struct {
	mu           sync.Mutex
	threshold    float64
	maxAttempts  int
	recentWindow int
	accepted     []record
	tracker      *tracker.Tracker
}

// New creates a deduplicator from dedup settings.
func New(cfg config.DedupConfig, t *tracker.Tracker) *Deduplicator {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.3
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Deduplicator{
		threshold:    threshold,
		maxAttempts:  maxAttempts,
		recentWindow: cfg.RecentWindow,
		tracker:      t,
	}
}

// Shingles tokenizes text into a set of lowercase words.
func Shingles(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

// Jaccard returns |a ∩ b| / |a ∪ b|. Two empty sets are identical.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Accept checks the candidate against the accepted set and inserts it when
// its maximum similarity stays below the threshold. It returns the maximum
// similarity observed and whether the candidate was accepted.
func (d *Deduplicator) Accept(text, style string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sh := Shingles(text)
	maxSim := d.maxSimilarityLocked(sh)
	if maxSim >= d.threshold {
		if d.tracker != nil {
			d.tracker.TrackCaptionRejected()
		}
		return maxSim, false
	}

	d.insertLocked(model.CaptionRecord{
		Text:      text,
		Style:     style,
		CreatedAt: time.Now(),
	}, sh)
	if d.tracker != nil {
		d.tracker.TrackCaptionAccepted()
	}
	return maxSim, true
}

// GenerateUnique calls gen until a candidate passes the similarity check,
// bounded by the attempt budget. When all attempts collide, the candidate
// with the lowest observed maximum similarity is accepted anyway and tagged
// best-effort.
func (d *Deduplicator) GenerateUnique(ctx context.Context, style string, gen func(context.Context) (string, error)) (model.CaptionRecord, error) {
	bestText := ""
	bestSim := 2.0 // above any possible similarity

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			break
		}

		text, err := gen(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		sim, ok := d.Accept(text, style)
		if ok {
			return model.CaptionRecord{Text: text, Style: style, CreatedAt: time.Now()}, nil
		}
		slog.Debug("Caption rejected as near-duplicate", "style", style, "similarity", sim, "attempt", attempt)
		if sim < bestSim {
			bestSim = sim
			bestText = text
		}
	}

	if bestText == "" {
		if lastErr != nil {
			return model.CaptionRecord{}, lastErr
		}
		return model.CaptionRecord{}, ctx.Err()
	}

	// Fallback: keep the least-similar candidate, flagged for downstream.
	rec := model.CaptionRecord{
		Text:       bestText,
		Style:      style,
		BestEffort: true,
		CreatedAt:  time.Now(),
	}
	d.mu.Lock()
	d.insertLocked(rec, Shingles(bestText))
	d.mu.Unlock()
	if d.tracker != nil {
		d.tracker.TrackCaptionFallback()
	}
	slog.Info("Caption accepted via best-effort fallback", "style", style, "similarity", bestSim)
	return rec, nil
}

// Seed loads previously accepted captions without similarity checks, so a
// new run compares against recent history.
func (d *Deduplicator) Seed(records []model.CaptionRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, rec := range records {
		d.insertLocked(rec, Shingles(rec.Text))
	}
}

// Accepted returns a copy of the accepted captions in insertion order.
func (d *Deduplicator) Accepted() []model.CaptionRecord {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]model.CaptionRecord, len(d.accepted))
	for i, r := range d.accepted {
		out[i] = r.caption
	}
	return out
}

func (d *Deduplicator) maxSimilarityLocked(sh map[string]struct{}) float64 {
	compare := d.accepted
	if d.recentWindow > 0 && len(compare) > d.recentWindow {
		compare = compare[len(compare)-d.recentWindow:]
	}

	maxSim := 0.0
	for _, r := range compare {
		if sim := Jaccard(sh, r.shingles); sim > maxSim {
			maxSim = sim
		}
	}
	return maxSim
}

func (d *Deduplicator) insertLocked(c model.CaptionRecord, sh map[string]struct{}) {
	d.accepted = append(d.accepted, record{caption: c, shingles: sh})
}
