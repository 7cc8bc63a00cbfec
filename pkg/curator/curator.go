// Package curator selects a diversity- and recency-balanced subset of the
// candidate pool and packs it into page-budgeted volumes.
package curator

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"askzine/pkg/config"
	"askzine/pkg/model"
)

// Selector implements selection scoring and volume packing.
type Selector struct {
	cfg       config.CuratorConfig
	numStyles int
}

// New creates a selector. numStyles is the count of configured styles and
// drives the derived per-style cap; 0 falls back to the distinct styles
// present in the pool.
func New(cfg config.CuratorConfig, numStyles int) *Selector {
	return &Selector{cfg: cfg, numStyles: numStyles}
}

// StyleCap returns the per-style cap for a selection of size k.
func (s *Selector) StyleCap(k int, poolStyles int) int {
	if s.cfg.PerStyleCap > 0 {
		return s.cfg.PerStyleCap
	}
	n := s.numStyles
	if n <= 0 {
		n = poolStyles
	}
	if n <= 0 {
		return k
	}
	return int(math.Ceil(float64(k) / float64(n)))
}

// Select scores the pool and greedily admits up to k candidates under the
// per-style cap. A pool smaller than k yields a smaller selection, never
// padding. The returned order is score-descending.
func (s *Selector) Select(pool []model.CurationCandidate, k int) []model.CurationCandidate {
	if len(pool) == 0 || k <= 0 {
		return nil
	}

	scored := s.score(pool)
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		// Deterministic ties: earliest creation wins, then id.
		if !scored[i].c.CreatedAt.Equal(scored[j].c.CreatedAt) {
			return scored[i].c.CreatedAt.Before(scored[j].c.CreatedAt)
		}
		return scored[i].c.ID < scored[j].c.ID
	})

	capPerStyle := s.StyleCap(k, countStyles(pool))
	styleCounts := make(map[string]int)
	var selection []model.CurationCandidate
	for _, sc := range scored {
		if len(selection) == k {
			break
		}
		if styleCounts[sc.c.Style] >= capPerStyle {
			continue
		}
		styleCounts[sc.c.Style]++
		selection = append(selection, sc.c)
	}
	return selection
}

type scoredCandidate struct {
	c     model.CurationCandidate
	score float64
}

// score computes RecencyWeight*recency + QualityWeight*quality per
// candidate. Recency is the normalised position of created-at within the
// pool's time span; quality is the externally supplied scalar, or the
// normalised generation-order rank when absent.
func (s *Selector) score(pool []model.CurationCandidate) []scoredCandidate {
	minT, maxT := pool[0].CreatedAt, pool[0].CreatedAt
	for _, c := range pool[1:] {
		if c.CreatedAt.Before(minT) {
			minT = c.CreatedAt
		}
		if c.CreatedAt.After(maxT) {
			maxT = c.CreatedAt
		}
	}
	span := maxT.Sub(minT)

	out := make([]scoredCandidate, len(pool))
	for i, c := range pool {
		recency := 1.0
		if span > 0 {
			recency = float64(c.CreatedAt.Sub(minT)) / float64(span)
		}
		quality := c.Quality
		if quality == 0 {
			// Generation-order rank: later items score higher.
			quality = float64(i+1) / float64(len(pool))
		}
		out[i] = scoredCandidate{
			c:     c,
			score: s.cfg.RecencyWeight*recency + s.cfg.QualityWeight*quality,
		}
	}
	return out
}

// ItemsPerVolume returns how many items fit in one volume under the page
// budget.
func (s *Selector) ItemsPerVolume(maxPages int) (int, error) {
	if s.cfg.PagesPerItem <= 0 {
		return 0, fmt.Errorf("pages_per_item must be positive, got %d", s.cfg.PagesPerItem)
	}
	n := (maxPages - s.cfg.FrontBackPages) / s.cfg.PagesPerItem
	if n < 1 {
		return 0, fmt.Errorf("page budget %d cannot hold a single item (%d pages/item, %d front/back)",
			maxPages, s.cfg.PagesPerItem, s.cfg.FrontBackPages)
	}
	return n, nil
}

// Pack splits the ordered selection into volumes of at most itemsPerVolume
// items, preserving selection order, then rebalances per-style overflows by
// swapping items between adjacent volumes.
func (s *Selector) Pack(selection []model.CurationCandidate, maxPages int) ([]model.Volume, error) {
	if len(selection) == 0 {
		return nil, nil
	}

	ipv, err := s.ItemsPerVolume(maxPages)
	if err != nil {
		return nil, err
	}

	numVolumes := (len(selection) + ipv - 1) / ipv
	volumes := make([]model.Volume, numVolumes)
	for i := range volumes {
		start := i * ipv
		end := start + ipv
		if end > len(selection) {
			end = len(selection)
		}
		items := make([]model.CurationCandidate, end-start)
		copy(items, selection[start:end])
		volumes[i] = model.Volume{
			Seq:        i + 1,
			Items:      items,
			PageBudget: maxPages,
		}
	}

	capPerStyle := s.StyleCap(len(selection), countStyles(selection))
	s.rebalance(volumes, capPerStyle)

	for i := range volumes {
		volumes[i].StyleCounts = styleCounts(volumes[i].Items)
	}
	return volumes, nil
}

// rebalance swaps items between adjacent volumes until no volume exceeds the
// per-style cap, or no legal swap remains. Swaps prefer the nearest neighbor
// to keep reordering minimal.
func (s *Selector) rebalance(volumes []model.Volume, capPerStyle int) {
	if capPerStyle <= 0 || len(volumes) < 2 {
		return
	}

	// A couple of passes is enough: each swap strictly reduces the overflow
	// of the volume being fixed.
	for pass := 0; pass < len(volumes); pass++ {
		changed := false
		for v := 0; v < len(volumes); v++ {
			counts := styleCounts(volumes[v].Items)
			for style, n := range counts {
				for n > capPerStyle {
					if !s.swapOut(volumes, v, style, capPerStyle) {
						slog.Warn("Could not rebalance volume below style cap", "volume", v+1, "style", style, "count", n, "cap", capPerStyle)
						break
					}
					n--
					changed = true
				}
			}
		}
		if !changed {
			return
		}
	}
}

// swapOut moves one item of the overflowing style from volume v to an
// adjacent volume, taking an item of a non-overflowing style in exchange.
func (s *Selector) swapOut(volumes []model.Volume, v int, style string, capPerStyle int) bool {
	for _, w := range []int{v + 1, v - 1} {
		if w < 0 || w >= len(volumes) {
			continue
		}
		wCounts := styleCounts(volumes[w].Items)
		if wCounts[style] >= capPerStyle {
			continue
		}

		vCounts := styleCounts(volumes[v].Items)
		// Find an incoming item whose style has headroom in v.
		for wi, wItem := range volumes[w].Items {
			if wItem.Style == style || vCounts[wItem.Style] >= capPerStyle {
				continue
			}
			// Swap with the last overflowing item in v.
			for vi := len(volumes[v].Items) - 1; vi >= 0; vi-- {
				if volumes[v].Items[vi].Style != style {
					continue
				}
				volumes[v].Items[vi], volumes[w].Items[wi] = volumes[w].Items[wi], volumes[v].Items[vi]
				return true
			}
		}
	}
	return false
}

// Curate runs selection and packing for one period and wraps the result in
// publishing manifests. An empty pool yields zero volumes and no error.
func (s *Selector) Curate(pool []model.CurationCandidate, period model.Period, now time.Time) ([]model.Volume, []model.VolumeManifest, error) {
	pcfg, ok := s.cfg.Periods[string(period)]
	if !ok {
		return nil, nil, fmt.Errorf("no curation settings for period %q", period)
	}

	selection := s.Select(pool, pcfg.TargetCount)
	if len(selection) == 0 {
		return nil, nil, nil
	}

	volumes, err := s.Pack(selection, pcfg.MaxPages)
	if err != nil {
		return nil, nil, err
	}

	manifests := make([]model.VolumeManifest, len(volumes))
	for i, vol := range volumes {
		items := make([]model.ManifestItem, len(vol.Items))
		for j, c := range vol.Items {
			items[j] = model.ManifestItem{
				ContentRef: c.ContentRef,
				Caption:    c.Caption,
				Style:      c.Style,
				CreatedAt:  c.CreatedAt,
			}
		}
		manifests[i] = model.VolumeManifest{
			VolumeID:    uuid.NewString(),
			Title:       expandTitle(pcfg.TitleTemplate, period, vol.Seq, now),
			Period:      period,
			Seq:         vol.Seq,
			Items:       items,
			StyleCounts: vol.StyleCounts,
		}
	}
	return volumes, manifests, nil
}

func expandTitle(tmpl string, period model.Period, seq int, now time.Time) string {
	if tmpl == "" {
		tmpl = fmt.Sprintf("Volume {seq} (%s)", period)
	}
	year, week := now.ISOWeek()
	quarter := (int(now.Month())-1)/3 + 1
	r := strings.NewReplacer(
		"{date}", now.Format("2006-01-02"),
		"{year}", now.Format("2006"),
		"{week}", fmt.Sprintf("%d-W%02d", year, week),
		"{month}", now.Format("2006-01"),
		"{quarter}", fmt.Sprintf("%d-Q%d", now.Year(), quarter),
		"{seq}", fmt.Sprintf("%d", seq),
	)
	return r.Replace(tmpl)
}

func styleCounts(items []model.CurationCandidate) map[string]int {
	counts := make(map[string]int)
	for _, c := range items {
		counts[c.Style]++
	}
	return counts
}

func countStyles(pool []model.CurationCandidate) int {
	seen := make(map[string]struct{})
	for _, c := range pool {
		seen[c.Style] = struct{}{}
	}
	return len(seen)
}
