package curator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askzine/pkg/config"
	"askzine/pkg/model"
)

func testSelector(numStyles int) *Selector {
	return New(config.CuratorConfig{
		RecencyWeight:  0.6,
		QualityWeight:  0.4,
		PagesPerItem:   2,
		FrontBackPages: 2,
		Periods: map[string]config.PeriodConfig{
			"weekly": {TargetCount: 10, MaxPages: 32, TitleTemplate: "Weekly Volume {week}"},
		},
	}, numStyles)
}

func makePool(styles []string, perStyle int) []model.CurationCandidate {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var pool []model.CurationCandidate
	i := 0
	for _, style := range styles {
		for j := 0; j < perStyle; j++ {
			pool = append(pool, model.CurationCandidate{
				ID:         fmt.Sprintf("c-%02d", i),
				ContentRef: fmt.Sprintf("renders/%02d.png", i),
				Style:      style,
				CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			})
			i++
		}
	}
	return pool
}

func TestSelectStyleCapAndSize(t *testing.T) {
	// 20 candidates across 4 styles, K=10, explicit cap 3.
	s := New(config.CuratorConfig{
		RecencyWeight: 0.6,
		QualityWeight: 0.4,
		PerStyleCap:   3,
	}, 4)
	pool := makePool([]string{"a", "b", "c", "d"}, 5)

	sel := s.Select(pool, 10)
	require.Len(t, sel, 10)

	counts := map[string]int{}
	for _, c := range sel {
		counts[c.Style]++
	}
	for style, n := range counts {
		assert.LessOrEqual(t, n, 3, "style %s over cap", style)
	}
}

func TestSelectDerivedCap(t *testing.T) {
	s := testSelector(4)
	// ceil(10/4) = 3
	assert.Equal(t, 3, s.StyleCap(10, 4))
	// Explicit cap wins.
	s2 := New(config.CuratorConfig{PerStyleCap: 2}, 4)
	assert.Equal(t, 2, s2.StyleCap(10, 4))
}

func TestSelectSmallPoolNeverPads(t *testing.T) {
	s := testSelector(2)
	pool := makePool([]string{"a", "b"}, 2)

	sel := s.Select(pool, 50)
	assert.Len(t, sel, 4, "len(selection) == min(K, pool_size)")
}

func TestSelectEmptyPool(t *testing.T) {
	s := testSelector(4)
	assert.Nil(t, s.Select(nil, 10))
}

func TestSelectDeterministicTies(t *testing.T) {
	s := testSelector(1)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pool := []model.CurationCandidate{
		{ID: "b", Style: "s", Quality: 0.5, CreatedAt: at},
		{ID: "a", Style: "s", Quality: 0.5, CreatedAt: at},
	}

	first := s.Select(pool, 2)
	for i := 0; i < 5; i++ {
		again := s.Select(pool, 2)
		assert.Equal(t, first[0].ID, again[0].ID)
	}
	assert.Equal(t, "a", first[0].ID, "ties break by id for equal timestamps")
}

func TestSelectFavorsRecency(t *testing.T) {
	s := New(config.CuratorConfig{RecencyWeight: 1.0, QualityWeight: 0.0}, 1)
	pool := makePool([]string{"s"}, 5)

	sel := s.Select(pool, 2)
	require.Len(t, sel, 2)
	assert.Equal(t, "c-04", sel[0].ID)
	assert.Equal(t, "c-03", sel[1].ID)
}

func TestPackVolumeSplit(t *testing.T) {
	// items_per_volume = floor((34-2)/2) = 16; K=50 → volumes of 16,16,16,2.
	s := New(config.CuratorConfig{PagesPerItem: 2, FrontBackPages: 2, PerStyleCap: 50}, 1)
	sel := makePool([]string{"s"}, 50)

	volumes, err := s.Pack(sel, 34)
	require.NoError(t, err)
	require.Len(t, volumes, 4)
	assert.Len(t, volumes[0].Items, 16)
	assert.Len(t, volumes[1].Items, 16)
	assert.Len(t, volumes[2].Items, 16)
	assert.Len(t, volumes[3].Items, 2)

	for _, v := range volumes {
		assert.LessOrEqual(t, v.Pages(2, 2), 34, "volume %d over page budget", v.Seq)
	}
}

func TestPackPreservesSelectionOrder(t *testing.T) {
	s := New(config.CuratorConfig{PagesPerItem: 2, FrontBackPages: 2, PerStyleCap: 10}, 1)
	sel := makePool([]string{"s"}, 6)

	volumes, err := s.Pack(sel, 8) // 3 items per volume
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	assert.Equal(t, "c-00", volumes[0].Items[0].ID)
	assert.Equal(t, "c-03", volumes[1].Items[0].ID)
}

func TestPackRebalancesStyleOverflow(t *testing.T) {
	// Cap 2, two volumes of 3: volume 1 starts with three of style "a".
	s := New(config.CuratorConfig{PagesPerItem: 2, FrontBackPages: 2, PerStyleCap: 2}, 2)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sel := []model.CurationCandidate{
		{ID: "1", Style: "a", CreatedAt: base},
		{ID: "2", Style: "a", CreatedAt: base.Add(time.Minute)},
		{ID: "3", Style: "a", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "4", Style: "b", CreatedAt: base.Add(3 * time.Minute)},
		{ID: "5", Style: "b", CreatedAt: base.Add(4 * time.Minute)},
		{ID: "6", Style: "b", CreatedAt: base.Add(5 * time.Minute)},
	}

	volumes, err := s.Pack(sel, 8)
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	for _, v := range volumes {
		for style, n := range v.StyleCounts {
			assert.LessOrEqual(t, n, 2, "volume %d style %s", v.Seq, style)
		}
	}
}

func TestPackTinyBudgetFails(t *testing.T) {
	s := New(config.CuratorConfig{PagesPerItem: 4, FrontBackPages: 2}, 1)
	_, err := s.Pack(makePool([]string{"s"}, 2), 5)
	assert.Error(t, err)
}

func TestCurateEmptyPool(t *testing.T) {
	s := testSelector(4)
	volumes, manifests, err := s.Curate(nil, model.PeriodWeekly, time.Now())
	assert.NoError(t, err)
	assert.Empty(t, volumes)
	assert.Empty(t, manifests)
}

func TestCurateManifests(t *testing.T) {
	s := testSelector(4)
	pool := makePool([]string{"a", "b", "c", "d"}, 5)
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	volumes, manifests, err := s.Curate(pool, model.PeriodWeekly, now)
	require.NoError(t, err)
	require.NotEmpty(t, volumes)
	require.Len(t, manifests, len(volumes))

	total := 0
	for i, m := range manifests {
		assert.NotEmpty(t, m.VolumeID)
		assert.Equal(t, model.PeriodWeekly, m.Period)
		assert.Equal(t, i+1, m.Seq)
		assert.Contains(t, m.Title, "2026-W10")
		assert.Equal(t, len(volumes[i].Items), len(m.Items))
		total += len(m.Items)
	}
	assert.Equal(t, 10, total)
}

func TestCurateUnknownPeriod(t *testing.T) {
	s := testSelector(4)
	_, _, err := s.Curate(makePool([]string{"a"}, 3), model.PeriodQuarterly, time.Now())
	assert.Error(t, err)
}

func TestExpandTitle(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Daily 2026-08-30", expandTitle("Daily {date}", model.PeriodDaily, 1, now))
	assert.Equal(t, "Q 2026-Q3 #2", expandTitle("Q {quarter} #{seq}", model.PeriodQuarterly, 2, now))
	assert.Contains(t, expandTitle("", model.PeriodDaily, 3, now), "3")
}
