package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestAcquireWithinBudgetDoesNotBlock(t *testing.T) {
	l := New(5, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("acquisitions within budget took %v, expected near-instant", elapsed)
	}
	if got := l.InFlight(); got != 5 {
		t.Errorf("InFlight = %d, want 5", got)
	}
}

func TestWindowInvariantUnderConcurrency(t *testing.T) {
	const (
		limit  = 10
		window = 300 * time.Millisecond
		total  = 15
	)
	l := New(limit, window)

	var mu sync.Mutex
	var admitted []time.Time

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(admitted) != total {
		t.Fatalf("admitted %d calls, want %d", len(admitted), total)
	}
	sort.Slice(admitted, func(i, j int) bool { return admitted[i].Before(admitted[j]) })

	// No trailing window of the configured length may contain more than
	// limit admissions. Checking windows anchored at each admission covers
	// all maximal windows.
	for i := range admitted {
		count := 0
		for j := i; j < len(admitted); j++ {
			if admitted[j].Sub(admitted[i]) < window {
				count++
			}
		}
		if count > limit {
			t.Fatalf("window starting at admission %d contains %d calls, limit %d", i, count, limit)
		}
	}

	// The overflow calls complete only after the first window rolls over.
	overflow := admitted[limit]
	if overflow.Sub(admitted[0]) < window {
		t.Errorf("call %d admitted %v after first, want >= %v", limit, overflow.Sub(admitted[0]), window)
	}
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l := New(1, time.Hour)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	if err == nil {
		t.Fatal("expected context error while budget exhausted")
	}
	if ctx.Err() == nil {
		t.Fatal("context should have expired")
	}
}
