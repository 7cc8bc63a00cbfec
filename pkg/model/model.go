package model

import (
	"time"
)

// Period identifies a curation window.
type Period string

// Curation periods.
const (
	PeriodDaily     Period = "daily"
	PeriodWeekly    Period = "weekly"
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodQuarterly:
		return true
	}
	return false
}

// GenerationRequest describes one piece of content to generate.
type GenerationRequest struct {
	ID     string            `json:"id"`
	Prompt string            `json:"prompt"`
	Style  string            `json:"style"`
	Params map[string]string `json:"params,omitempty"` // provider-specific knobs
}

// TaskStatus is the lifecycle state of a generation task.
type TaskStatus int

// Task states. Succeeded and Failed are terminal.
const (
	StatusPending TaskStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
)

func (s TaskStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// CaptionRecord is an accepted caption with its shingle set.
type CaptionRecord struct {
	Text       string    `json:"text"`
	Style      string    `json:"style"`
	BestEffort bool      `json:"best_effort"` // accepted via the exhausted-attempts fallback
	CreatedAt  time.Time `json:"created_at"`
}

// CurationCandidate is a generated item waiting in the pool.
type CurationCandidate struct {
	ID         string    `json:"id"`
	ContentRef string    `json:"content_ref"` // opaque reference to the stored render
	Caption    string    `json:"caption"`
	Style      string    `json:"style"`
	Quality    float64   `json:"quality"` // external scalar; 0 = derive from generation order
	BestEffort bool      `json:"best_effort"`
	CreatedAt  time.Time `json:"created_at"`
}

// Volume is a page-budgeted bundle of selected candidates.
type Volume struct {
	Seq         int                 `json:"seq"`
	Items       []CurationCandidate `json:"items"`
	PageBudget  int                 `json:"page_budget"`
	StyleCounts map[string]int      `json:"style_counts"`
}

// Pages returns the page count of the volume including front/back matter.
func (v *Volume) Pages(pagesPerItem, frontBack int) int {
	return len(v.Items)*pagesPerItem + frontBack
}

// ManifestItem is one entry of a volume manifest handed to the publisher.
type ManifestItem struct {
	ContentRef string    `json:"content_ref"`
	Caption    string    `json:"caption"`
	Style      string    `json:"style"`
	CreatedAt  time.Time `json:"created_at"`
}

// VolumeManifest is the publishing hand-off format for one volume.
type VolumeManifest struct {
	VolumeID    string         `json:"volume_id"`
	Title       string         `json:"title"`
	Period      Period         `json:"period"`
	Seq         int            `json:"seq"`
	Items       []ManifestItem `json:"items"`
	StyleCounts map[string]int `json:"style_counts"`
}
