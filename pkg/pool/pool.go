// Package pool persists curation candidates between generation and curation
// rounds. Candidates accumulate until a curation round consumes them; a
// consumed candidate is never selected again.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"askzine/pkg/db"
	"askzine/pkg/model"
)

const timeLayout = "2006-01-02 15:04:05"

// Pool is the SQLite-backed candidate store.
type Pool struct {
	db *db.DB
}

// New creates a pool over an initialised database.
func New(d *db.DB) *Pool {
	return &Pool{db: d}
}

// Add stores a new candidate. A missing id is assigned.
func (p *Pool) Add(ctx context.Context, c model.CurationCandidate) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO candidates (id, content_ref, caption, style, quality, best_effort, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ContentRef, c.Caption, c.Style, c.Quality, c.BestEffort,
		createdAt.UTC().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to add candidate: %w", err)
	}
	return c.ID, nil
}

// Available returns all unconsumed candidates ordered by creation time.
func (p *Pool) Available(ctx context.Context) ([]model.CurationCandidate, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, content_ref, caption, style, quality, best_effort, created_at
		 FROM candidates WHERE consumed_period = '' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []model.CurationCandidate
	for rows.Next() {
		var c model.CurationCandidate
		var caption sql.NullString
		var createdAt string
		if err := rows.Scan(&c.ID, &c.ContentRef, &caption, &c.Style, &c.Quality, &c.BestEffort, &createdAt); err != nil {
			return nil, err
		}
		c.Caption = caption.String
		if t, perr := time.Parse(timeLayout, createdAt); perr == nil {
			c.CreatedAt = t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkConsumed flags candidates as used by a curation round for the given
// period. All ids are updated in a single transaction.
func (p *Pool) MarkConsumed(ctx context.Context, ids []string, period model.Period) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	stmt, err := tx.PrepareContext(ctx,
		`UPDATE candidates SET consumed_period = ?, consumed_at = ? WHERE id = ? AND consumed_period = ''`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, string(period), now, id); err != nil {
			return fmt.Errorf("failed to mark candidate %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// CountAvailable returns the number of unconsumed candidates.
func (p *Pool) CountAvailable(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candidates WHERE consumed_period = ''`).Scan(&n)
	return n, err
}

// SaveCaption records an accepted caption so a later run can seed its
// duplicate checks with history.
func (p *Pool) SaveCaption(ctx context.Context, rec model.CaptionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO captions (text, style, best_effort, created_at) VALUES (?, ?, ?, ?)`,
		rec.Text, rec.Style, rec.BestEffort, createdAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("failed to save caption: %w", err)
	}
	return nil
}

// RecentCaptions returns up to n most recent captions, oldest first.
func (p *Pool) RecentCaptions(ctx context.Context, n int) ([]model.CaptionRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT text, style, best_effort, created_at FROM captions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query captions: %w", err)
	}
	defer rows.Close()

	var out []model.CaptionRecord
	for rows.Next() {
		var rec model.CaptionRecord
		var createdAt string
		if err := rows.Scan(&rec.Text, &rec.Style, &rec.BestEffort, &createdAt); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(timeLayout, createdAt); perr == nil {
			rec.CreatedAt = t
		}
		out = append(out, rec)
	}
	// Reverse to oldest-first so seeding preserves insertion order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
