// Package history persists completed parse runs so settlement totals survive
// restarts and can be audited after the fact.
package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Run is one completed processing job as stored.
type Run struct {
	ID          uuid.UUID `db:"id"`
	Channel     string    `db:"channel"`
	Area        string    `db:"area"`
	Filename    string    `db:"filename"`
	Encoding    string    `db:"encoding"`
	LineCount   int       `db:"line_count"`
	RecordCount int       `db:"record_count"`
	GroupCount  int       `db:"group_count"`
	TotalCents  int64     `db:"total_cents"`
	SubmittedAt time.Time `db:"submitted_at"`
	CompletedAt time.Time `db:"completed_at"`
}

// RunGroup is one ATM reference group's summary within a stored run.
type RunGroup struct {
	RunID      uuid.UUID `db:"run_id"`
	Reference  string    `db:"reference"`
	Count      int       `db:"transaction_count"`
	TotalCents int64     `db:"total_cents"`
	Dates      []string  `db:"dates"`
}

// RunStore records completed runs and answers history queries.
type RunStore interface {
	SaveRun(ctx context.Context, run *Run, groups []*RunGroup) error
	// GetRun returns common.ErrNotFound when no run with that id exists.
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, channel string, limit int) ([]*Run, error)
	ListRunGroups(ctx context.Context, runID uuid.UUID) ([]*RunGroup, error)
}
