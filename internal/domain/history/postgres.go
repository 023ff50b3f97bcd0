package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FACorreiaa/settlement-tracker/internal/domain/common"
)

// PgxPool abstracts the subset of pgxpool.Pool used by the store to allow mocking in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

const saveRunQuery = `
	INSERT INTO settlement_runs (
		id, channel, area, filename, encoding, line_count, record_count,
		group_count, total_cents, submitted_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const getRunQuery = `
	SELECT id, channel, area, filename, encoding, line_count, record_count,
	       group_count, total_cents, submitted_at, completed_at
	FROM settlement_runs
	WHERE id = $1
`

const listRunsQuery = `
	SELECT id, channel, area, filename, encoding, line_count, record_count,
	       group_count, total_cents, submitted_at, completed_at
	FROM settlement_runs
	WHERE ($1 = '' OR channel = $1)
	ORDER BY completed_at DESC
	LIMIT $2
`

const listRunGroupsQuery = `
	SELECT run_id, reference, transaction_count, total_cents, dates
	FROM settlement_run_groups
	WHERE run_id = $1
	ORDER BY reference
`

// PostgresRunStore implements RunStore using PostgreSQL
type PostgresRunStore struct {
	pool PgxPool
}

// NewPostgresRunStore creates a new PostgreSQL-backed run store
func NewPostgresRunStore(pool PgxPool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

// SaveRun stores a completed run and its group summaries
func (s *PostgresRunStore) SaveRun(ctx context.Context, run *Run, groups []*RunGroup) error {
	_, err := s.pool.Exec(ctx, saveRunQuery,
		run.ID, run.Channel, run.Area, run.Filename, run.Encoding,
		run.LineCount, run.RecordCount, run.GroupCount, run.TotalCents,
		run.SubmittedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if len(groups) == 0 {
		return nil
	}

	// Use COPY for the group summaries; large files produce many groups
	columns := []string{"run_id", "reference", "transaction_count", "total_cents", "dates"}
	_, err = s.pool.CopyFrom(ctx,
		pgx.Identifier{"settlement_run_groups"},
		columns,
		pgx.CopyFromSlice(len(groups), func(i int) ([]any, error) {
			g := groups[i]
			dates := g.Dates
			if dates == nil {
				dates = []string{}
			}
			return []any{g.RunID, g.Reference, g.Count, g.TotalCents, dates}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to save run groups: %w", err)
	}

	return nil
}

// GetRun fetches one stored run by id. Returns common.ErrNotFound when no
// run with that id exists.
func (s *PostgresRunStore) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	var run Run
	err := s.pool.QueryRow(ctx, getRunQuery, id).Scan(
		&run.ID, &run.Channel, &run.Area, &run.Filename, &run.Encoding,
		&run.LineCount, &run.RecordCount, &run.GroupCount, &run.TotalCents,
		&run.SubmittedAt, &run.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return &run, nil
}

// ListRuns returns recent runs, optionally filtered by channel
func (s *PostgresRunStore) ListRuns(ctx context.Context, channel string, limit int) ([]*Run, error) {
	rows, err := s.pool.Query(ctx, listRunsQuery, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.ID, &run.Channel, &run.Area, &run.Filename, &run.Encoding,
			&run.LineCount, &run.RecordCount, &run.GroupCount, &run.TotalCents,
			&run.SubmittedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// ListRunGroups returns the group summaries of one stored run
func (s *PostgresRunStore) ListRunGroups(ctx context.Context, runID uuid.UUID) ([]*RunGroup, error) {
	rows, err := s.pool.Query(ctx, listRunGroupsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run groups: %w", err)
	}
	defer rows.Close()

	var groups []*RunGroup
	for rows.Next() {
		var g RunGroup
		if err := rows.Scan(&g.RunID, &g.Reference, &g.Count, &g.TotalCents, &g.Dates); err != nil {
			return nil, fmt.Errorf("failed to scan run group: %w", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate run groups: %w", err)
	}

	return groups, nil
}

var _ RunStore = (*PostgresRunStore)(nil)
