package adapters

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"

	ports "github.com/ZanzyTHEbar/sql-agent/sqlagent/harness/ports"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrateRunStore applies the run history schema. dialect is goose.DialectTurso for libsql
// files and goose.DialectSQLite3 for plain sqlite.
func MigrateRunStore(ctx context.Context, db *sql.DB, dialect goose.Dialect) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to run run-store migrations: %w", err)
	}
	return nil
}

// LibSQLRunStore implements RunStore on a libsql (or sqlite) database.
type LibSQLRunStore struct {
	db *sql.DB
}

// NewLibSQLRunStore creates a run store. The schema must already be migrated.
func NewLibSQLRunStore(db *sql.DB) *LibSQLRunStore {
	return &LibSQLRunStore{
		db: db,
	}
}

// StartRun records the question of a new run.
func (s *LibSQLRunStore) StartRun(ctx context.Context, run ports.RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_runs (id, question, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Question, toMillis(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// AppendStep stores one scratchpad entry.
func (s *LibSQLRunStore) AppendStep(ctx context.Context, runID string, step ports.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO agent_steps (run_id, step_index, thought, action, action_input, observation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, step.Index, step.Thought, step.Action, step.ActionInput, step.Observation, toMillis(step.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append step: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *LibSQLRunStore) FinishRun(ctx context.Context, run ports.RunRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE agent_runs SET output = ?, stop_reason = ?, iterations = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		run.Output, run.StopReason, run.Iterations, run.Error, toMillis(run.FinishedAt), run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to finish run: unknown run %s", run.ID)
	}
	return nil
}

// LoadSteps returns the steps of a run in order.
func (s *LibSQLRunStore) LoadSteps(ctx context.Context, runID string) ([]ports.StepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, thought, action, action_input, observation, created_at
		FROM agent_steps WHERE run_id = ? ORDER BY step_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []ports.StepRecord
	for rows.Next() {
		var (
			step    ports.StepRecord
			created int64
		)
		if err := rows.Scan(&step.Index, &step.Thought, &step.Action, &step.ActionInput, &step.Observation, &created); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		step.CreatedAt = fromMillis(created)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

// RecentRuns returns the last k runs, newest first.
func (s *LibSQLRunStore) RecentRuns(ctx context.Context, k int) ([]ports.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, question, output, stop_reason, iterations, error, started_at, finished_at
		FROM agent_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []ports.RunRecord
	for rows.Next() {
		var (
			run      ports.RunRecord
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.Question, &run.Output, &run.StopReason, &run.Iterations, &run.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = fromMillis(started)
		if finished.Valid {
			run.FinishedAt = fromMillis(finished.Int64)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Ensure LibSQLRunStore implements the RunStore interface.
var _ ports.RunStore = (*LibSQLRunStore)(nil)
