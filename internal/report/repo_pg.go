package report

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/fhircheck/internal/platform/db"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("fixture run not found")

// Migrate applies the report schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return 0, err
	}
	return db.NewMigrator(pool, sub).Up(ctx)
}

type runRepoPG struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) RunRepository {
	return &runRepoPG{pool: pool}
}

const runCols = `id, name, resource_type, server_url, started_at, finished_at, passed, failed, skipped`

const stepCols = `step_index, name, outcome, method, url, status, expected, elapsed_ms, error`

// SaveRun writes the run and its steps in one transaction.
func (r *runRepoPG) SaveRun(ctx context.Context, run *Run) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`INSERT INTO fixture_runs (`+runCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			run.ID, run.Name, run.ResourceType, run.ServerURL, run.StartedAt, run.FinishedAt,
			run.Passed, run.Failed, run.Skipped,
		)
		for _, s := range run.Steps {
			batch.Queue(`INSERT INTO fixture_steps (run_id, `+stepCols+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
				run.ID, s.Index, s.Name, s.Outcome, s.Method, s.URL, s.Status, s.Expected, s.ElapsedMS, s.Error,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save run %s: %w", run.ID, err)
		}
		return nil
	})
}

func (r *runRepoPG) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+runCols+` FROM fixture_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Run])
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

func (r *runRepoPG) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+runCols+` FROM fixture_runs WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	run, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[Run])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT `+stepCols+` FROM fixture_steps WHERE run_id = $1 ORDER BY step_index`, id)
	if err != nil {
		return nil, fmt.Errorf("get steps: %w", err)
	}
	run.Steps, err = pgx.CollectRows(rows, pgx.RowToStructByName[Step])
	if err != nil {
		return nil, fmt.Errorf("scan steps: %w", err)
	}
	return run, nil
}
