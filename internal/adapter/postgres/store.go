package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

// Store implements database.Store using PostgreSQL. The checkpoint column
// holds the run.Encode envelope; the remaining columns are denormalised for
// filtering.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) SaveRun(ctx context.Context, r *run.Run) error {
	data, err := run.Encode(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO workflow_runs (id, status, pipeline_id, input_kind, current_phase, idempotency_key, total_cost_usd, checkpoint, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   current_phase = EXCLUDED.current_phase,
		   total_cost_usd = EXCLUDED.total_cost_usd,
		   checkpoint = EXCLUDED.checkpoint,
		   updated_at = EXCLUDED.updated_at`,
		r.ID, string(r.Status), r.PipelineID, r.InputKind, r.CurrentPhase, nullIfEmpty(r.IdempotencyKey),
		r.TotalCost(), data, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT checkpoint FROM workflow_runs WHERE id = $1`, id).Scan(&data)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return run.Decode(data)
}

func (s *Store) FindRunByIdempotencyKey(ctx context.Context, key string) (*run.Run, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT checkpoint FROM workflow_runs WHERE idempotency_key = $1`, key).Scan(&data)
	if err != nil {
		return nil, notFoundWrap(err, "find run by idempotency key")
	}
	return run.Decode(data)
}

func (s *Store) ListRuns(ctx context.Context, filter database.RunFilter) ([]run.Run, error) {
	query := `SELECT id, checkpoint FROM workflow_runs`
	args := []any{}
	if len(filter.Statuses) > 0 {
		query += ` WHERE status = ANY($1)`
		args = append(args, statusStrings(filter.Statuses))
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []run.Run
	for rows.Next() {
		var (
			id   string
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r, err := run.Decode(data)
		if err != nil {
			slog.Warn("skipping undecodable checkpoint", "run_id", id, "error", err)
			continue
		}
		runs = append(runs, *r)
	}
	return orEmpty(runs), rows.Err()
}

func (s *Store) ListRunIDs(ctx context.Context, statuses ...run.Status) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM workflow_runs WHERE status = ANY($1) ORDER BY created_at ASC, id`,
		statusStrings(statuses))
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return orEmpty(ids), rows.Err()
}

func (s *Store) DeleteTerminalRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM workflow_runs WHERE status = ANY($1) AND updated_at < $2`,
		statusStrings([]run.Status{run.StatusCompleted, run.StatusFailed}), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminal runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
