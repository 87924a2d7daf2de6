package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

// Store implements database.Store on SQLite. Timestamps are stored as unix
// nanoseconds so that ordering is numeric.
type Store struct {
	db *sql.DB
}

var _ database.Store = (*Store)(nil)

// NewStore creates a checkpoint store on an open database.
func NewStore(d *DB) *Store {
	return &Store{db: d.db}
}

func (s *Store) SaveRun(ctx context.Context, r *run.Run) error {
	data, err := run.Encode(r)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (id, status, pipeline_id, input_kind, current_phase, idempotency_key, total_cost_usd, checkpoint, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   status = excluded.status,
		   current_phase = excluded.current_phase,
		   total_cost_usd = excluded.total_cost_usd,
		   checkpoint = excluded.checkpoint,
		   updated_at = excluded.updated_at`,
		r.ID, string(r.Status), r.PipelineID, r.InputKind, r.CurrentPhase, nullableString(r.IdempotencyKey),
		r.TotalCost(), data, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save run %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT checkpoint FROM workflow_runs WHERE id = ?`, id).Scan(&data)
	if err != nil {
		return nil, notFoundWrap(err, "get run %s", id)
	}
	return run.Decode(data)
}

func (s *Store) FindRunByIdempotencyKey(ctx context.Context, key string) (*run.Run, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT checkpoint FROM workflow_runs WHERE idempotency_key = ?`, key).Scan(&data)
	if err != nil {
		return nil, notFoundWrap(err, "find run by idempotency key")
	}
	return run.Decode(data)
}

func (s *Store) ListRuns(ctx context.Context, filter database.RunFilter) ([]run.Run, error) {
	query := `SELECT id, checkpoint FROM workflow_runs`
	var args []any
	if len(filter.Statuses) > 0 {
		query += ` WHERE status IN (` + placeholders(len(filter.Statuses)) + `)`
		args = append(args, statusArgs(filter.Statuses)...)
	}
	query += ` ORDER BY created_at DESC, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := []run.Run{}
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
	return runs, rows.Err()
}

func (s *Store) ListRunIDs(ctx context.Context, statuses ...run.Status) ([]string, error) {
	if len(statuses) == 0 {
		return []string{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM workflow_runs WHERE status IN (`+placeholders(len(statuses))+`) ORDER BY created_at ASC, id`,
		statusArgs(statuses)...)
	if err != nil {
		return nil, fmt.Errorf("list run ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) DeleteTerminalRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_runs WHERE status IN (?, ?) AND updated_at < ?`,
		string(run.StatusCompleted), string(run.StatusFailed), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete terminal runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func notFoundWrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, domain.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs(statuses []run.Status) []any {
	out := make([]any, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
