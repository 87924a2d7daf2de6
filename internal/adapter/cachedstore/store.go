// Package cachedstore decorates a checkpoint store with a read-through
// snapshot cache. The underlying store stays the source of truth; every
// write goes to it first and cache failures never fail a store call.
package cachedstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/cache"
	"github.com/Strob0t/ReelForge/internal/port/database"
)

const keyPrefix = "run"

// Store wraps a database.Store with a cache of encoded checkpoints keyed by
// run id.
type Store struct {
	database.Store
	cache cache.Cache
	ttl   time.Duration
}

var _ database.Store = (*Store)(nil)

// New wraps inner with c. Entries live for ttl.
func New(inner database.Store, c cache.Cache, ttl time.Duration) *Store {
	return &Store{Store: inner, cache: c, ttl: ttl}
}

func runKey(id string) string { return cache.Key(keyPrefix, id) }

// SaveRun writes through to the store, then refreshes the cached checkpoint.
func (s *Store) SaveRun(ctx context.Context, r *run.Run) error {
	if err := s.Store.SaveRun(ctx, r); err != nil {
		return err
	}
	data, err := run.Encode(r)
	if err != nil {
		return nil
	}
	if err := s.cache.Set(ctx, runKey(r.ID), data, s.ttl); err != nil {
		slog.Warn("checkpoint cache set failed", "run_id", r.ID, "error", err)
		s.invalidate(ctx, r.ID)
	}
	return nil
}

// GetRun serves from the cache and falls back to the store on a miss or an
// undecodable entry.
func (s *Store) GetRun(ctx context.Context, id string) (*run.Run, error) {
	data, found, err := s.cache.Get(ctx, runKey(id))
	if err != nil {
		slog.Warn("checkpoint cache get failed", "run_id", id, "error", err)
	}
	if found {
		if r, decodeErr := run.Decode(data); decodeErr == nil {
			return r, nil
		}
		s.invalidate(ctx, id)
	}

	r, err := s.Store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, encErr := run.Encode(r); encErr == nil {
		if setErr := s.cache.Set(ctx, runKey(id), data, s.ttl); setErr != nil {
			slog.Debug("checkpoint cache fill failed", "run_id", id, "error", setErr)
		}
	}
	return r, nil
}

// DeleteTerminalRunsBefore evicts the cached entries of the runs it is about
// to purge, then delegates.
func (s *Store) DeleteTerminalRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	doomed, err := s.Store.ListRuns(ctx, database.RunFilter{
		Statuses: []run.Status{run.StatusCompleted, run.StatusFailed},
	})
	if err != nil {
		return 0, err
	}
	n, err := s.Store.DeleteTerminalRunsBefore(ctx, cutoff)
	if err != nil {
		return n, err
	}
	for i := range doomed {
		if doomed[i].UpdatedAt.Before(cutoff) {
			s.invalidate(ctx, doomed[i].ID)
		}
	}
	return n, nil
}

func (s *Store) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, runKey(id)); err != nil {
		slog.Warn("checkpoint cache delete failed", "run_id", id, "error", err)
	}
}
