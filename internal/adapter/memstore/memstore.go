// Package memstore keeps checkpoints and events in process memory. It backs
// the "memory" checkpoint backend used for development and tests; nothing
// survives a restart.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Strob0t/ReelForge/internal/domain"
	"github.com/Strob0t/ReelForge/internal/domain/event"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/port/database"
	"github.com/Strob0t/ReelForge/internal/port/eventstore"
)

// Store implements database.Store and eventstore.Store. Runs are held as
// encoded checkpoints so callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	runs   map[string][]byte
	keys   map[string]string
	events map[string][]event.Event
}

var (
	_ database.Store   = (*Store)(nil)
	_ eventstore.Store = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		runs:   make(map[string][]byte),
		keys:   make(map[string]string),
		events: make(map[string][]event.Event),
	}
}

func (s *Store) SaveRun(_ context.Context, r *run.Run) error {
	data, err := run.Encode(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.IdempotencyKey != "" {
		if owner, ok := s.keys[r.IdempotencyKey]; ok && owner != r.ID {
			return fmt.Errorf("idempotency key already used by run %s: %w", owner, domain.ErrConflict)
		}
		s.keys[r.IdempotencyKey] = r.ID
	}
	s.runs[r.ID] = data
	return nil
}

func (s *Store) GetRun(_ context.Context, id string) (*run.Run, error) {
	s.mu.RLock()
	data, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get run %s: %w", id, domain.ErrNotFound)
	}
	return run.Decode(data)
}

func (s *Store) FindRunByIdempotencyKey(ctx context.Context, key string) (*run.Run, error) {
	s.mu.RLock()
	id, ok := s.keys[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("find run by idempotency key: %w", domain.ErrNotFound)
	}
	return s.GetRun(ctx, id)
}

func (s *Store) decodeAll() []run.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]run.Run, 0, len(s.runs))
	for _, data := range s.runs {
		if r, err := run.Decode(data); err == nil {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Store) ListRuns(_ context.Context, filter database.RunFilter) ([]run.Run, error) {
	all := s.decodeAll()
	out := make([]run.Run, 0, len(all))
	for i := range all {
		if len(filter.Statuses) == 0 || slices.Contains(filter.Statuses, all[i].Status) {
			out = append(out, all[i])
		}
	}
	slices.SortFunc(out, func(a, b run.Run) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) ListRunIDs(_ context.Context, statuses ...run.Status) ([]string, error) {
	all := s.decodeAll()
	slices.SortFunc(all, func(a, b run.Run) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	ids := []string{}
	for i := range all {
		if slices.Contains(statuses, all[i].Status) {
			ids = append(ids, all[i].ID)
		}
	}
	return ids, nil
}

func (s *Store) DeleteTerminalRunsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, data := range s.runs {
		r, err := run.Decode(data)
		if err != nil || !r.Status.IsTerminal() || !r.UpdatedAt.Before(cutoff) {
			continue
		}
		delete(s.runs, id)
		delete(s.events, id)
		if r.IdempotencyKey != "" {
			delete(s.keys, r.IdempotencyKey)
		}
		n++
	}
	return n, nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Append records ev for its run.
func (s *Store) Append(_ context.Context, ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.RunID] = append(s.events[ev.RunID], *ev)
	return nil
}

// LoadByRun returns up to limit events for runID, oldest first.
func (s *Store) LoadByRun(_ context.Context, runID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = eventstore.DefaultLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[runID]
	if len(evs) > limit {
		evs = evs[:limit]
	}
	return slices.Clone(evs), nil
}
