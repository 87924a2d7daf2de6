package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ReelForge/internal/adapter/cachedstore"
	"github.com/Strob0t/ReelForge/internal/adapter/memstore"
	"github.com/Strob0t/ReelForge/internal/adapter/natskv"
	"github.com/Strob0t/ReelForge/internal/adapter/postgres"
	"github.com/Strob0t/ReelForge/internal/adapter/ristretto"
	"github.com/Strob0t/ReelForge/internal/adapter/sqlite"
	"github.com/Strob0t/ReelForge/internal/adapter/tiered"
	"github.com/Strob0t/ReelForge/internal/config"
	"github.com/Strob0t/ReelForge/internal/port/cache"
	"github.com/Strob0t/ReelForge/internal/port/database"
	"github.com/Strob0t/ReelForge/internal/port/eventstore"

	rfnats "github.com/Strob0t/ReelForge/internal/adapter/nats"
)

// backend bundles the checkpoint and event stores of the configured
// persistence backend.
type backend struct {
	runs   database.Store
	events eventstore.Store
	close  func()
}

// openBackend connects the checkpoint store selected by
// checkpoint.backend. Postgres migrations are applied when migrate is set;
// SQLite always migrates on open.
func openBackend(ctx context.Context, cfg *config.Config, migrate bool) (*backend, error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		if migrate {
			if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
				return nil, fmt.Errorf("migrations: %w", err)
			}
			slog.Info("migrations applied")
		}
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		slog.Info("postgres connected")
		return &backend{
			runs:   postgres.NewStore(pool),
			events: postgres.NewEventStore(pool),
			close:  pool.Close,
		}, nil

	case "sqlite":
		db, err := sqlite.Open(ctx, cfg.SQLite)
		if err != nil {
			if errors.Is(err, sqlite.ErrLocked) {
				return nil, fmt.Errorf("sqlite %s is used by another reelforge process: %w", cfg.SQLite.Path, err)
			}
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		slog.Info("sqlite opened", "path", db.Path())
		return &backend{
			runs:   sqlite.NewStore(db),
			events: sqlite.NewEventStore(db),
			close: func() {
				if err := db.Close(); err != nil {
					slog.Warn("sqlite close", "error", err)
				}
			},
		}, nil

	case "memory":
		slog.Warn("memory checkpoint backend: runs do not survive a restart")
		m := memstore.New()
		return &backend{runs: m, events: m, close: func() {}}, nil
	}
	return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
}

// snapshotCache builds the read cache in front of the checkpoint store:
// ristretto in process, backed by a JetStream KV bucket when NATS is up.
func snapshotCache(ctx context.Context, cfg config.Cache, queue *rfnats.Queue) (cache.Cache, error) {
	l1, err := ristretto.New(cfg.L1MaxSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	if queue == nil || cfg.L2Bucket == "" {
		return tiered.New(l1, nil, cfg.L1TTL), nil
	}
	l2, err := natskv.Open(ctx, queue.JetStream(), cfg.L2Bucket, cfg.L2TTL)
	if err != nil {
		return nil, fmt.Errorf("l2 cache: %w", err)
	}
	return tiered.New(l1, l2, cfg.L1TTL), nil
}

// cachedRuns wraps runs with the snapshot cache.
func cachedRuns(ctx context.Context, cfg config.Cache, runs database.Store, queue *rfnats.Queue) (database.Store, error) {
	c, err := snapshotCache(ctx, cfg, queue)
	if err != nil {
		return nil, err
	}
	return cachedstore.New(runs, c, cfg.L2TTL), nil
}

// idempotencyCache stores replayable start responses. The KV bucket is
// shared across replicas; without NATS an in-process cache is used.
func idempotencyCache(ctx context.Context, cfg config.Idempotency, queue *rfnats.Queue) (cache.Cache, error) {
	if queue != nil && cfg.Bucket != "" {
		return natskv.Open(ctx, queue.JetStream(), cfg.Bucket, cfg.TTL)
	}
	return ristretto.New(16 << 20)
}
