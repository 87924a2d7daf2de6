package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/Strob0t/ReelForge/internal/adapter/discord"
	"github.com/Strob0t/ReelForge/internal/adapter/echo"
	rfhttp "github.com/Strob0t/ReelForge/internal/adapter/http"
	rfmcp "github.com/Strob0t/ReelForge/internal/adapter/mcp"
	rfnats "github.com/Strob0t/ReelForge/internal/adapter/nats"
	"github.com/Strob0t/ReelForge/internal/adapter/natsexec"
	rfotel "github.com/Strob0t/ReelForge/internal/adapter/otel"
	_ "github.com/Strob0t/ReelForge/internal/adapter/slack"
	"github.com/Strob0t/ReelForge/internal/adapter/ws"
	"github.com/Strob0t/ReelForge/internal/config"
	"github.com/Strob0t/ReelForge/internal/domain/run"
	"github.com/Strob0t/ReelForge/internal/middleware"
	"github.com/Strob0t/ReelForge/internal/port/broadcast"
	"github.com/Strob0t/ReelForge/internal/port/executor"
	"github.com/Strob0t/ReelForge/internal/port/notifier"
	"github.com/Strob0t/ReelForge/internal/resilience"
	"github.com/Strob0t/ReelForge/internal/service"
)

const version = "0.1.0"

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator with its HTTP, WebSocket and MCP surfaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(sigCtx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"checkpoint_backend", cfg.Checkpoint.Backend,
		"executor", cfg.Workflow.Executor,
		"review_fallback", cfg.Workflow.ReviewFallback,
		"max_concurrent_runs", cfg.Workflow.MaxConcurrentRuns,
	)

	// --- Observability ---

	otelShutdown, err := rfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := rfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	// --- Infrastructure ---

	queue, err := connectQueue(ctx, cfg)
	if err != nil {
		return err
	}
	if queue != nil {
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
	}

	be, err := openBackend(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer be.close()

	store, err := cachedRuns(ctx, cfg.Cache, be.runs, queue)
	if err != nil {
		return err
	}

	// --- Services ---

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	fanout := broadcast.Fanout{hub}
	if queue != nil {
		fanout = append(fanout, rfnats.NewEventPublisher(queue))
	}
	notifications, err := newNotifications(cfg.Notify)
	if err != nil {
		return err
	}
	if notifications != nil {
		fanout = append(fanout, notifications)
	}

	fallback, err := run.ParseTimeoutFallback(cfg.Workflow.ReviewFallback)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	gate := service.NewReviewGate(fallback, fanout)
	emitter := service.NewEventEmitter(be.events, fanout)

	pipelines := service.NewPipelineService()
	if n, err := pipelines.LoadDirectory(cfg.Workflow.PipelineDir); err != nil {
		return fmt.Errorf("pipelines: %w", err)
	} else if n > 0 {
		slog.Info("custom pipelines loaded", "count", n, "dir", cfg.Workflow.PipelineDir)
	}
	if _, err := pipelines.Get(cfg.Workflow.DefaultPipeline); err != nil {
		return fmt.Errorf("default pipeline %q: %w", cfg.Workflow.DefaultPipeline, err)
	}

	driver := service.NewDriver(service.DriverConfig{
		MaxRetries:           cfg.Workflow.MaxRetries,
		RetryInitialInterval: cfg.Workflow.RetryInitialInterval,
		RetryMaxInterval:     cfg.Workflow.RetryMaxInterval,
		PhaseTimeout:         cfg.Workflow.PhaseTimeout,
		ReviewTimeout:        cfg.Workflow.ReviewTimeout,
	}, store, newExecutors(cfg, queue), gate, emitter)
	driver.SetBreakers(resilience.NewSet(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	driver.SetMetrics(metrics)

	workflows := service.NewWorkflowService(service.WorkflowConfig{
		DefaultPipeline:   cfg.Workflow.DefaultPipeline,
		MaxCostUSD:        cfg.Workflow.MaxCostUSD,
		MaxConcurrentRuns: cfg.Workflow.MaxConcurrentRuns,
		Retention:         cfg.Workflow.Retention,
		JanitorInterval:   cfg.Workflow.JanitorInterval,
	}, store, pipelines, driver, gate, emitter)
	workflows.SetMetrics(metrics)

	if cfg.Workflow.ResumeOnStart {
		n, err := workflows.Resume(ctx)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		slog.Info("workflows resumed", "count", n)
	}

	if queue != nil {
		cancelDecisions, err := rfnats.ConsumeDecisions(ctx, queue, workflows)
		if err != nil {
			return fmt.Errorf("review decision consumer: %w", err)
		}
		defer cancelDecisions()
	}

	// --- HTTP ---

	idemCache, err := idempotencyCache(ctx, cfg.Idempotency, queue)
	if err != nil {
		return fmt.Errorf("idempotency cache: %w", err)
	}

	checks := map[string]rfhttp.HealthCheck{"store": store.Ping}
	if queue != nil {
		checks["nats"] = func(context.Context) error {
			if !queue.IsConnected() {
				return errors.New("disconnected")
			}
			return nil
		}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(rfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(rfhttp.SecurityHeaders)
	r.Use(rfhttp.CORS(cfg.Server.CORSOrigin))
	if cfg.OTEL.Enabled {
		r.Use(rfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	}
	rfhttp.MountRoutes(r, &rfhttp.Handlers{
		Workflows: workflows,
		Pipelines: pipelines,
		Hub:       hub,
		Checks:    checks,
	}, middleware.Idempotency(idemCache, cfg.Idempotency.TTL))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	var mcpSrv *rfmcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = rfmcp.NewServer(rfmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    cfg.MCP.Name,
			Version: version,
			APIKey:  cfg.MCP.APIKey,
		}, rfmcp.ServerDeps{Workflows: workflows, Pipelines: pipelines})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		workflows.RunJanitor(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if mcpSrv != nil {
			if err := mcpSrv.Stop(sctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := workflows.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		if notifications != nil {
			if err := notifications.Close(sctx); err != nil {
				errs = append(errs, fmt.Errorf("flush notifications: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// newNotifications builds the reviewer notification service from the
// configured webhooks. It returns nil when none is set.
func newNotifications(cfg config.Notify) (*service.NotificationService, error) {
	providers := map[string]string{
		"slack":   cfg.SlackWebhookURL,
		"discord": cfg.DiscordWebhookURL,
	}
	var notifiers []notifier.Notifier
	for _, name := range notifier.Available() {
		url := providers[name]
		if url == "" {
			continue
		}
		n, err := notifier.New(name, map[string]string{"webhook_url": url})
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if len(notifiers) == 0 {
		return nil, nil
	}
	slog.Info("reviewer notifications enabled", "providers", len(notifiers))
	return service.NewNotificationService(notifiers, service.NotificationConfig{
		Events:    cfg.Events,
		ReviewURL: cfg.ReviewURL,
	}), nil
}

// connectQueue connects to NATS. The nats executor cannot run without it;
// otherwise an unreachable server only disables events, remote decisions
// and the shared caches.
func connectQueue(ctx context.Context, cfg *config.Config) (*rfnats.Queue, error) {
	if cfg.NATS.URL == "" {
		return nil, nil
	}
	queue, err := rfnats.Connect(ctx, cfg.NATS)
	if err != nil {
		if cfg.Workflow.Executor == "nats" {
			return nil, fmt.Errorf("nats: %w", err)
		}
		slog.Warn("nats unavailable, continuing without it", "url", cfg.NATS.URL, "error", err)
		return nil, nil
	}
	slog.Info("nats connected", "url", cfg.NATS.URL)
	return queue, nil
}

// newExecutors builds the phase executor registry. Every phase uses the
// configured executor.
func newExecutors(cfg *config.Config, queue *rfnats.Queue) *executor.Registry {
	if cfg.Workflow.Executor == "nats" && queue != nil {
		return executor.NewRegistry(natsexec.New(queue, cfg.NATS.ExecuteTimeout))
	}
	return executor.NewRegistry(echo.New(0))
}
