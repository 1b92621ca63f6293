// Command axiscored is the composition root: it wires config, storage,
// the Message Router and its signing/audit middleware, every dispatched
// component (scout, sentinel, gear:runtime), the Pipeline Orchestrator,
// the Worker Pool, the cron Scheduler, and the Gateway into one running
// process, then waits for SIGINT/SIGTERM to shut everything down in
// reverse order. Mirrors the teacher's cmd/tarsy/main.go wiring sequence,
// generalized from Gin to the echo/v5 Gateway this runtime uses instead.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/axiscore/axiscore/internal/audit"
	"github.com/axiscore/axiscore/internal/config"
	"github.com/axiscore/axiscore/internal/gateway"
	"github.com/axiscore/axiscore/internal/jobqueue"
	"github.com/axiscore/axiscore/internal/messages"
	"github.com/axiscore/axiscore/internal/orchestrator"
	"github.com/axiscore/axiscore/internal/registry"
	"github.com/axiscore/axiscore/internal/router"
	"github.com/axiscore/axiscore/internal/sandbox"
	"github.com/axiscore/axiscore/internal/scheduler"
	"github.com/axiscore/axiscore/internal/scout"
	"github.com/axiscore/axiscore/internal/signing"
	"github.com/axiscore/axiscore/internal/storemigrate"
	"github.com/axiscore/axiscore/internal/validator"
	"github.com/axiscore/axiscore/internal/workerpool"
)

func main() {
	configPath := flag.String("config", getEnv("AXIS_CONFIG", "./axiscore.toml"), "path to the TOML config file")
	envFile := flag.String("env-file", getEnv("AXIS_ENV_FILE", ".env"), "path to a .env file loaded before configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("main: no .env file loaded", "path", *envFile, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("main: failed to load configuration", "error", err)
		os.Exit(1)
	}
	configureLogging(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := wire(ctx, cfg)
	if err != nil {
		slog.Error("main: failed to wire dependencies", "error", err)
		os.Exit(1)
	}
	defer deps.close()

	deps.watchdog.CleanupStartupOrphans(ctx)
	deps.watchdog.Start(ctx)
	defer deps.watchdog.Stop()

	deps.workerPool.Start(ctx)
	defer deps.workerPool.Stop()

	deps.scheduler.Start(ctx)
	defer deps.scheduler.Stop()

	go func() {
		slog.Info("main: gateway listening", "addr", cfg.HTTP.Addr)
		if err := deps.server.Start(cfg.HTTP.Addr); err != nil {
			slog.Error("main: gateway server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("main: shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := deps.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("main: gateway shutdown error", "error", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// configureLogging installs the default slog handler: JSON in production,
// text in dev, matching how the teacher switches GIN_MODE.
func configureLogging(env string) {
	level := slog.LevelInfo
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

// deps holds every long-lived component main needs to start and stop.
type deps struct {
	pool        *pgxpool.Pool
	signer      *signing.Service
	watchdog    *jobqueue.Watchdog
	workerPool  *workerpool.Pool
	scheduler   *scheduler.Scheduler
	server      *gateway.Server
	sandboxHost *sandbox.Host
}

func (d *deps) close() {
	if d.sandboxHost != nil {
		d.sandboxHost.Shutdown()
	}
	if d.signer != nil {
		d.signer.Stop()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// wire constructs the full dependency graph in the order spec §9's
// leaves-first composition describes: registry -> signing -> router ->
// queue -> validator -> sandbox host -> scout -> orchestrator -> worker
// pool -> scheduler -> gateway.
func wire(ctx context.Context, cfg *config.Config) (*deps, error) {
	jobStore, msgStore, auditStore, tokenStore, pgPool, err := wireStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pgPool != nil {
		if err := config.ApplyOverrides(ctx, cfg, config.NewPostgresOverrideStore(pgPool)); err != nil {
			return nil, err
		}
	}

	digest := audit.NewDigestSink(audit.DigestSinkConfig{
		Token:   os.Getenv(cfg.Audit.SlackTokenEnv),
		Channel: cfg.Audit.SlackChannel,
	})
	auditSink := audit.NewSink(auditStore, digest)

	reg := registry.New()

	signer := signing.New(cfg.Signing.ReplayWindow)
	for _, name := range []string{"orchestrator", orchestrator.ComponentScout, orchestrator.ComponentSentinel, orchestrator.ComponentGearRuntime} {
		id, err := signing.GenerateIdentity(name)
		if err != nil {
			return nil, err
		}
		signer.RegisterIdentity(id)
	}
	signer.StartJanitor(ctx, cfg.Signing.JanitorInterval)

	dispatch := router.New(reg, router.WithSigning(signer), router.WithAudit(auditSink))

	queue := jobqueue.New(jobStore)

	v := validator.New(cfg.Validator.WorkspaceRoot, validator.WithApprovalCache(validator.NewApprovalCache(cfg.Validator.ApprovalCacheSize)))
	reg.MustRegister(orchestrator.ComponentSentinel, v.Handler())

	sandboxHost := sandbox.NewHost(cfg.Sandbox.SecretsDir, cfg.Sandbox.WorkspaceRoot)
	manifests, err := config.LoadGearManifests(cfg.Sandbox.GearManifestDir)
	if err != nil {
		return nil, err
	}
	for _, manifest := range manifests {
		if err := sandboxHost.Launch(ctx, manifest); err != nil {
			slog.Error("main: failed to launch gear, it will be unavailable", "gear", manifest.ID, "error", err)
		}
	}
	reg.MustRegister(orchestrator.ComponentGearRuntime, sandboxHost.Handler())

	planner := scout.New(nil)
	reg.MustRegister(orchestrator.ComponentScout, planner.Handler())

	broadcast := &broadcastHandle{}
	orch := orchestrator.NewOrchestrator(queue, dispatch, msgStore, broadcast, auditSink, orchestrator.Config{
		ConversationHistoryLimit: cfg.Orchestrator.ConversationHistoryLimit,
		StepTimeout:              cfg.Orchestrator.StepTimeout,
	}, orchestrator.WithSigning(signer, "orchestrator"))

	gwCfg := gateway.Config{
		TLSActive:           cfg.HTTP.TLSActive,
		HSTSMaxAgeSeconds:   cfg.HTTP.HSTSMaxAgeSeconds,
		WSRateLimit:         cfg.HTTP.WSRateLimit,
		WSRateWindow:        cfg.HTTP.WSRateWindow,
		WSHeartbeatInterval: cfg.HTTP.WSHeartbeatInterval,
		WSMaxMissedPongs:    cfg.HTTP.WSMaxMissedPongs,
		WSWriteTimeout:      cfg.HTTP.WSWriteTimeout,
	}
	server := gateway.NewServer(gwCfg, orch, msgStore, tokenStore, poolReadiness{pool: pgPool})
	broadcast.bind(server.ConnectionManager())

	workerCfg := workerpool.Config{
		WorkerCount:        cfg.Worker.WorkerCount,
		PollInterval:       cfg.Worker.PollInterval,
		PollIntervalJitter: cfg.Worker.PollIntervalJitter,
		JobTimeout:         cfg.Worker.JobTimeout,
		MaxConcurrentJobs:  cfg.Worker.MaxConcurrentJobs,
	}
	pool := workerpool.NewPool(cfg.NodeID, queue, workerCfg, orch)

	watchdog := jobqueue.NewWatchdog(queue, jobStore, pool, jobqueue.NewRetrier(queue))

	sched := scheduler.New(orch, cfg.Schedules)

	return &deps{
		pool:        pgPool,
		signer:      signer,
		watchdog:    watchdog,
		workerPool:  pool,
		scheduler:   sched,
		server:      server,
		sandboxHost: sandboxHost,
	}, nil
}

// wireStores picks Postgres-backed stores when AXIS_DATABASE_DSN (via
// cfg.Database.DSN) is set, and falls back to in-memory stores otherwise —
// enough to run the full pipeline end to end without a database for local
// development, matching how the validator/sandbox/orchestrator unit tests
// already exercise the pipeline against jobqueue.NewMemStore.
func wireStores(ctx context.Context, cfg *config.Config) (jobqueue.Store, messages.Store, audit.Store, gateway.TokenStore, *pgxpool.Pool, error) {
	if cfg.Database.DSN == "" {
		slog.Warn("main: AXIS_DATABASE_DSN unset, running on in-memory stores (no durability across restarts)")
		return jobqueue.NewMemStore(), messages.NewMemStore(), audit.NewMemStore(), gateway.NewMemTokenStore(), nil, nil
	}

	if err := storemigrate.Apply(cfg.Database.DSN, cfg.Database.MigrationsTable); err != nil {
		return nil, nil, nil, nil, nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	poolCfg.MaxConns = cfg.Database.MaxConns

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	return jobqueue.NewPostgresStore(pool), messages.NewPostgresStore(pool), audit.NewPostgresStore(pool), gateway.NewPostgresTokenStore(pool), pool, nil
}
