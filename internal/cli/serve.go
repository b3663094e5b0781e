package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/validation"
	"github.com/opensource-finance/kestrel/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the validation service",
	Long: `Serve starts the HTTP API and the document worker.

Community tier uses SQLite, an in-memory LRU cache and Go channels.
Pro tier (KESTREL_TIER=pro) uses PostgreSQL, Redis and NATS.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	addRuleFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	setupLogger(os.Stdout, cfg.Logging)

	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	var repo domain.Repository
	if cfg.Repository.Driver != "none" {
		sqlRepo, err := repository.New(cfg.Repository)
		if err != nil {
			return fmt.Errorf("failed to initialize repository: %w", err)
		}
		defer sqlRepo.Close()
		repo = sqlRepo
		slog.Info("repository initialized", "driver", cfg.Repository.Driver)
	}

	// Initialize Cache
	var cacheImpl domain.Cache
	if cfg.Cache.Type != "none" {
		cacheImpl, err = cache.New(cfg.Cache)
		if err != nil {
			return fmt.Errorf("failed to initialize cache: %w", err)
		}
		defer cacheImpl.Close()
		slog.Info("cache initialized", "type", cfg.Cache.Type, "two_phase", cfg.Cache.EnableTwoPhase)
	}

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Initialize Rule Engine
	engine, compiler, err := buildEngine(cfg.Engine, ruleOptions)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	if repo != nil {
		if err := loadPersistedRules(ctx, repo, engine, compiler); err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	svc := validation.NewService(engine, validation.Options{
		Repository: repo,
		Cache:      cacheImpl,
		Metrics:    m,
		CacheTTL:   cfg.Validation.CacheTTL,
	})

	var hist *history.Service
	if repo != nil {
		hist = history.NewService(repo).WithZScoreThreshold(cfg.Validation.ZScoreThreshold)
	}

	// Initialize document Worker
	docWorker := worker.NewWorker(busImpl, svc, m)
	workerCfg := worker.Config{
		TenantIDs:   tenantsFromEnv(),
		WorkerCount: cfg.Validation.Workers,
		AlertRisk:   cfg.Validation.AlertRisk,
	}
	if err := docWorker.Start(workerCfg); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	slog.Info("worker started", "tenant_count", len(workerCfg.TenantIDs), "workers", workerCfg.WorkerCount)

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Validator:  svc,
		Repository: repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		History:    hist,
		Compiler:   compiler,
		Metrics:    m,
		Gatherer:   reg,
		RateLimit:  cfg.RateLimit,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cmd, cfg)

	// Wait for shutdown signal or a server failure
	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case serveErr = <-errCh:
		slog.Error("server failed", "error", serveErr)
	}
	slog.Info("shutting down...")

	// Stop the worker first so no document is validated against a closed store
	if err := docWorker.Stop(); err != nil {
		slog.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
	return serveErr
}

// tenantsFromEnv reads the comma-separated KESTREL_TENANTS list.
func tenantsFromEnv() []string {
	var tenants []string
	for _, t := range strings.Split(os.Getenv("KESTREL_TENANTS"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

func printBanner(cmd *cobra.Command, cfg *domain.Config) {
	out := cmd.ErrOrStderr()
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  KESTREL - document validation and fraud-risk scoring")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Version:  %s\n", Version)
	fmt.Fprintf(out, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(out, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Endpoints:")
	fmt.Fprintln(out, "    POST   /api/v1/validate                - Validate a record")
	fmt.Fprintln(out, "    POST   /api/v1/documents               - Queue a record for the worker")
	fmt.Fprintln(out, "    GET    /api/v1/reports[/{id}]          - Get reports")
	fmt.Fprintln(out, "    GET    /api/v1/documents/{id}/context  - Historical context of a document")
	fmt.Fprintln(out, "    GET    /api/v1/rules                   - List rules")
	fmt.Fprintln(out, "    POST   /api/v1/rules                   - Create an expression rule")
	fmt.Fprintln(out, "    DELETE /api/v1/rules/{name}            - Remove a rule")
	fmt.Fprintln(out, "    POST   /api/v1/rules/reload            - Hot-reload saved rules")
	fmt.Fprintln(out, "    GET    /health, /ready, /metrics")
	fmt.Fprintln(out)
}
