// Package main is the entry point for the registry backend binary.
// It dispatches four subcommands (serve, worker, migrate and version) via a simple
// switch on os.Args so the binary's full CLI surface is readable in one place.
// serve and worker run auto-migration on startup so freshly deployed containers
// never need a separate migration step.
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

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/school-registry/registro/internal/api"
	"github.com/school-registry/registro/internal/config"
	"github.com/school-registry/registro/internal/db"
	"github.com/school-registry/registro/internal/jobs"
	"github.com/school-registry/registro/internal/queue"
	"github.com/school-registry/registro/internal/safego"
	"github.com/school-registry/registro/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}
	if command == "version" {
		fmt.Printf("Registro v%s\n", version)
		return nil
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg)
	case "worker":
		return work(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, worker, migrate, version", command)
	}
}

// connect opens the pool, applies pending migrations and starts the pool collector.
func connect(cfg *config.Config) (*sqlx.DB, error) {
	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"name", cfg.Database.Name, "user", cfg.Database.User, "ssl_mode", cfg.Database.SSLMode)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.RunMigrations(database.DB, "up"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database.DB); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	telemetry.StartDBStatsCollector(database.DB)
	return database, nil
}

// startMetricsServer serves /metrics on a dedicated port so it is not reachable
// through the public API ingress path.
func startMetricsServer(cfg *config.Config) *http.Server {
	if !cfg.Telemetry.Metrics.Enabled {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	safego.Go("metrics-server", func() {
		slog.Info("starting Prometheus metrics server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	})
	return srv
}

func shutdownServer(srv *http.Server, timeout time.Duration) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

func serve(cfg *config.Config) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	metrics := startMetricsServer(cfg)

	api.Version = version
	router, bgServices, err := api.NewRouter(cfg, database)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server", "addr", server.Addr, "base_url", cfg.Server.BaseURL,
			"audit", cfg.Audit.Enabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("shutting down server")
	if err := shutdownServer(server, 10*time.Second); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bgServices.Shutdown()
	_ = shutdownServer(metrics, 5*time.Second)

	slog.Info("server stopped gracefully")
	return nil
}

func work(cfg *config.Config) error {
	database, err := connect(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	metrics := startMetricsServer(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, cleanup, err := newWorkerPool(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer cleanup()

	var g safego.Group
	for _, w := range pool {
		g.Go(w.name, func() { w.worker.Run(ctx) })
	}
	if cfg.Telemetry.Metrics.Enabled {
		reporter := jobs.NewQueueDepthReporter(queue.NewStore(database), queueNames(), 30*time.Second)
		g.Go("queue-depth-reporter", func() { reporter.Start(ctx) })
	}
	<-ctx.Done()

	slog.Info("stopping queue workers")
	g.Wait()
	_ = shutdownServer(metrics, 5*time.Second)
	slog.Info("queue workers stopped")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database.DB, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database.DB)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}
