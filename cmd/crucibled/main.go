package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crucible-sh/crucible/internal/api"
	"github.com/crucible-sh/crucible/internal/artifact"
	"github.com/crucible-sh/crucible/internal/audit"
	"github.com/crucible-sh/crucible/internal/config"
	"github.com/crucible-sh/crucible/internal/orchestrator"
	"github.com/crucible-sh/crucible/internal/runtime/docker"
	"github.com/crucible-sh/crucible/internal/runtime/microvm"
	"github.com/crucible-sh/crucible/internal/sandbox"
	"github.com/crucible-sh/crucible/internal/session"
	"github.com/crucible-sh/crucible/internal/storage"
)

func main() {
	cfgPath := flag.String("config", "", "path to crucible.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	if cfg.APIKey == "" {
		logger.Warn("no API key configured — running in open access mode")
	}

	allowlist := sandbox.NewAllowlist(cfg.AllowedPackages)
	execTimeout := secondsToDuration(cfg.ExecutionTimeoutSeconds)

	factory, err := driverFactory(cfg, execTimeout, allowlist, logger)
	if err != nil {
		logger.Error("configure runtime", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store artifact.ObjectStore
	if cfg.ObjectStore.Enabled() {
		s3, err := storage.NewS3Store(cfg.ObjectStore, logger)
		if err != nil {
			logger.Error("object store", "error", err)
			os.Exit(1)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			logger.Error("object store bucket", "error", err)
			os.Exit(1)
		}
		store = s3
		logger.Info("object store connected", "bucket", cfg.ObjectStore.Bucket)
	} else {
		logger.Warn("no object store configured — non-image artifacts will have no URL")
	}

	auditSink, closeAudit, err := newAuditSink(cfg, logger)
	if err != nil {
		logger.Error("audit sink", "error", err)
		os.Exit(1)
	}
	defer closeAudit()

	mgr := session.NewManager(
		factory,
		secondsToDuration(cfg.IdleTimeoutSeconds),
		secondsToDuration(cfg.ReaperIntervalSeconds),
		logger,
	)

	orch := orchestrator.New(mgr, auditSink, artifact.NewProcessor(store, logger), logger)
	srv := api.NewServer(cfg, orch, logger)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // executions can be long
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown: the signal goroutine only drains the HTTP
	// server; session teardown runs in main after ListenAndServe
	// returns, so the process cannot exit mid-terminate.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer drainCancel()
		httpServer.Shutdown(drainCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen, "runtime", cfg.RuntimeKind)
	fmt.Fprintf(os.Stderr, "\n  crucible daemon ready at http://%s\n\n", cfg.Listen)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("session shutdown", "error", err)
	}
	logger.Info("all sessions terminated")
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.JSONLogs {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// driverFactory returns the per-session backend constructor for the
// configured runtime.
func driverFactory(cfg *config.Config, execTimeout time.Duration, allowlist sandbox.Allowlist, logger *slog.Logger) (sandbox.DriverFactory, error) {
	switch cfg.RuntimeKind {
	case config.RuntimeContainer:
		return func() (sandbox.Driver, error) {
			return docker.New(cfg.Container, execTimeout, allowlist, logger)
		}, nil
	case config.RuntimeMicroVM:
		if cfg.MicroVM.Endpoint == "" {
			return nil, fmt.Errorf("runtime_kind %q requires microvm.endpoint", cfg.RuntimeKind)
		}
		return func() (sandbox.Driver, error) {
			return microvm.New(cfg.MicroVM, execTimeout, allowlist, logger)
		}, nil
	default:
		return nil, fmt.Errorf("unknown runtime_kind %q", cfg.RuntimeKind)
	}
}

func newAuditSink(cfg *config.Config, logger *slog.Logger) (audit.Sink, func(), error) {
	if cfg.EnableAuditLogging && cfg.AuditDBPath != "" {
		sink, err := audit.NewSQLiteSink(cfg.AuditDBPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("audit log", "path", cfg.AuditDBPath)
		return sink, func() { sink.Close() }, nil
	}
	return audit.NewLogSink(logger, cfg.EnableAuditLogging), func() {}, nil
}
