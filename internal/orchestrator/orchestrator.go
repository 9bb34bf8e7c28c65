// Package orchestrator is the public surface of the sandbox service:
// Execute, InstallPackage, ListFiles, Upload/Download, Shutdown. Every
// operation routes through the session manager's scope, which guarantees
// per-session serial execution against a live driver.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/crucible-sh/crucible/internal/artifact"
	"github.com/crucible-sh/crucible/internal/audit"
	"github.com/crucible-sh/crucible/internal/metrics"
	"github.com/crucible-sh/crucible/internal/sandbox"
)

// SessionScoper acquires a live session and runs an operation under its
// mutex. Satisfied by *session.Manager.
type SessionScoper interface {
	With(ctx context.Context, sessionID string, user sandbox.User, fn func(ctx context.Context, driver sandbox.Driver) error) error
	Shutdown(ctx context.Context) error
}

type Orchestrator struct {
	sessions  SessionScoper
	audit     audit.Sink
	processor *artifact.Processor
	logger    *slog.Logger
}

func New(sessions SessionScoper, auditSink audit.Sink, processor *artifact.Processor, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sessions:  sessions,
		audit:     auditSink,
		processor: processor,
		logger:    logger,
	}
}

// Execute runs code in the session's sandbox and ships back any files
// the run produced. The audit record is emitted before the code reaches
// the backend; audit failure never gates execution.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string, user sandbox.User, language, code string) (*sandbox.ExecutionResult, error) {
	lang, err := sandbox.ParseLanguage(language)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, language)
	}

	var result *sandbox.ExecutionResult
	err = o.sessions.With(ctx, sessionID, user, func(ctx context.Context, driver sandbox.Driver) error {
		if hash, auditErr := o.audit.LogPreExecution(ctx, code, string(lang)); auditErr != nil {
			o.logger.Error("audit sink failed", "session_id", sessionID, "code_hash", hash, "error", auditErr)
		}

		o.logger.Info("executing code", "session_id", sessionID, "user_id", user.ID, "language", lang)

		before := o.snapshotWorkingDir(ctx, driver, sessionID)

		res, execErr := driver.Execute(ctx, code, lang)
		if execErr != nil {
			return execErr
		}

		res.Artifacts = append(res.Artifacts, o.collectNewArtifacts(ctx, driver, before, user.ID, sessionID)...)
		result = res
		return nil
	})

	observeExecution(string(lang), err)
	if err != nil {
		return nil, err
	}
	metrics.ExecutionDuration.WithLabelValues(string(lang)).Observe(result.DurationSeconds)
	return result, nil
}

// InstallPackage installs a package into the session's sandbox. The
// driver enforces the allowlist.
func (o *Orchestrator) InstallPackage(ctx context.Context, sessionID string, user sandbox.User, spec string) (string, error) {
	err := o.sessions.With(ctx, sessionID, user, func(ctx context.Context, driver sandbox.Driver) error {
		return driver.InstallPackage(ctx, spec)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Package %s installed successfully.", spec), nil
}

// ListFiles returns the driver's listing for path verbatim, defaulting
// to the working directory root.
func (o *Orchestrator) ListFiles(ctx context.Context, sessionID string, user sandbox.User, path string) ([]string, error) {
	if path == "" {
		path = "."
	}
	var files []string
	err := o.sessions.With(ctx, sessionID, user, func(ctx context.Context, driver sandbox.Driver) error {
		var listErr error
		files, listErr = driver.ListFiles(ctx, path)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// UploadFile injects a local file into the session's sandbox.
func (o *Orchestrator) UploadFile(ctx context.Context, sessionID string, user sandbox.User, localPath, remotePath string) error {
	return o.sessions.With(ctx, sessionID, user, func(ctx context.Context, driver sandbox.Driver) error {
		return driver.Upload(ctx, localPath, remotePath)
	})
}

// DownloadFile retrieves a sandbox file to a local path.
func (o *Orchestrator) DownloadFile(ctx context.Context, sessionID string, user sandbox.User, remotePath, localPath string) error {
	return o.sessions.With(ctx, sessionID, user, func(ctx context.Context, driver sandbox.Driver) error {
		return driver.Download(ctx, remotePath, localPath)
	})
}

// Shutdown terminates all sessions and stops the reaper. Idempotent.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.sessions.Shutdown(ctx)
}

func observeExecution(language string, err error) {
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, sandbox.ErrTimeout):
		status = "timeout"
	default:
		status = "error"
	}
	metrics.ExecutionsTotal.WithLabelValues(language, status).Inc()
}
