package api

import (
	"context"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// Orchestrator abstracts the session-scoped operations the API handlers
// need.
type Orchestrator interface {
	Execute(ctx context.Context, sessionID string, user sandbox.User, language, code string) (*sandbox.ExecutionResult, error)
	InstallPackage(ctx context.Context, sessionID string, user sandbox.User, spec string) (string, error)
	ListFiles(ctx context.Context, sessionID string, user sandbox.User, path string) ([]string, error)
	UploadFile(ctx context.Context, sessionID string, user sandbox.User, localPath, remotePath string) error
	DownloadFile(ctx context.Context, sessionID string, user sandbox.User, remotePath, localPath string) error
}
