package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

type MockOrchestrator struct {
	mock.Mock
}

func (m *MockOrchestrator) Execute(ctx context.Context, sessionID string, user sandbox.User, language, code string) (*sandbox.ExecutionResult, error) {
	args := m.Called(ctx, sessionID, user, language, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sandbox.ExecutionResult), args.Error(1)
}

func (m *MockOrchestrator) InstallPackage(ctx context.Context, sessionID string, user sandbox.User, spec string) (string, error) {
	args := m.Called(ctx, sessionID, user, spec)
	return args.String(0), args.Error(1)
}

func (m *MockOrchestrator) ListFiles(ctx context.Context, sessionID string, user sandbox.User, path string) ([]string, error) {
	args := m.Called(ctx, sessionID, user, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockOrchestrator) UploadFile(ctx context.Context, sessionID string, user sandbox.User, localPath, remotePath string) error {
	args := m.Called(ctx, sessionID, user, localPath, remotePath)
	return args.Error(0)
}

func (m *MockOrchestrator) DownloadFile(ctx context.Context, sessionID string, user sandbox.User, remotePath, localPath string) error {
	args := m.Called(ctx, sessionID, user, remotePath, localPath)
	return args.Error(0)
}
