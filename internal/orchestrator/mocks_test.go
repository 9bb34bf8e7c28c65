package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) LogPreExecution(ctx context.Context, code, language string) (string, error) {
	args := m.Called(ctx, code, language)
	return args.String(0), args.Error(1)
}

// memDriver is a sandbox driver with an in-memory working directory.
// Tests script Execute via the exec hook so a "run" can create, modify,
// or delete files like real code would.
type memDriver struct {
	mu    sync.Mutex
	files map[string][]byte

	exec      func(d *memDriver, code string, lang sandbox.Language) (*sandbox.ExecutionResult, error)
	allowlist sandbox.Allowlist

	startCalls     int
	terminateCalls int
	installed      []string
}

func newMemDriver() *memDriver {
	return &memDriver{
		files: make(map[string][]byte),
		exec: func(d *memDriver, code string, lang sandbox.Language) (*sandbox.ExecutionResult, error) {
			return &sandbox.ExecutionResult{Stdout: "ok", DurationSeconds: 0.01}, nil
		},
	}
}

var _ sandbox.Driver = (*memDriver)(nil)

func (d *memDriver) put(name string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[name] = data
}

func (d *memDriver) remove(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.files, name)
}

func (d *memDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startCalls++
	return nil
}

func (d *memDriver) Execute(ctx context.Context, code string, language sandbox.Language) (*sandbox.ExecutionResult, error) {
	return d.exec(d, code, language)
}

func (d *memDriver) Upload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, localPath)
	}
	d.put(baseName(remotePath), data)
	return nil
}

func (d *memDriver) Download(ctx context.Context, remotePath, localPath string) error {
	d.mu.Lock()
	data, ok := d.files[baseName(remotePath)]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, remotePath)
	}
	return os.WriteFile(localPath, data, 0644)
}

func (d *memDriver) ListFiles(ctx context.Context, path string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *memDriver) InstallPackage(ctx context.Context, spec string) error {
	if d.allowlist != nil {
		if err := d.allowlist.Check(spec); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.installed = append(d.installed, spec)
	return nil
}

func (d *memDriver) Terminate(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminateCalls++
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
