package integration

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-sh/crucible/internal/api"
	"github.com/crucible-sh/crucible/internal/artifact"
	"github.com/crucible-sh/crucible/internal/audit"
	"github.com/crucible-sh/crucible/internal/config"
	"github.com/crucible-sh/crucible/internal/orchestrator"
	"github.com/crucible-sh/crucible/internal/sandbox"
	"github.com/crucible-sh/crucible/internal/session"
)

const testAPIKey = "sk-integration-test"

// scriptedDriver is an in-process backend so the whole HTTP stack can
// be exercised without a container runtime. Lines of the form
// "write <name> <content>" create session files; everything else just
// echoes.
type scriptedDriver struct {
	mu         sync.Mutex
	files      map[string][]byte
	terminated atomic.Bool
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{files: make(map[string][]byte)}
}

func (d *scriptedDriver) Start(ctx context.Context) error { return nil }

func (d *scriptedDriver) Execute(ctx context.Context, code string, language sandbox.Language) (*sandbox.ExecutionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var stdout strings.Builder
	for _, line := range strings.Split(code, "\n") {
		fields := strings.SplitN(strings.TrimSpace(line), " ", 3)
		if len(fields) == 3 && fields[0] == "write" {
			d.files[fields[1]] = []byte(fields[2])
			continue
		}
		if line != "" {
			fmt.Fprintln(&stdout, line)
		}
	}
	return &sandbox.ExecutionResult{Stdout: stdout.String(), ExitCode: 0, DurationSeconds: 0.01}, nil
}

func (d *scriptedDriver) Upload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, localPath)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[filepath.Base(remotePath)] = data
	return nil
}

func (d *scriptedDriver) Download(ctx context.Context, remotePath, localPath string) error {
	d.mu.Lock()
	data, ok := d.files[filepath.Base(remotePath)]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, remotePath)
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (d *scriptedDriver) ListFiles(ctx context.Context, path string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var names []string
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *scriptedDriver) InstallPackage(ctx context.Context, spec string) error { return nil }

func (d *scriptedDriver) Terminate(ctx context.Context) {
	d.terminated.Store(true)
}

func startTestServer(t *testing.T) string {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Listen: "127.0.0.1:0",
		APIKey: testAPIKey,
	}

	factory := func() (sandbox.Driver, error) { return newScriptedDriver(), nil }
	mgr := session.NewManager(factory, 5*time.Minute, time.Minute, logger)
	orch := orchestrator.New(mgr, audit.NewLogSink(logger, false), artifact.NewProcessor(nil, logger), logger)
	srv := api.NewServer(cfg, orch, logger)

	ln, err := net.Listen("tcp", cfg.Listen)
	require.NoError(t, err)

	httpServer := &http.Server{Handler: srv.Handler()}
	go httpServer.Serve(ln)
	t.Cleanup(func() {
		httpServer.Close()
		orch.Shutdown(context.Background())
	})

	return "http://" + ln.Addr().String()
}

func TestEndToEndSessionLifecycle(t *testing.T) {
	baseURL := startTestServer(t)
	alice := newTestClient(baseURL, testAPIKey, "alice")

	// Upload an input file into a fresh session.
	status := alice.uploadFile(t, "sess-e2e", "input.csv",
		base64.StdEncoding.EncodeToString([]byte("a,b\n1,2\n")))
	require.Equal(t, http.StatusCreated, status)

	// Execute code that reads input and produces output files.
	body, status := alice.execute(t, "sess-e2e", "python",
		"processing input.csv\nwrite plot.png binarypixels\nwrite summary.txt all done")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processing input.csv\n", body["stdout"])
	assert.Equal(t, float64(0), body["exit_code"])

	artifacts := body["artifacts"].([]any)
	require.Len(t, artifacts, 2)
	byName := map[string]map[string]any{}
	for _, a := range artifacts {
		m := a.(map[string]any)
		byName[m["filename"].(string)] = m
	}
	assert.Contains(t, byName["plot.png"]["url"], "data:image/png;base64,")
	assert.Equal(t, "text/plain", byName["summary.txt"]["mime_type"])
	assert.Nil(t, byName["summary.txt"]["url"])

	// Session files accumulated across operations.
	files := alice.listFiles(t, "sess-e2e")
	assert.Equal(t, []string{"input.csv", "plot.png", "summary.txt"}, files)

	// Download round-trips content.
	data, status := alice.downloadFile(t, "sess-e2e", "summary.txt")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "all done", string(data))
}

func TestEndToEndCrossUserIsolation(t *testing.T) {
	baseURL := startTestServer(t)
	alice := newTestClient(baseURL, testAPIKey, "alice")
	mallory := newTestClient(baseURL, testAPIKey, "mallory")

	_, status := alice.execute(t, "shared-id", "python", "hello from alice")
	require.Equal(t, http.StatusOK, status)

	body, status := mallory.execute(t, "shared-id", "python", "hello from mallory")
	require.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "ACCESS_DENIED", body["error_code"])
}

func TestShutdownAfterServerCloseTerminatesSessions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Listen: "127.0.0.1:0", APIKey: testAPIKey}

	var mu sync.Mutex
	var drivers []*scriptedDriver
	factory := func() (sandbox.Driver, error) {
		d := newScriptedDriver()
		mu.Lock()
		drivers = append(drivers, d)
		mu.Unlock()
		return d, nil
	}

	mgr := session.NewManager(factory, 5*time.Minute, time.Minute, logger)
	orch := orchestrator.New(mgr, audit.NewLogSink(logger, false), artifact.NewProcessor(nil, logger), logger)
	srv := api.NewServer(cfg, orch, logger)

	ln, err := net.Listen("tcp", cfg.Listen)
	require.NoError(t, err)
	httpServer := &http.Server{Handler: srv.Handler()}
	go httpServer.Serve(ln)

	alice := newTestClient("http://"+ln.Addr().String(), testAPIKey, "alice")
	_, status := alice.execute(t, "sess-shutdown", "python", "hello")
	require.Equal(t, http.StatusOK, status)

	// The daemon drains HTTP first; session teardown must still run to
	// completion afterwards or backends leak.
	require.NoError(t, httpServer.Close())
	require.NoError(t, orch.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, drivers, 1)
	assert.True(t, drivers[0].terminated.Load(), "session backend not terminated during shutdown")
}

func TestEndToEndRejectsBadCredentials(t *testing.T) {
	baseURL := startTestServer(t)
	intruder := newTestClient(baseURL, "wrong-key", "alice")

	resp := intruder.doRequest(t, "GET", "/v1/sessions/sess-1/files", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
