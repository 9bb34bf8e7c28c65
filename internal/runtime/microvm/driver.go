// Package microvm implements the backend driver that maps each session
// to one remote microVM, spoken to over the agent HTTP API defined in
// the protocol package.
package microvm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/crucible-sh/crucible/internal/config"
	"github.com/crucible-sh/crucible/internal/sandbox"
	"github.com/crucible-sh/crucible/protocol"
)

// execGracePeriod bounds how long past the agent-side timeout we wait
// before recycling the VM ourselves.
const execGracePeriod = 10 * time.Second

type Driver struct {
	endpoint    string
	apiKey      string
	client      *http.Client
	execTimeout time.Duration
	allowlist   sandbox.Allowlist
	logger      *slog.Logger

	vmID string
}

var _ sandbox.Driver = (*Driver)(nil)

func New(cfg config.MicroVMConfig, execTimeout time.Duration, allowlist sandbox.Allowlist, logger *slog.Logger) (*Driver, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("microvm endpoint is required")
	}
	return &Driver{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:      cfg.APIKey,
		client:      &http.Client{},
		execTimeout: execTimeout,
		allowlist:   allowlist,
		logger:      logger,
	}, nil
}

func (d *Driver) Start(ctx context.Context) error {
	var resp protocol.CreateVMResponse
	if err := d.doJSON(ctx, http.MethodPost, protocol.PathVMs, nil, &resp); err != nil {
		return fmt.Errorf("%w: provisioning microVM: %v", sandbox.ErrBackendUnavailable, err)
	}
	d.vmID = resp.VMID
	d.logger.Info("microVM provisioned", "vm_id", d.vmID)
	return nil
}

func (d *Driver) Execute(ctx context.Context, code string, language sandbox.Language) (*sandbox.ExecutionResult, error) {
	req := protocol.ExecuteRequest{
		Code:      code,
		Language:  string(language),
		TimeoutMs: d.execTimeout.Milliseconds(),
	}

	// The agent enforces the timeout; the grace period covers an agent
	// that stopped answering entirely.
	execCtx, cancel := context.WithTimeout(ctx, d.execTimeout+execGracePeriod)
	defer cancel()

	var resp protocol.ExecuteResponse
	err := d.doJSON(execCtx, http.MethodPost, d.vmPath(protocol.PathExecute), req, &resp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, sandbox.ErrTimeout) || execCtx.Err() != nil {
			d.recycle(ctx)
			return nil, fmt.Errorf("%w: after %s", sandbox.ErrTimeout, d.execTimeout)
		}
		return nil, err
	}

	result := &sandbox.ExecutionResult{
		Stdout:          strings.ToValidUTF8(resp.Stdout, "�"),
		Stderr:          strings.ToValidUTF8(resp.Stderr, "�"),
		ExitCode:        resp.ExitCode,
		DurationSeconds: float64(resp.DurationMs) / 1000.0,
	}
	for _, a := range resp.Artifacts {
		result.Artifacts = append(result.Artifacts, intrinsicArtifact(a))
	}
	return result, nil
}

// intrinsicArtifact converts a VM-native rich result into an
// already-processed inline reference.
func intrinsicArtifact(a protocol.Artifact) sandbox.ArtifactRef {
	ref := sandbox.ArtifactRef{
		Filename: a.Filename,
		MimeType: a.MimeType,
		URL:      "data:" + a.MimeType + ";base64," + a.DataBase64,
	}
	if decoded, err := base64.StdEncoding.DecodeString(a.DataBase64); err == nil {
		ref.SizeBytes = int64(len(decoded))
	}
	return ref
}

// recycle replaces a VM whose workload blew through the timeout. The
// old VM is deleted best-effort; the next execute needs a fresh one.
func (d *Driver) recycle(ctx context.Context) {
	old := d.vmID
	if err := d.doJSON(ctx, http.MethodDelete, d.vmPath(protocol.PathVM), nil, nil); err != nil {
		d.logger.Warn("deleting timed-out microVM failed", "vm_id", old, "error", err)
	}
	if err := d.Start(ctx); err != nil {
		d.logger.Error("replacing timed-out microVM failed", "vm_id", old, "error", err)
		return
	}
	d.logger.Info("microVM recycled after timeout", "old_vm_id", old, "vm_id", d.vmID)
}

func (d *Driver) Upload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, localPath)
	}

	u := d.endpoint + d.vmPath(protocol.PathFiles) + "?path=" + url.QueryEscape(remotePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: upload: %v", sandbox.ErrBackendCrashed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return d.errorFromResponse(resp)
	}
	return nil
}

func (d *Driver) Download(ctx context.Context, remotePath, localPath string) error {
	u := d.endpoint + d.vmPath(protocol.PathFiles) + "?path=" + url.QueryEscape(remotePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: download: %v", sandbox.ErrBackendCrashed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return d.errorFromResponse(resp)
	}

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", localPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}

func (d *Driver) ListFiles(ctx context.Context, path string) ([]string, error) {
	var resp protocol.ListFilesResponse
	p := d.vmPath(protocol.PathFiles) + "/list?path=" + url.QueryEscape(path)
	if err := d.doJSON(ctx, http.MethodGet, p, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

func (d *Driver) InstallPackage(ctx context.Context, spec string) error {
	if err := d.allowlist.Check(spec); err != nil {
		return err
	}
	req := protocol.InstallPackageRequest{Spec: spec}
	if err := d.doJSON(ctx, http.MethodPost, d.vmPath(protocol.PathPackages), req, nil); err != nil {
		return err
	}
	return nil
}

func (d *Driver) Terminate(ctx context.Context) {
	if d.vmID == "" {
		return
	}
	if err := d.doJSON(ctx, http.MethodDelete, d.vmPath(protocol.PathVM), nil, nil); err != nil {
		d.logger.Warn("microVM delete failed", "vm_id", d.vmID, "error", err)
	}
	d.vmID = ""
}

func (d *Driver) vmPath(pattern string) string {
	return strings.Replace(pattern, "{vm}", d.vmID, 1)
}

func (d *Driver) authorize(req *http.Request) {
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}
}

// doJSON sends an optionally-bodied request and decodes a JSON response
// into out when out is non-nil. Agent error envelopes map onto the
// sandbox error taxonomy.
func (d *Driver) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	d.authorize(req)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: agent call: %v", sandbox.ErrBackendCrashed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return d.errorFromResponse(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", sandbox.ErrBackendCrashed, err)
		}
	}
	return nil
}

func (d *Driver) errorFromResponse(resp *http.Response) error {
	var envelope protocol.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Code == "" {
		return fmt.Errorf("%w: agent returned %d: %s", sandbox.ErrBackendCrashed, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	switch envelope.Code {
	case protocol.CodeTimeout:
		return fmt.Errorf("%w: %s", sandbox.ErrTimeout, envelope.Message)
	case protocol.CodeNotFound:
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, envelope.Message)
	case protocol.CodeUnsupportedLanguage:
		return fmt.Errorf("%w: %s", sandbox.ErrUnsupportedLanguage, envelope.Message)
	case protocol.CodeInstallFailed:
		return fmt.Errorf("%w: %s", sandbox.ErrInstallFailed, envelope.Message)
	default:
		return fmt.Errorf("%w: %s: %s", sandbox.ErrBackendCrashed, envelope.Code, envelope.Message)
	}
}
