// Package docker implements the backend driver that runs each session
// in a locked-down Docker container on the local daemon.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/crucible-sh/crucible/internal/config"
	"github.com/crucible-sh/crucible/internal/sandbox"
)

const (
	labelPrefix   = "crucible."
	containerUser = "user"
	scratchDir    = "/tmp"
)

type Driver struct {
	docker      *client.Client
	cfg         config.ContainerConfig
	execTimeout time.Duration
	allowlist   sandbox.Allowlist
	logger      *slog.Logger

	containerID string
	name        string
}

var _ sandbox.Driver = (*Driver)(nil)

func New(cfg config.ContainerConfig, execTimeout time.Duration, allowlist sandbox.Allowlist, logger *slog.Logger) (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &Driver{
		docker:      cli,
		cfg:         cfg,
		execTimeout: execTimeout,
		allowlist:   allowlist,
		logger:      logger,
		name:        "crucible-" + uuid.New().String()[:12],
	}, nil
}

// Start creates and starts the session container. The container idles
// on sleep and all work happens through exec.
func (d *Driver) Start(ctx context.Context) error {
	resources := container.Resources{
		NanoCPUs:  int64(d.cfg.CPULimit * 1e9),
		Memory:    int64(d.cfg.MemLimitMB) * units.MiB,
		PidsLimit: int64Ptr(int64(d.cfg.PidsLimit)),
	}

	hostCfg := &container.HostConfig{
		Resources:   resources,
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeTmpfs,
				Target: "/tmp",
				TmpfsOptions: &mount.TmpfsOptions{
					SizeBytes: 512 * units.MiB,
				},
			},
		},
	}

	containerCfg := &container.Config{
		Image:      d.cfg.Image,
		User:       containerUser,
		WorkingDir: sandbox.WorkingDir,
		Tty:        false,
		Cmd:        []string{"sleep", "infinity"},
		Labels: map[string]string{
			labelPrefix + "managed": "true",
			labelPrefix + "name":    d.name,
		},
	}

	resp, err := d.docker.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, d.name)
	if err != nil {
		return fmt.Errorf("%w: container create: %v", sandbox.ErrBackendUnavailable, err)
	}
	d.containerID = resp.ID

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.docker.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		d.containerID = ""
		return fmt.Errorf("%w: container start: %v", sandbox.ErrBackendUnavailable, err)
	}

	d.logger.Info("session container started", "container", d.name)
	return nil
}

// Execute copies the code into the container as a script and runs the
// matching interpreter over exec. On timeout the container is restarted
// so a wedged interpreter cannot poison later executions.
func (d *Driver) Execute(ctx context.Context, code string, language sandbox.Language) (*sandbox.ExecutionResult, error) {
	scriptPath, err := d.stageScript(ctx, code, language)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := d.exec(execCtx, interpreterCommand(language, scriptPath), sandbox.WorkingDir)
	duration := time.Since(start)

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			d.restart(ctx)
			return nil, fmt.Errorf("%w: after %s", sandbox.ErrTimeout, d.execTimeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: exec: %v", sandbox.ErrBackendCrashed, err)
	}

	return &sandbox.ExecutionResult{
		Stdout:          sanitizeOutput(stdout),
		Stderr:          sanitizeOutput(stderr),
		ExitCode:        exitCode,
		DurationSeconds: duration.Seconds(),
	}, nil
}

// stageScript writes the code under /tmp with a random name so
// concurrent-looking retries never collide.
func (d *Driver) stageScript(ctx context.Context, code string, language sandbox.Language) (string, error) {
	name := "crucible-" + uuid.New().String()[:8] + scriptSuffix(language)
	if err := d.copyBytesTo(ctx, scratchDir, name, []byte(code)); err != nil {
		return "", fmt.Errorf("%w: staging script: %v", sandbox.ErrBackendCrashed, err)
	}
	return scratchDir + "/" + name, nil
}

// exec runs cmd in the container and returns demultiplexed output plus
// the exit code.
func (d *Driver) exec(ctx context.Context, cmd []string, workDir string) (string, string, int, error) {
	execResp, err := d.docker.ContainerExecCreate(ctx, d.containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("exec create: %w", err)
	}

	attach, err := d.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", "", 0, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	// Docker multiplexes both streams over one connection with 8-byte
	// frame headers. The hijacked connection ignores ctx once attached,
	// so the copy runs in a goroutine and expiry closes the connection
	// out from under it. Silent runaway code would otherwise block the
	// read until the exec exits.
	var stdoutBuf, stderrBuf bytes.Buffer
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, attach.Reader)
		copyDone <- copyErr
	}()

	select {
	case err := <-copyDone:
		if err != nil {
			return "", "", 0, fmt.Errorf("exec read: %w", err)
		}
	case <-ctx.Done():
		attach.Close()
		<-copyDone
		return "", "", 0, ctx.Err()
	}

	inspect, err := d.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", "", 0, fmt.Errorf("exec inspect: %w", err)
	}

	return stdoutBuf.String(), stderrBuf.String(), inspect.ExitCode, nil
}

// restart recovers the container after a timed-out execution. A restart
// with zero grace kills everything the runaway code spawned while
// keeping the filesystem, so session files survive.
func (d *Driver) restart(ctx context.Context) {
	timeout := 0
	if err := d.docker.ContainerRestart(ctx, d.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		d.logger.Error("restarting timed-out container failed", "container", d.name, "error", err)
		return
	}
	d.logger.Info("container restarted after timeout", "container", d.name)
}

func (d *Driver) Terminate(ctx context.Context) {
	if d.containerID == "" {
		return
	}
	err := d.docker.ContainerRemove(ctx, d.containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil && !client.IsErrNotFound(err) {
		d.logger.Warn("container remove failed", "container", d.name, "error", err)
	}
	d.containerID = ""
	d.docker.Close()
}

func interpreterCommand(language sandbox.Language, scriptPath string) []string {
	switch language {
	case sandbox.LanguageBash:
		return []string{"bash", scriptPath}
	case sandbox.LanguageR:
		return []string{"Rscript", scriptPath}
	default:
		return []string{"python3", "-u", scriptPath}
	}
}

func scriptSuffix(language sandbox.Language) string {
	switch language {
	case sandbox.LanguageBash:
		return ".sh"
	case sandbox.LanguageR:
		return ".R"
	default:
		return ".py"
	}
}

// sanitizeOutput makes interpreter output safe for JSON transport.
func sanitizeOutput(s string) string {
	return strings.ToValidUTF8(s, "�")
}

func int64Ptr(v int64) *int64 {
	return &v
}
