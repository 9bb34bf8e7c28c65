package docker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// InstallPackage resolves a pip package on the host and sideloads the
// wheels into the container. The container has no network, so the host
// does the downloading and the container installs offline.
func (d *Driver) InstallPackage(ctx context.Context, spec string) error {
	if err := d.allowlist.Check(spec); err != nil {
		return err
	}

	wheelDir, err := os.MkdirTemp("", "crucible-wheels-*")
	if err != nil {
		return fmt.Errorf("wheel dir: %w", err)
	}
	defer os.RemoveAll(wheelDir)

	if err := d.downloadWheels(ctx, spec, wheelDir); err != nil {
		return err
	}

	remoteDir := scratchDir + "/wheels-" + uuid.New().String()[:8]
	if err := d.copyWheels(ctx, wheelDir, remoteDir); err != nil {
		return err
	}

	cmd := []string{"python3", "-m", "pip", "install", "--no-index", "--find-links", remoteDir, spec}
	stdout, stderr, exitCode, err := d.exec(ctx, cmd, sandbox.WorkingDir)
	if err != nil {
		return fmt.Errorf("%w: pip install: %v", sandbox.ErrBackendCrashed, err)
	}
	if exitCode != 0 {
		d.logger.Warn("pip install failed", "package", spec, "stdout", stdout, "stderr", stderr)
		return fmt.Errorf("%w: %s: %s", sandbox.ErrInstallFailed, spec, lastLine(stderr))
	}

	d.exec(ctx, []string{"rm", "-rf", remoteDir}, sandbox.WorkingDir)
	d.logger.Info("package installed", "package", spec, "container", d.name)
	return nil
}

// downloadWheels runs pip on the host to fetch binary wheels for the
// container's platform.
func (d *Driver) downloadWheels(ctx context.Context, spec, dest string) error {
	args := pipDownloadArgs(spec, dest, d.cfg.PlatformTag)
	cmd := exec.CommandContext(ctx, "python3", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		d.logger.Warn("pip download failed", "package", spec, "output", string(out))
		return fmt.Errorf("%w: %s: %s", sandbox.ErrInstallFailed, spec, lastLine(string(out)))
	}
	return nil
}

// pipDownloadArgs builds the host-side pip invocation. Binary-only
// wheels keep the offline install from needing a compiler; a platform
// tag is required whenever host and container architectures differ.
func pipDownloadArgs(spec, dest, platformTag string) []string {
	args := []string{"-m", "pip", "download", "--only-binary=:all:", "--dest", dest}
	if platformTag != "" {
		args = append(args, "--platform", platformTag)
	}
	return append(args, spec)
}

func (d *Driver) copyWheels(ctx context.Context, localDir, remoteDir string) error {
	if _, _, _, err := d.exec(ctx, []string{"mkdir", "-p", remoteDir}, sandbox.WorkingDir); err != nil {
		return fmt.Errorf("%w: creating %s: %v", sandbox.ErrBackendCrashed, remoteDir, err)
	}

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("reading wheel dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(localDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading wheel %s: %w", entry.Name(), err)
		}
		if err := d.copyBytesTo(ctx, remoteDir, entry.Name(), data); err != nil {
			return fmt.Errorf("%w: copying wheel %s: %v", sandbox.ErrBackendCrashed, entry.Name(), err)
		}
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
