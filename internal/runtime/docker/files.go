package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// Upload copies a host file into the container working directory (or an
// absolute remote path).
func (d *Driver) Upload(ctx context.Context, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, localPath)
	}

	dir, name := splitRemotePath(remotePath)
	if err := d.copyBytesTo(ctx, dir, name, data); err != nil {
		return fmt.Errorf("%w: upload %s: %v", sandbox.ErrBackendCrashed, remotePath, err)
	}
	return nil
}

// Download copies a container file to the host.
func (d *Driver) Download(ctx context.Context, remotePath, localPath string) error {
	src := remotePath
	if !strings.HasPrefix(src, "/") {
		src = sandbox.WorkingDir + "/" + src
	}

	reader, _, err := d.docker.CopyFromContainer(ctx, d.containerID, src)
	if err != nil {
		return fmt.Errorf("%w: %s", sandbox.ErrNotFound, remotePath)
	}
	defer reader.Close()

	data, err := extractSingleFile(reader)
	if err != nil {
		return fmt.Errorf("%w: reading %s: %v", sandbox.ErrBackendCrashed, remotePath, err)
	}

	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", localPath, err)
	}
	return nil
}

// ListFiles returns the entries of a directory inside the container,
// dotfiles included.
func (d *Driver) ListFiles(ctx context.Context, path string) ([]string, error) {
	if path == "" || path == "." {
		path = sandbox.WorkingDir
	}

	stdout, stderr, exitCode, err := d.exec(ctx, []string{"ls", "-1A", path}, sandbox.WorkingDir)
	if err != nil {
		return nil, fmt.Errorf("%w: listing %s: %v", sandbox.ErrBackendCrashed, path, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("%w: %s: %s", sandbox.ErrNotFound, path, strings.TrimSpace(stderr))
	}

	var files []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// copyBytesTo writes data as a single file into dir inside the container.
func (d *Driver) copyBytesTo(ctx context.Context, dir, name string, data []byte) error {
	archive, err := tarSingleFile(name, data)
	if err != nil {
		return err
	}
	return d.docker.CopyToContainer(ctx, d.containerID, dir, archive, container.CopyToContainerOptions{})
}

func splitRemotePath(remotePath string) (dir, name string) {
	if !strings.HasPrefix(remotePath, "/") {
		remotePath = sandbox.WorkingDir + "/" + remotePath
	}
	return filepath.Dir(remotePath), filepath.Base(remotePath)
}

// tarSingleFile wraps one file in the tar stream the Docker copy API
// expects.
func tarSingleFile(name string, data []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, fmt.Errorf("tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return nil, fmt.Errorf("tar write: %w", err)
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("tar close: %w", err)
	}
	return &buf, nil
}

// extractSingleFile reads the first regular file out of a tar stream.
func extractSingleFile(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("empty archive")
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
}
