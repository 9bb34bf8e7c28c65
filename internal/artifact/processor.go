// Package artifact turns files produced inside a sandbox into
// transportable references: inline data URIs for images, presigned
// object-store URLs for everything else.
package artifact

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/crucible-sh/crucible/internal/sandbox"
)

// ObjectStore uploads a local file and returns a time-limited access URL.
// The store namespaces objects by user and session.
type ObjectStore interface {
	Upload(ctx context.Context, localPath, objectName, userID, sessionID string) (string, error)
}

// The stdlib table only guarantees a handful of web types; common data
// science outputs resolve from /etc/mime.types, which minimal images lack.
// Register them so results do not vary by host.
func init() {
	for ext, typ := range map[string]string{
		".txt": "text/plain",
		".csv": "text/csv",
		".md":  "text/markdown",
		".tsv": "text/tab-separated-values",
	} {
		_ = mime.AddExtensionType(ext, typ)
	}
}

type Processor struct {
	store  ObjectStore // nil: uploads are skipped
	logger *slog.Logger
}

func NewProcessor(store ObjectStore, logger *slog.Logger) *Processor {
	return &Processor{store: store, logger: logger}
}

// Process builds an ArtifactRef for a downloaded sandbox file.
// Images are embedded inline as data URIs and never leave the process;
// other files are uploaded to the object store when one is configured.
// Upload failures leave URL unset and are not errors.
func (p *Processor) Process(ctx context.Context, localPath, originalFilename, userID, sessionID string) (sandbox.ArtifactRef, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return sandbox.ArtifactRef{}, fmt.Errorf("%w: artifact file %s", sandbox.ErrNotFound, localPath)
	}

	mimeType := MimeTypeByFilename(originalFilename)

	ref := sandbox.ArtifactRef{
		Filename:  originalFilename,
		MimeType:  mimeType,
		SizeBytes: info.Size(),
	}

	if strings.HasPrefix(mimeType, "image/") {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return sandbox.ArtifactRef{}, fmt.Errorf("reading artifact: %w", err)
		}
		ref.URL = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
		return ref, nil
	}

	if p.store != nil {
		url, err := p.store.Upload(ctx, localPath, originalFilename, userID, sessionID)
		if err != nil {
			p.logger.Error("artifact upload failed", "filename", originalFilename, "error", err)
			return ref, nil
		}
		ref.URL = url
	}

	return ref, nil
}

// MimeTypeByFilename resolves MIME from the filename extension with an
// application/octet-stream fallback. Parameters (charset) are stripped.
func MimeTypeByFilename(filename string) string {
	mimeType := mime.TypeByExtension(filepath.Ext(filename))
	if mimeType == "" {
		return "application/octet-stream"
	}
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}
