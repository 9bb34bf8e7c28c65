package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crucible-sh/crucible/internal/metrics"
	"github.com/crucible-sh/crucible/internal/sandbox"
)

// snapshotWorkingDir lists the working directory before a run. A failed
// snapshot degrades to "everything after the run is new" rather than
// failing the call.
func (o *Orchestrator) snapshotWorkingDir(ctx context.Context, driver sandbox.Driver, sessionID string) map[string]struct{} {
	names, err := driver.ListFiles(ctx, sandbox.WorkingDir)
	if err != nil {
		o.logger.Warn("pre-execution snapshot failed", "session_id", sessionID, "error", err)
		return map[string]struct{}{}
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// collectNewArtifacts diffs the working directory against the
// pre-execution snapshot and ships each addition. Additions only:
// deletions and in-place modifications are not reported, and the listing
// is non-recursive, so the diff is a set difference by filename. A
// failure on one artifact logs and skips it; it never fails the call.
func (o *Orchestrator) collectNewArtifacts(ctx context.Context, driver sandbox.Driver, before map[string]struct{}, userID, sessionID string) []sandbox.ArtifactRef {
	after, err := driver.ListFiles(ctx, sandbox.WorkingDir)
	if err != nil {
		o.logger.Warn("post-execution snapshot failed", "session_id", sessionID, "error", err)
		return nil
	}

	var additions []string
	for _, name := range after {
		if _, ok := before[name]; !ok {
			additions = append(additions, name)
		}
	}
	if len(additions) == 0 {
		return nil
	}
	sort.Strings(additions)

	scratch, err := os.MkdirTemp("", "crucible-artifacts-*")
	if err != nil {
		o.logger.Error("artifact scratch dir failed", "session_id", sessionID, "error", err)
		return nil
	}
	defer os.RemoveAll(scratch)

	var refs []sandbox.ArtifactRef
	for _, name := range additions {
		localPath := filepath.Join(scratch, name)
		remotePath := sandbox.WorkingDir + "/" + name

		if err := driver.Download(ctx, remotePath, localPath); err != nil {
			o.logger.Warn("artifact download failed", "session_id", sessionID, "filename", name, "error", err)
			continue
		}

		ref, err := o.processor.Process(ctx, localPath, name, userID, sessionID)
		if err != nil {
			o.logger.Warn("artifact processing failed", "session_id", sessionID, "filename", name, "error", err)
			continue
		}
		refs = append(refs, ref)
		metrics.ArtifactsShipped.WithLabelValues(artifactTransport(ref)).Inc()
	}
	return refs
}

func artifactTransport(ref sandbox.ArtifactRef) string {
	switch {
	case strings.HasPrefix(ref.URL, "data:"):
		return "inline"
	case ref.URL != "":
		return "presigned"
	default:
		return "none"
	}
}
