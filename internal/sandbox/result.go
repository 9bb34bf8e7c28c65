package sandbox

// ArtifactRef is a transportable reference to a file produced during
// execution: either an inline data URI (images) or a presigned URL.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	URL       string `json:"url,omitempty"`
}

// ExecutionResult is the complete outcome of one Execute call.
type ExecutionResult struct {
	Stdout          string        `json:"stdout"`
	Stderr          string        `json:"stderr"`
	ExitCode        int           `json:"exit_code"`
	Artifacts       []ArtifactRef `json:"artifacts"`
	DurationSeconds float64       `json:"duration_seconds"`
}

// User identifies the caller. The orchestrator reads only the stable ID;
// everything else is opaque upstream context.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
