package sandbox

import "context"

// Language is an interpreter the sandbox can run code under.
type Language string

const (
	LanguagePython Language = "python"
	LanguageBash   Language = "bash"
	LanguageR      Language = "r"
)

// ParseLanguage validates a user-supplied language string.
func ParseLanguage(s string) (Language, error) {
	switch Language(s) {
	case LanguagePython, LanguageBash, LanguageR:
		return Language(s), nil
	}
	return "", ErrUnsupportedLanguage
}

// WorkingDir is the non-root working directory inside every sandbox.
const WorkingDir = "/home/user"

// Driver is the backend-specific implementation of the sandbox
// operations. A driver instance is exclusively owned by one session; the
// session mutex guarantees no two calls overlap in time, but successive
// calls may arrive from different goroutines.
type Driver interface {
	// Start provisions the backend. Called exactly once per session.
	Start(ctx context.Context) error

	// Execute runs code and captures output. It enforces the configured
	// execution timeout itself: on expiry it forcibly clears the runaway
	// process (container restart / VM replacement) and returns ErrTimeout,
	// leaving the backend usable for the next call.
	Execute(ctx context.Context, code string, language Language) (*ExecutionResult, error)

	// Upload injects a local file into the sandbox.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Download retrieves a sandbox file to a local path.
	Download(ctx context.Context, remotePath, localPath string) error

	// ListFiles returns the filenames (not paths) directly under path.
	ListFiles(ctx context.Context, path string) ([]string, error)

	// InstallPackage installs a package after allowlist screening.
	InstallPackage(ctx context.Context, spec string) error

	// Terminate tears the backend down. It never returns an error to the
	// caller; internal failures are logged and swallowed. Called at most
	// once, and only after the owning session has been deactivated.
	Terminate(ctx context.Context)
}

// DriverFactory creates one driver per session.
type DriverFactory func() (Driver, error)
