package sandbox

import "errors"

// Sentinel errors for the error kinds the orchestrator surfaces.
// Call sites wrap these with fmt.Errorf("%w: ...") and callers match
// with errors.Is.
var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrAccessDenied        = errors.New("access denied")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrPackageNotAllowed   = errors.New("package not allowed")
	ErrTimeout             = errors.New("execution timed out")
	ErrBackendUnavailable  = errors.New("backend unavailable")
	ErrBackendCrashed      = errors.New("backend crashed")
	ErrNotFound            = errors.New("not found")
	ErrInstallFailed       = errors.New("package install failed")
)
