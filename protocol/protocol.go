// Package protocol defines the JSON message types exchanged between the
// orchestrator and the remote microVM agent.
package protocol

// MaxOutputBytes caps captured execution output on the agent side.
const MaxOutputBytes = 5 * 1024 * 1024 // 5 MB

// Agent API paths. VM ids are substituted for {vm}.
const (
	PathVMs      = "/v1/vms"
	PathExecute  = "/v1/vms/{vm}/execute"
	PathFiles    = "/v1/vms/{vm}/files"
	PathPackages = "/v1/vms/{vm}/packages"
	PathVM       = "/v1/vms/{vm}"
)

// CreateVMResponse acknowledges a freshly provisioned VM.
type CreateVMResponse struct {
	VMID string `json:"vm_id"`
}

type ExecuteRequest struct {
	Code      string `json:"code"`
	Language  string `json:"language"`
	TimeoutMs int64  `json:"timeout_ms"`
}

// Artifact is a rich result the VM produced natively during execution
// (e.g. an inline chart render), already encoded for transport.
type Artifact struct {
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	DataBase64 string `json:"data_base64"`
}

type ExecuteResponse struct {
	Stdout     string     `json:"stdout"`
	Stderr     string     `json:"stderr"`
	ExitCode   int        `json:"exit_code"`
	DurationMs int64      `json:"duration_ms"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
}

type ListFilesResponse struct {
	Files []string `json:"files"`
}

type InstallPackageRequest struct {
	Spec string `json:"spec"`
}

// Error codes carried in ErrorResponse.Code.
const (
	CodeTimeout             = "timeout"
	CodeNotFound            = "not_found"
	CodeUnsupportedLanguage = "unsupported_language"
	CodeInstallFailed       = "install_failed"
	CodeInternal            = "internal"
)

// ErrorResponse is the agent's uniform error envelope.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
