package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"

	"github.com/crucible-sh/crucible/internal/artifact"
)

const maxRequestBodyBytes int64 = 8 * 1024 * 1024

// readJSONBody decodes a capped request body. Unknown fields are
// rejected so misspelled payload keys fail instead of silently
// defaulting.
func readJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

func validateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return fmt.Errorf("session id must be 1-64 characters of letters, numbers, dots, underscores, or hyphens")
	}
	return nil
}

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	var req executeRequest
	if err := readJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if req.Code == "" {
		writeValidationError(w, "code is required")
		return
	}

	user := userFromContext(r.Context())
	s.logger.Debug("execute", "session_id", id, "user_id", user.ID, "language", req.Language)

	result, err := s.orch.Execute(r.Context(), id, user, req.Language, req.Code)
	if err != nil {
		s.logger.Error("execute", "session_id", id, "user_id", user.ID, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type installPackageRequest struct {
	Package string `json:"package"`
}

type installPackageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleInstallPackage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	var req installPackageRequest
	if err := readJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if req.Package == "" {
		writeValidationError(w, "package is required")
		return
	}

	user := userFromContext(r.Context())
	msg, err := s.orch.InstallPackage(r.Context(), id, user, req.Package)
	if err != nil {
		s.logger.Error("install package", "session_id", id, "user_id", user.ID, "package", req.Package, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, installPackageResponse{Message: msg})
}

type listFilesResponse struct {
	Files []string `json:"files"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "."
	}

	user := userFromContext(r.Context())
	files, err := s.orch.ListFiles(r.Context(), id, user, path)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listFilesResponse{Files: files})
}

type uploadFileRequest struct {
	Filename      string `json:"filename"`
	ContentBase64 string `json:"content_base64"`
}

// handleUploadFile stages the body in a scratch file and hands it to
// the orchestrator, which owns the transfer into the backend.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	var req uploadFileRequest
	if err := readJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error())
		return
	}
	if req.Filename == "" || req.Filename != filepath.Base(req.Filename) {
		writeValidationError(w, "filename must be a bare file name")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeValidationError(w, "content_base64 is not valid base64")
		return
	}

	scratch, err := os.MkdirTemp("", "crucible-upload-*")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	defer os.RemoveAll(scratch)

	local := filepath.Join(scratch, req.Filename)
	if err := os.WriteFile(local, data, 0o644); err != nil {
		writeAPIError(w, err)
		return
	}

	user := userFromContext(r.Context())
	if err := s.orch.UploadFile(r.Context(), id, user, local, req.Filename); err != nil {
		s.logger.Error("upload file", "session_id", id, "user_id", user.ID, "filename", req.Filename, "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"filename": req.Filename})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := validateSessionID(id); err != nil {
		writeValidationError(w, err.Error())
		return
	}
	remotePath := r.URL.Query().Get("path")
	if remotePath == "" {
		writeValidationError(w, "path query parameter is required")
		return
	}

	scratch, err := os.MkdirTemp("", "crucible-download-*")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	defer os.RemoveAll(scratch)

	local := filepath.Join(scratch, filepath.Base(remotePath))
	user := userFromContext(r.Context())
	if err := s.orch.DownloadFile(r.Context(), id, user, remotePath, local); err != nil {
		writeAPIError(w, err)
		return
	}

	data, err := os.ReadFile(local)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", artifact.MimeTypeByFilename(remotePath))
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(remotePath)+"\"")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
