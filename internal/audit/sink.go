// Package audit provides the pre-execution audit trail. Sinks are
// best-effort: a failing sink must never gate or fail an execution.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Sink receives a fire-and-forget record of every execution attempt
// before the code reaches a backend.
type Sink interface {
	// LogPreExecution records the attempt and returns the SHA-256 hex
	// digest of the code.
	LogPreExecution(ctx context.Context, code, language string) (string, error)
}

// HashCode returns the SHA-256 hex digest of the code's UTF-8 bytes.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// LogSink writes audit records to structured logs.
type LogSink struct {
	logger  *slog.Logger
	enabled bool
}

func NewLogSink(logger *slog.Logger, enabled bool) *LogSink {
	return &LogSink{logger: logger, enabled: enabled}
}

func (s *LogSink) LogPreExecution(ctx context.Context, code, language string) (string, error) {
	codeHash := HashCode(code)
	if s.enabled {
		s.logger.Info("AUDIT: execution start",
			"language", language,
			"code_hash", codeHash,
			"code_length", len(code),
		)
	}
	return codeHash, nil
}
