// Package testutil holds helpers shared across package tests.
package testutil

import (
	"io"
	"log/slog"

	"github.com/crucible-sh/crucible/internal/config"
)

// TestConfig returns a Config with sensible test defaults.
func TestConfig() *config.Config {
	return &config.Config{
		Listen:                  "127.0.0.1:0",
		APIKey:                  "test-api-key",
		RuntimeKind:             config.RuntimeContainer,
		AllowedPackages:         []string{"numpy", "pandas", "matplotlib"},
		ExecutionTimeoutSeconds: 5.0,
		IdleTimeoutSeconds:      60.0,
		ReaperIntervalSeconds:   1.0,
		EnableAuditLogging:      false,
		Container: config.ContainerConfig{
			Image:      "crucible-runtime:base",
			CPULimit:   1.0,
			MemLimitMB: 512,
			PidsLimit:  256,
		},
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
