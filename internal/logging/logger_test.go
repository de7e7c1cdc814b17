// Package logging includes tests for the zap logger helpers.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestNewSimpleLogWritesBareLines checks the line format of simple logs.
func TestNewSimpleLogWritesBareLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "simple.log")
	logger, closeFn, err := NewSimpleLog(path)
	if err != nil {
		t.Fatalf("NewSimpleLog() error = %v", err)
	}
	logger.Info("200 - text/html http://x/")
	if err := closeFn(); err != nil {
		t.Fatalf("close error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := strings.TrimSuffix(string(data), "\n")
	parts := strings.SplitN(line, " ", 2)
	if len(parts) != 2 {
		t.Fatalf("unexpected line %q", line)
	}
	if _, err := time.Parse("2006-01-02T15:04:05.000Z", parts[0]); err != nil {
		t.Fatalf("timestamp %q not ISO: %v", parts[0], err)
	}
	if parts[1] != "200 - text/html http://x/" {
		t.Fatalf("unexpected message %q", parts[1])
	}
}
