package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"convergence-engine/internal/config"
)

func TestNewLoggerWritesRollingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, err := NewLogger(config.LoggingConfig{
		Level:            "debug",
		Encoding:         "json",
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
		File:             config.LogFileConfig{Path: path, MaxSizeMB: 1},
	})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("信号评估完成")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "信号评估完成") || !strings.Contains(string(data), `"service":"convergence-engine"`) {
		t.Fatalf("unexpected log file content: %s", data)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
