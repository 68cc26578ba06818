package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLogPath(t *testing.T) {
	path := DefaultLogPath()
	if filepath.Base(path) != "docindex.log" {
		t.Errorf("DefaultLogPath should end with docindex.log, got: %s", path)
	}
	if !strings.Contains(path, ".docindex") {
		t.Errorf("DefaultLogPath should live under .docindex, got: %s", path)
	}
}

func TestServeConfig_NeverWritesToStderr(t *testing.T) {
	cfg := ServeConfig("debug")

	if cfg.WriteToStderr {
		t.Error("serve mode must not write to stderr")
	}
	if cfg.FilePath == "" {
		t.Error("serve mode must log to a file")
	}
	if cfg.Level != "debug" {
		t.Errorf("expected level debug, got: %s", cfg.Level)
	}
}

func TestSetup_FileIsJSON(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")

	logger, cleanup, err := Setup(Config{
		Level:    "debug",
		FilePath: logPath,
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	logger.Debug("chunk embedded", slog.String("document_id", "doc1"), slog.Int("sequence", 2))
	cleanup()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, data)
	}
	if entry["msg"] != "chunk embedded" || entry["document_id"] != "doc1" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestSetup_TextToStderrRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := setup(Config{Level: "warn", Format: "text", WriteToStderr: true}, &buf)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer cleanup()

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "k=v") {
		t.Errorf("expected text record, got: %s", out)
	}
}

func TestSetup_FanOutToFileAndStderr(t *testing.T) {
	var buf bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "both.log")
	logger, cleanup, err := setup(Config{Level: "info", FilePath: logPath, WriteToStderr: true}, &buf)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	logger.With(slog.String("run_id", "r1")).Info("run finished")
	cleanup()

	data, _ := os.ReadFile(logPath)
	if !strings.Contains(string(data), `"run_id":"r1"`) {
		t.Errorf("file missing record: %s", data)
	}
	if !strings.Contains(buf.String(), "run_id=r1") {
		t.Errorf("stderr missing record: %s", buf.String())
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := LevelFromString(tt.input); got != tt.expected {
			t.Errorf("LevelFromString(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestRotatingWriter_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rotate.log")
	w, err := NewRotatingWriter(logPath, 1, 3)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()
	w.maxSize = 1024

	data := bytes.Repeat([]byte("x"), 800)
	for i := 0; i < 2; i++ {
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}

	if _, err := os.Stat(logPath); err != nil {
		t.Error("main log file should exist")
	}
	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Error("rotated file .1 should exist")
	}
}

func TestRotatingWriter_MaxFilesLimit(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "maxfiles.log")
	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	defer w.Close()
	w.maxSize = 100

	data := bytes.Repeat([]byte("y"), 80)
	for i := 0; i < 6; i++ {
		_, _ = w.Write(data)
	}

	if _, err := os.Stat(logPath + ".2"); err != nil {
		t.Error("rotated file .2 should exist")
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("rotated file .3 should not exist (beyond maxFiles)")
	}
}

func TestRotatingWriter_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "concurrent.log")
	w, err := NewRotatingWriter(logPath, 1, 2)
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte("line\n"))
			}
		}()
	}
	wg.Wait()
	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	data, _ := os.ReadFile(logPath)
	if got := strings.Count(string(data), "line\n"); got != 400 {
		t.Errorf("expected 400 lines, got %d", got)
	}
}
