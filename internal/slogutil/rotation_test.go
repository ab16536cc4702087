package slogutil

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"", 0},
		{"invalid", 0},
		{"100", 100},
		{"100B", 100},
		{"1KB", 1024},
		{"1kb", 1024},
		{"10MB", 10 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
		{"1.5MB", int64(1.5 * 1024 * 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseSize(tt.input); got != tt.expected {
				t.Errorf("ParseSize(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRotatingFileRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")

	rf, err := OpenRotatingFile(path, 50, 2)
	if err != nil {
		t.Fatalf("OpenRotatingFile failed: %v", err)
	}

	line := append(bytes.Repeat([]byte{'a'}, 29), '\n')
	for i := 0; i < 5; i++ {
		if _, err := rf.Write(line); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	rf.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("main log file should exist")
	}
	if _, err := os.Stat(path + ".1"); os.IsNotExist(err) {
		t.Error("backup .1 should exist")
	}
}

func TestNewFileLoggerWithRotation(t *testing.T) {
	dir := t.TempDir()

	logger, closer, err := NewFileLoggerWithRotation(filepath.Join(dir, "a.log"), slog.LevelDebug, "1MB", 3)
	if err != nil {
		t.Fatalf("NewFileLoggerWithRotation failed: %v", err)
	}
	defer closer.Close()
	if logger == nil {
		t.Fatal("logger should not be nil")
	}

	// Empty maxSize falls back to a plain file logger.
	logger2, closer2, err := NewFileLoggerWithRotation(filepath.Join(dir, "b.log"), slog.LevelDebug, "", 3)
	if err != nil {
		t.Fatalf("fallback failed: %v", err)
	}
	defer closer2.Close()
	if logger2 == nil {
		t.Fatal("fallback logger should not be nil")
	}
}
