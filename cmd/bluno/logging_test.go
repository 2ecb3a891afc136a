package main

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/kortschak/bluno/internal/config"
)

func TestNewLogger(t *testing.T) {
	cfg := config.Default()

	var buf bytes.Buffer
	log, err := newLogger(&buf, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Debug("hidden")
	log.Info("shown", "addr", "C8:A0:30:F9:2B:01")
	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Errorf("debug message logged at info level: %q", got)
	}
	if !strings.Contains(got, "shown") || !strings.Contains(got, "addr=C8:A0:30:F9:2B:01") {
		t.Errorf("unexpected log output: %q", got)
	}
	if strings.Contains(got, "\x1b[") {
		t.Errorf("unexpected colour in non-terminal output: %q", got)
	}

	buf.Reset()
	cfg.LogFormat = "json"
	cfg.LogLevel = "debug"
	log, err = newLogger(&buf, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Debug("visible", "value", 32.7)
	var rec map[string]any
	err = json.Unmarshal(buf.Bytes(), &rec)
	if err != nil {
		t.Fatalf("failed to unmarshal log record %q: %v", buf.Bytes(), err)
	}
	if rec["msg"] != "visible" || rec["value"] != 32.7 || rec["app"] != "bluno" {
		t.Errorf("unexpected log record: %v", rec)
	}

	cfg.LogLevel = "loud"
	_, err = newLogger(&buf, cfg)
	if err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestIsTerminal(t *testing.T) {
	// /dev/null is a character device but not a terminal.
	null, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("failed to open %s: %v", os.DevNull, err)
	}
	defer null.Close()
	if isTerminal(null) {
		t.Errorf("%s reported as a terminal", os.DevNull)
	}

	f, err := os.CreateTemp(t.TempDir(), "log")
	if err != nil {
		t.Fatalf("failed to create file: %v", err)
	}
	defer f.Close()
	if isTerminal(f) {
		t.Error("regular file reported as a terminal")
	}

	var buf bytes.Buffer
	if isTerminal(&buf) {
		t.Error("buffer reported as a terminal")
	}
}
