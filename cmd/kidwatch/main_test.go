package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	kidwatch "github.com/kidwatch/kidwatch-go"
	"github.com/kidwatch/kidwatch-go/internal/config"
	"github.com/kidwatch/kidwatch-go/sink/sqlite"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LogConfig{Level: "info", Format: "auto"}, &buf, false).Info("hello", "mode", "homework")
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("auto format without terminal should log json, got %q: %v", buf.String(), err)
	}
	if m["msg"] != "hello" || m["mode"] != "homework" {
		t.Fatalf("unexpected log record %v", m)
	}

	buf.Reset()
	log := newLogger(config.LogConfig{Level: "warn", Format: "auto"}, &buf, true)
	log.Info("dropped")
	log.Warn("kept")
	if s := buf.String(); strings.Contains(s, "dropped") || !strings.Contains(s, "msg=kept") {
		t.Fatalf("unexpected text output %q", s)
	}
}

func TestNewBackend(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	backend, store, err := newBackend(cfg, log)
	if err != nil || backend != nil || store != nil {
		t.Fatalf("no backends configured, got %v %v %v", backend, store, err)
	}

	cfg.Sink.SQLite.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Sink.Webhook.HMACKey = "not hex"
	cfg.Sink.Webhook.URL = "http://localhost:1/events"
	if _, _, err := newBackend(cfg, log); err == nil {
		t.Fatalf("missing error for invalid hmac key")
	}

	cfg.Sink.Webhook.HMACKey = "0b0b0b0b"
	backend, store, err = newBackend(cfg, log)
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	defer backend.Close()
	if store == nil {
		t.Fatalf("missing sqlite store")
	}
	if _, ok := backend.(*sqlite.Store); ok {
		t.Fatalf("two backends configured, expected a combined backend")
	}
}

func TestEventsCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "events.db")
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	at := time.Date(2024, 3, 1, 17, 30, 0, 0, time.UTC)
	for i, msg := range []string{"Sit up straight", "Use your fork"} {
		ev := kidwatch.EventRecord{
			ID:        []string{"a", "b"}[i],
			Timestamp: at.Add(time.Duration(i) * time.Minute),
			Mode:      kidwatch.ModeHomework,
			Message:   msg,
			Category:  kidwatch.CategoryViolation,
			SubjectID: "sam",
		}
		if err := store.Write(context.Background(), ev); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	store.Close()

	cfgPath := filepath.Join(dir, "kidwatch.yaml")
	if err := os.WriteFile(cfgPath, []byte("sink:\n  sqlite:\n    path: "+dbPath+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"events", "-c", cfgPath, "-n", "1"})
	if err := root.Execute(); err != nil {
		t.Fatalf("events: %v", err)
	}
	s := out.String()
	if !strings.Contains(s, "Use your fork") || strings.Contains(s, "Sit up straight") {
		t.Fatalf("expected only the newest event, got %q", s)
	}
}

func TestParseMode(t *testing.T) {
	cfg := config.Default()
	if mode, err := parseMode("", cfg); err != nil || mode != kidwatch.ModeHomework {
		t.Fatalf("default mode, got %q %v", mode, err)
	}
	if mode, err := parseMode("eating", cfg); err != nil || mode != kidwatch.ModeEating {
		t.Fatalf("flag mode, got %q %v", mode, err)
	}
	if _, err := parseMode("sleeping", cfg); err == nil {
		t.Fatalf("missing error for invalid mode")
	}
}
