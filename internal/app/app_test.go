package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildEventRouterCreatesLogDirectory(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{
		LogSinks:    []string{"json"},
		LogJSONPath: filepath.Join(dir, "data", "events.jsonl"),
	}

	router, jsonFile, err := buildEventRouter(cfg)
	if err != nil {
		t.Fatalf("buildEventRouter: %v", err)
	}
	defer jsonFile.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(cfg.LogJSONPath); err != nil {
		t.Fatalf("event log not created: %v", err)
	}
}

func TestBuildEventRouterConsoleOnly(t *testing.T) {
	router, jsonFile, err := buildEventRouter(Config{LogSinks: []string{"console"}})
	if err != nil {
		t.Fatalf("buildEventRouter: %v", err)
	}
	if jsonFile != nil {
		t.Fatalf("console-only config opened a file")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := router.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
