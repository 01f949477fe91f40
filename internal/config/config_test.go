package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if cfg.DirectoryTimeout != 10*time.Second {
		t.Fatalf("unexpected directory timeout: %v", cfg.DirectoryTimeout)
	}
	if cfg.ReconcileBatch != 100 {
		t.Fatalf("unexpected reconcile batch: %d", cfg.ReconcileBatch)
	}
	if cfg.DirectoryConfigured() {
		t.Fatalf("directory should not be configured by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KONSOL_ADDR", ":8181")
	t.Setenv("KONSOL_DIRECTORY_URL", "https://directory.internal")
	t.Setenv("KONSOL_DIRECTORY_TOKEN", "tok")
	t.Setenv("KONSOL_RECONCILE_CRON", "@every 1m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8181" {
		t.Fatalf("unexpected addr: %s", cfg.Addr)
	}
	if !cfg.DirectoryConfigured() {
		t.Fatalf("directory should be configured")
	}
	if cfg.ReconcileCron != "@every 1m" {
		t.Fatalf("unexpected cron: %s", cfg.ReconcileCron)
	}
}

func TestLoadRejectsDirectoryWithoutToken(t *testing.T) {
	t.Setenv("KONSOL_DIRECTORY_URL", "https://directory.internal")
	t.Setenv("KONSOL_DIRECTORY_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("KONSOL_RECONCILE_BATCH", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for batch")
	}
}
