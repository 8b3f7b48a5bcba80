package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashgrove/cs2obs/internal/config"
)

func TestLoadDefaultsOnly(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := config.Default()
	if cfg != want {
		t.Fatalf("got %+v, want %+v", cfg, want)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cs2obs.yaml")
	yamlBody := "process_name: cs2_test\nlisten_addr: 127.0.0.1:9090\ntui: true\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ProcessName != "cs2_test" {
		t.Errorf("ProcessName = %q, want cs2_test", cfg.ProcessName)
	}
	if cfg.ListenAddr != "127.0.0.1:9090" {
		t.Errorf("ListenAddr = %q, want 127.0.0.1:9090", cfg.ListenAddr)
	}
	if !cfg.TUI {
		t.Error("TUI = false, want true")
	}
	// Untouched fields keep their defaults.
	if cfg.WebRoot != config.Default().WebRoot {
		t.Errorf("WebRoot = %q, want default %q", cfg.WebRoot, config.Default().WebRoot)
	}
}

func TestLoadMissingYAMLIsNotAnError(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != config.Default() {
		t.Fatalf("got %+v, want defaults", cfg)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cs2obs.yaml")
	if err := os.WriteFile(path, []byte("process_name: cs2_yaml\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Setenv("CS2OBS_PROCESS_NAME", "cs2_env")
	t.Setenv("CS2OBS_POLL_INTERVAL", "250ms")

	cfg, err := config.Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ProcessName != "cs2_env" {
		t.Errorf("ProcessName = %q, want cs2_env (env must win over yaml)", cfg.ProcessName)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v, want 250ms", cfg.PollInterval)
	}
}

func TestLoadDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CS2OBS_LISTEN_ADDR=10.0.0.1:1234\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := config.Load("", envPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != "10.0.0.1:1234" {
		t.Errorf("ListenAddr = %q, want 10.0.0.1:1234", cfg.ListenAddr)
	}
}
