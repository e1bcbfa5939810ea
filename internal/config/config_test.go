package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "perch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PERCH_TERM_ENGINE", "")
	t.Setenv("PERCH_INJECT_CREDENTIALS", "")
	t.Setenv("PERCH_SHELL", "")
}

func TestLoadAppliesFileValues(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: "0.0.0.0:9000"
workspace:
  root: /srv/work
terminal:
  shell: /bin/bash
  default_engine: line
  buffer_capacity: 50
  buffer_low_water: 40
redact:
  patterns: ["hunter2"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Workspace.Root != "/srv/work" {
		t.Errorf("Root = %q", cfg.Workspace.Root)
	}
	if cfg.Terminal.Shell != "/bin/bash" || cfg.Terminal.DefaultEngine != "line" {
		t.Errorf("Terminal = %+v", cfg.Terminal)
	}
	if cfg.Terminal.BufferCapacity != 50 || cfg.Terminal.BufferLowWater != 40 {
		t.Errorf("buffer = %d/%d", cfg.Terminal.BufferCapacity, cfg.Terminal.BufferLowWater)
	}
	if len(cfg.Redact.Patterns) != 1 || cfg.Redact.Patterns[0] != "hunter2" {
		t.Errorf("Patterns = %v", cfg.Redact.Patterns)
	}
}

func TestLoadFillsDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SHELL", "/bin/zsh")
	cfg, err := Load(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7630" {
		t.Errorf("default Addr = %q", cfg.Server.Addr)
	}
	if cfg.Terminal.Shell != "/bin/zsh" {
		t.Errorf("Shell = %q, want $SHELL", cfg.Terminal.Shell)
	}
	if cfg.Terminal.DefaultEngine != "auto" {
		t.Errorf("DefaultEngine = %q, want auto", cfg.Terminal.DefaultEngine)
	}
	if cfg.Terminal.BufferCapacity != DefaultBufferCapacity || cfg.Terminal.BufferLowWater != DefaultBufferLowWater {
		t.Errorf("buffer = %d/%d", cfg.Terminal.BufferCapacity, cfg.Terminal.BufferLowWater)
	}
	if cfg.Redact.Placeholder != DefaultPlaceholder {
		t.Errorf("Placeholder = %q", cfg.Redact.Placeholder)
	}
	if cfg.Credentials.Inject {
		t.Error("Inject defaults to true, want false")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PERCH_TERM_ENGINE", "pipe")
	t.Setenv("PERCH_INJECT_CREDENTIALS", "true")
	t.Setenv("PERCH_SHELL", "/bin/dash")

	cfg, err := Load(writeConfig(t, `
terminal:
  shell: /bin/bash
credentials:
  inject: false
`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Terminal.ForceEngine != "pipe" {
		t.Errorf("ForceEngine = %q, want pipe", cfg.Terminal.ForceEngine)
	}
	if !cfg.Credentials.Inject {
		t.Error("Inject = false, env override not applied")
	}
	if cfg.Terminal.Shell != "/bin/dash" {
		t.Errorf("Shell = %q, want env override", cfg.Terminal.Shell)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}

func TestValidateRejectsBadEngine(t *testing.T) {
	clearEnv(t)
	if _, err := Load(writeConfig(t, "terminal:\n  default_engine: warp\n")); err == nil {
		t.Error("Load accepted an unknown default_engine")
	}
	if _, err := Load(writeConfig(t, "terminal:\n  force_engine: auto\n")); err == nil {
		t.Error("Load accepted force_engine auto")
	}
}

func TestValidateRejectsInvertedWatermarks(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, `
terminal:
  buffer_capacity: 10
  buffer_low_water: 10
`))
	if err == nil {
		t.Error("Load accepted low water >= capacity")
	}
}

func TestValidateRejectsIncompleteProvider(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, `
credentials:
  providers:
    - name: broken
      env: API_KEY
`))
	if err == nil {
		t.Error("Load accepted a provider without source_url")
	}
}

func TestDefaultIsValid(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config invalid: %v", err)
	}
}
