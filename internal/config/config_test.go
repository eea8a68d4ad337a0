package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "hudhook.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def := Default()
	if cfg.Backend != def.Backend || cfg.ToggleKey != def.ToggleKey || cfg.UnhookGraceMs != def.UnhookGraceMs {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
backend: dx12
log_level: debug
toggle_key: F12
unhook_grace_ms: 50
dxgi_debug: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendDX12 {
		t.Errorf("Backend = %q, want dx12", cfg.Backend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.ToggleKey != "F12" {
		t.Errorf("ToggleKey = %q, want F12", cfg.ToggleKey)
	}
	if cfg.UnhookGraceMs != 50 {
		t.Errorf("UnhookGraceMs = %d, want 50", cfg.UnhookGraceMs)
	}
	if !cfg.DXGIDebug {
		t.Error("DXGIDebug = false, want true")
	}
	// Untouched keys keep their defaults.
	if cfg.UnhookTimeoutMs != Default().UnhookTimeoutMs {
		t.Errorf("UnhookTimeoutMs = %d, want default", cfg.UnhookTimeoutMs)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "backend: dx11\n")
	t.Setenv("HUDHOOK_BACKEND", "opengl3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend != BackendOpenGL3 {
		t.Fatalf("Backend = %q, want opengl3 from env", cfg.Backend)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "backend: [dx11\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultControlPipeIncludesPID(t *testing.T) {
	if p := DefaultControlPipe(4242); !strings.Contains(p, "hudhook-4242") {
		t.Fatalf("pipe = %q, want pid suffix", p)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_level: info\n")

	changes := make(chan *Config, 4)
	w, err := Watch(path, func(c *Config) { changes <- c })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	writeConfig(t, dir, "log_level: debug\n")

	select {
	case cfg := <-changes:
		if cfg.LogLevel != "debug" {
			t.Fatalf("LogLevel = %q, want debug", cfg.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestWatchRequiresPath(t *testing.T) {
	if _, err := Watch("", func(*Config) {}); err == nil {
		t.Fatal("expected error for empty path")
	}
}
