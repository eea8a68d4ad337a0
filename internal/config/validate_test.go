package config

import (
	"testing"
)

func TestValidateDefaultsClean(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("default config should validate cleanly, got %v", errs)
	}
}

func TestValidateClamps(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*Config)
		check func(*Config) bool
	}{
		{"timeout low", func(c *Config) { c.UnhookTimeoutMs = 0 }, func(c *Config) bool { return c.UnhookTimeoutMs == 100 }},
		{"timeout high", func(c *Config) { c.UnhookTimeoutMs = 1 << 30 }, func(c *Config) bool { return c.UnhookTimeoutMs == 60000 }},
		{"grace negative", func(c *Config) { c.UnhookGraceMs = -5 }, func(c *Config) bool { return c.UnhookGraceMs == 0 }},
		{"grace high", func(c *Config) { c.UnhookGraceMs = 5000 }, func(c *Config) bool { return c.UnhookGraceMs == 1000 }},
		{"workers", func(c *Config) { c.Workers = 0 }, func(c *Config) bool { return c.Workers == 1 }},
		{"queue", func(c *Config) { c.QueueSize = 99999 }, func(c *Config) bool { return c.QueueSize == 1024 }},
		{"console", func(c *Config) { c.ConsoleLines = 1 }, func(c *Config) bool { return c.ConsoleLines == 16 }},
		{"log size", func(c *Config) { c.LogMaxSizeMB = 0 }, func(c *Config) bool { return c.LogMaxSizeMB == 1 }},
		{"init log every", func(c *Config) { c.InitFailureLogEvery = 0 }, func(c *Config) bool { return c.InitFailureLogEvery == 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(cfg)
			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected a validation error")
			}
			if !tt.check(cfg) {
				t.Fatalf("value not clamped: %+v", cfg)
			}
		})
	}
}

func TestValidateBackend(t *testing.T) {
	cfg := Default()
	cfg.Backend = " DX11 "
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if cfg.Backend != BackendDX11 {
		t.Fatalf("Backend = %q, want dx11", cfg.Backend)
	}

	cfg.Backend = "vulkan"
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("expected one error, got %v", errs)
	}
	if cfg.Backend != BackendAuto {
		t.Fatalf("Backend = %q, want auto fallback", cfg.Backend)
	}
}

func TestValidateKeys(t *testing.T) {
	cfg := Default()
	cfg.ToggleKey = "NOPE"
	cfg.EjectKey = "NOPE2"
	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if cfg.ToggleKey != "INSERT" || cfg.EjectKey != "" {
		t.Fatalf("keys not reset: toggle=%q eject=%q", cfg.ToggleKey, cfg.EjectKey)
	}

	cfg.EjectKey = "insert"
	if errs := cfg.Validate(); len(errs) != 1 {
		t.Fatalf("eject equal to toggle should be rejected, got %v", errs)
	}
	if cfg.EjectKey != "" {
		t.Fatalf("EjectKey = %q, want disabled", cfg.EjectKey)
	}
}

func TestValidateLogSettings(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"
	if errs := cfg.Validate(); len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
}

func TestValidateControl(t *testing.T) {
	cfg := Default()
	cfg.ControlPipe = "  "
	cfg.ControlSecret = "abc\x00"
	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Fatalf("expected 2 errors, got %v", errs)
	}
	if cfg.ControlEnabled {
		t.Fatal("control channel should be disabled without a pipe")
	}
}
