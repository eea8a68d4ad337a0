package config

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/breeze-rmm/hudhook/internal/input"
)

var knownBackends = map[string]bool{
	BackendAuto:    true,
	BackendDX9:     true,
	BackendDX11:    true,
	BackendDX12:    true,
	BackendOpenGL3: true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

// Validate checks the config for invalid values and returns all errors found.
// Values that would stall the host (zero timeouts, oversized grace periods)
// are clamped to safe defaults. Unknown names fall back to defaults so a bad
// file never stops the overlay from attaching.
func (c *Config) Validate() []error {
	var errs []error

	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendAuto
	}
	if !knownBackends[c.Backend] {
		errs = append(errs, fmt.Errorf("backend %q is not valid (use auto, dx9, dx11, dx12, opengl3), using auto", c.Backend))
		c.Backend = BackendAuto
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	if c.LogMaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("log_max_size_mb %d is below minimum 1, clamping", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 1
	} else if c.LogMaxSizeMB > 1024 {
		errs = append(errs, fmt.Errorf("log_max_size_mb %d exceeds maximum 1024, clamping", c.LogMaxSizeMB))
		c.LogMaxSizeMB = 1024
	}

	if c.ConsoleLines < 16 {
		errs = append(errs, fmt.Errorf("console_lines %d is below minimum 16, clamping", c.ConsoleLines))
		c.ConsoleLines = 16
	} else if c.ConsoleLines > 4096 {
		errs = append(errs, fmt.Errorf("console_lines %d exceeds maximum 4096, clamping", c.ConsoleLines))
		c.ConsoleLines = 4096
	}

	if _, ok := input.KeyByName(c.ToggleKey); !ok {
		errs = append(errs, fmt.Errorf("toggle_key %q is not a known key name, using INSERT", c.ToggleKey))
		c.ToggleKey = "INSERT"
	}
	if c.EjectKey != "" {
		if _, ok := input.KeyByName(c.EjectKey); !ok {
			errs = append(errs, fmt.Errorf("eject_key %q is not a known key name, disabling", c.EjectKey))
			c.EjectKey = ""
		} else if strings.EqualFold(c.EjectKey, c.ToggleKey) {
			errs = append(errs, fmt.Errorf("eject_key must differ from toggle_key, disabling"))
			c.EjectKey = ""
		}
	}

	// A zero timeout would make every unhook report a stuck hook; an hour
	// would leave an injected module waiting forever on a hung render thread.
	if c.UnhookTimeoutMs < 100 {
		errs = append(errs, fmt.Errorf("unhook_timeout_ms %d is below minimum 100, clamping", c.UnhookTimeoutMs))
		c.UnhookTimeoutMs = 100
	} else if c.UnhookTimeoutMs > 60000 {
		errs = append(errs, fmt.Errorf("unhook_timeout_ms %d exceeds maximum 60000, clamping", c.UnhookTimeoutMs))
		c.UnhookTimeoutMs = 60000
	}

	if c.UnhookGraceMs < 0 {
		errs = append(errs, fmt.Errorf("unhook_grace_ms %d is negative, clamping", c.UnhookGraceMs))
		c.UnhookGraceMs = 0
	} else if c.UnhookGraceMs > 1000 {
		errs = append(errs, fmt.Errorf("unhook_grace_ms %d exceeds maximum 1000, clamping", c.UnhookGraceMs))
		c.UnhookGraceMs = 1000
	}

	if c.InitFailureLogEvery < 1 {
		errs = append(errs, fmt.Errorf("init_failure_log_every %d is below minimum 1, clamping", c.InitFailureLogEvery))
		c.InitFailureLogEvery = 1
	}

	if c.ControlEnabled && strings.TrimSpace(c.ControlPipe) == "" {
		errs = append(errs, fmt.Errorf("control_pipe is empty, disabling control channel"))
		c.ControlEnabled = false
	}
	for _, r := range c.ControlSecret {
		if unicode.IsControl(r) {
			errs = append(errs, fmt.Errorf("control_secret contains control characters"))
			break
		}
	}

	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers %d is below minimum 1, clamping", c.Workers))
		c.Workers = 1
	} else if c.Workers > 8 {
		errs = append(errs, fmt.Errorf("workers %d exceeds maximum 8, clamping", c.Workers))
		c.Workers = 8
	}

	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size %d is below minimum 1, clamping", c.QueueSize))
		c.QueueSize = 1
	} else if c.QueueSize > 1024 {
		errs = append(errs, fmt.Errorf("queue_size %d exceeds maximum 1024, clamping", c.QueueSize))
		c.QueueSize = 1024
	}

	for _, err := range errs {
		slog.Warn("config validation", "error", err)
	}

	return errs
}

// ValidLogLevel reports whether lvl is a level name log_level accepts.
func ValidLogLevel(lvl string) bool {
	return validLogLevels[strings.ToLower(lvl)]
}
