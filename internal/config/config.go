package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Backend names accepted by the backend setting.
const (
	BackendAuto    = "auto"
	BackendDX9     = "dx9"
	BackendDX11    = "dx11"
	BackendDX12    = "dx12"
	BackendOpenGL3 = "opengl3"
)

type Config struct {
	Backend string `mapstructure:"backend" yaml:"backend"`

	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat     string `mapstructure:"log_format" yaml:"log_format"`
	LogFile       string `mapstructure:"log_file" yaml:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
	ConsoleLines  int    `mapstructure:"console_lines" yaml:"console_lines"`

	HUDEnabled bool   `mapstructure:"hud_enabled" yaml:"hud_enabled"`
	ToggleKey  string `mapstructure:"toggle_key" yaml:"toggle_key"`
	EjectKey   string `mapstructure:"eject_key" yaml:"eject_key"`

	DXGIDebug bool `mapstructure:"dxgi_debug" yaml:"dxgi_debug"`

	UnhookTimeoutMs int `mapstructure:"unhook_timeout_ms" yaml:"unhook_timeout_ms"`
	UnhookGraceMs   int `mapstructure:"unhook_grace_ms" yaml:"unhook_grace_ms"`
	// Init failures are retried on every frame; this only throttles logging.
	InitFailureLogEvery int `mapstructure:"init_failure_log_every" yaml:"init_failure_log_every"`

	ControlEnabled bool   `mapstructure:"control_enabled" yaml:"control_enabled"`
	ControlPipe    string `mapstructure:"control_pipe" yaml:"control_pipe"`
	ControlSecret  string `mapstructure:"control_secret" yaml:"control_secret"`

	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

func Default() *Config {
	return &Config{
		Backend:             BackendAuto,
		LogLevel:            "info",
		LogFormat:           "text",
		LogFile:             filepath.Join(configDir(), "hudhook.log"),
		LogMaxSizeMB:        10,
		LogMaxBackups:       3,
		ConsoleLines:        256,
		HUDEnabled:          true,
		ToggleKey:           "INSERT",
		EjectKey:            "",
		UnhookTimeoutMs:     2000,
		UnhookGraceMs:       34,
		InitFailureLogEvery: 120,
		ControlEnabled:      true,
		ControlPipe:         DefaultControlPipe(os.Getpid()),
		Workers:             2,
		QueueSize:           16,
	}
}

// DefaultControlPipe returns the control endpoint for the process with pid.
func DefaultControlPipe(pid int) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf(`\\.\pipe\hudhook-%d`, pid)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("hudhook-%d.sock", pid))
}

// Load reads the config file (explicit path, or hudhook.yaml in the config
// directory or the working directory) over the defaults. A missing file is
// not an error. Environment variables prefixed HUDHOOK_ override both.
func Load(cfgFile string) (*Config, error) {
	v, err := read(cfgFile)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("hudhook")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HUDHOOK")
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return v, nil
}

// bindEnv registers every key so AutomaticEnv also applies to keys that are
// absent from the file; Unmarshal only sees keys viper knows about.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"backend", "log_level", "log_format", "log_file", "log_max_size_mb",
		"log_max_backups", "console_lines", "hud_enabled", "toggle_key",
		"eject_key", "dxgi_debug", "unhook_timeout_ms", "unhook_grace_ms",
		"init_failure_log_every", "control_enabled", "control_pipe",
		"control_secret", "workers", "queue_size",
	} {
		_ = v.BindEnv(key)
	}
}

// Path returns the config file that Load would read, or "" when none exists.
func Path(cfgFile string) string {
	v, err := read(cfgFile)
	if err != nil {
		return cfgFile
	}
	return v.ConfigFileUsed()
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "hudhook")
	case "darwin":
		return "/Library/Application Support/hudhook"
	default:
		return "/etc/hudhook"
	}
}
