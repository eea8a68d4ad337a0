package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/hudhook/internal/config"
	"github.com/breeze-rmm/hudhook/internal/control"
	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/session"
)

var (
	version  = "0.1.0"
	cfgFile  string
	pid      int
	endpoint string
	timeout  time.Duration
	asJSON   bool
)

var rootCmd = &cobra.Command{
	Use:   "hudhook",
	Short: "Control an injected hudhook overlay",
	Long: `hudhook talks to an overlay injected into a running process over its local
control channel, and inspects the configuration the overlay loads.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hudhook v%s\n", version)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the overlay configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.Validate()
		if path := config.Path(cfgFile); path != "" {
			fmt.Printf("# %s\n", path)
		} else {
			fmt.Println("# defaults (no config file found)")
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report every problem",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		errs := cfg.Validate()
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  - %v\n", e)
		}
		if len(errs) > 0 {
			return fmt.Errorf("%d problem(s) found", len(errs))
		}
		fmt.Println("Configuration OK")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the overlay's session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			var st statusReply
			if err := c.Status(ctx, &st); err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printStatus(st)
			return nil
		})
	},
}

var unhookCmd = &cobra.Command{
	Use:   "unhook",
	Short: "Remove every hook and shut the overlay down",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(ctx context.Context, c *control.Client) error {
			r, err := c.Unhook(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Overlay %s\n", r.State)
			return nil
		})
	},
}

var logLevelCmd = &cobra.Command{
	Use:       "log-level <debug|info|warn|error>",
	Short:     "Change the overlay's log level",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"debug", "info", "warn", "error"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.ValidLogLevel(args[0]) {
			return fmt.Errorf("unknown log level %q", args[0])
		}
		return withClient(func(ctx context.Context, c *control.Client) error {
			r, err := c.SetLogLevel(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Log level %s -> %s\n", r.Previous, r.Current)
			return nil
		})
	},
}

var hudCmd = &cobra.Command{
	Use:       "hud <on|off>",
	Short:     "Show or hide the diagnostics HUD",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var on bool
		switch args[0] {
		case "on":
			on = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}
		return withClient(func(ctx context.Context, c *control.Client) error {
			return c.SetHUD(ctx, on)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is hudhook.yaml in the config directory)")
	rootCmd.PersistentFlags().IntVar(&pid, "pid", 0, "process the overlay is injected into")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "control endpoint (overrides --pid)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	statusCmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(unhookCmd)
	rootCmd.AddCommand(logLevelCmd)
	rootCmd.AddCommand(hudCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func controlEndpoint() (string, error) {
	if endpoint != "" {
		return endpoint, nil
	}
	if pid <= 0 {
		return "", errors.New("target required: use --pid or --endpoint")
	}
	return config.DefaultControlPipe(pid), nil
}

func withClient(fn func(ctx context.Context, c *control.Client) error) error {
	ep, err := controlEndpoint()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c, err := control.Dial(ctx, ep, cfg.ControlSecret)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

// statusReply is the status the overlay sends: the session report plus its
// most recent log lines.
type statusReply struct {
	session.Status
	Logs []logging.Entry `json:"logs,omitempty"`
}

func printStatus(st statusReply) {
	fmt.Printf("State:    %s\n", st.State)
	fmt.Printf("Backend:  %s\n", orNone(st.Backend))
	if st.Uptime != "" {
		fmt.Printf("Uptime:   %s\n", st.Uptime)
	}
	fmt.Printf("Focused:  %t\n", st.Focused)
	if p := st.Present; p != nil {
		fmt.Printf("Frames:   %d (%d skipped, %d init attempts, %s)\n", p.Frames, p.RenderFailures, p.InitAttempts, p.Size)
		if p.Halted {
			fmt.Println("Overlay halted after a fatal render error")
		}
	}
	fmt.Printf("Hooks:    %d\n", len(st.Sites))
	for _, s := range st.Sites {
		fmt.Printf("  %-40s %-12s %s\n", s.Name, s.State, s.Target)
	}
	if len(st.Checks) > 0 {
		fmt.Println("Health:")
		for _, c := range st.Checks {
			fmt.Printf("  %-8s %-10s %s\n", c.Name, c.Status, c.Message)
		}
	}
	if st.LastError != "" {
		fmt.Printf("Last error: %s\n", st.LastError)
	}
	if len(st.Logs) > 0 {
		fmt.Println("Recent log:")
		for _, e := range st.Logs {
			fmt.Printf("  %s %-5s %-8s %s\n", e.Timestamp.Format("15:04:05"), e.Level, e.Component, e.Message)
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
