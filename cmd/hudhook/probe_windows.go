//go:build windows

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/config"
	"github.com/breeze-rmm/hudhook/internal/present"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/session"

	_ "github.com/breeze-rmm/hudhook/internal/render/dx11"
	_ "github.com/breeze-rmm/hudhook/internal/render/dx12"
	_ "github.com/breeze-rmm/hudhook/internal/render/dx9"
	_ "github.com/breeze-rmm/hudhook/internal/render/opengl3"
)

var probeCmd = &cobra.Command{
	Use:   "probe [backend...]",
	Short: "Resolve hook targets in this process without installing them",
	Long: `probe creates the same throwaway devices the overlay uses to locate its hook
targets and prints the addresses it finds. System DLLs load at the same base
in every process for the current boot, so the addresses match the host's.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg.Validate()
		names := args
		if len(names) == 0 {
			names = render.Available()
		}
		failed := 0
		for _, name := range names {
			if err := probe(cfg, name); err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d backend(s) could not be resolved", failed, len(names))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func probe(cfg *config.Config, name string) error {
	d, ok := render.Lookup(name)
	be, found := session.LookupBackend(name)
	if !ok || !found {
		return render.ErrBackendNotAvailable
	}
	if d.Module != "" {
		if _, err := windows.LoadLibrary(d.Module); err != nil {
			return fmt.Errorf("load %s: %w", d.Module, err)
		}
	}
	m := present.New(present.Options{Engine: d.New()})
	res, err := be.Resolve(session.Env{Machine: m, Config: cfg})
	if err != nil {
		return err
	}
	defer func() {
		if res.Release != nil {
			res.Release()
		}
		if res.Unbind != nil {
			res.Unbind()
		}
	}()
	fmt.Printf("%s (%s)\n", name, d.Module)
	for _, spec := range res.Specs {
		fmt.Printf("  %-44s %s\n", spec.Name, spec.Patch.Describe())
	}
	return nil
}
