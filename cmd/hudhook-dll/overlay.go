//go:build windows

package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/config"
	"github.com/breeze-rmm/hudhook/internal/control"
	"github.com/breeze-rmm/hudhook/internal/health"
	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/hud"
	"github.com/breeze-rmm/hudhook/internal/input"
	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/session"
	"github.com/breeze-rmm/hudhook/internal/ui"
	"github.com/breeze-rmm/hudhook/internal/winapi"
	"github.com/breeze-rmm/hudhook/internal/workerpool"

	_ "github.com/breeze-rmm/hudhook/internal/render/dx11"
	_ "github.com/breeze-rmm/hudhook/internal/render/dx12"
	_ "github.com/breeze-rmm/hudhook/internal/render/dx9"
	_ "github.com/breeze-rmm/hudhook/internal/render/opengl3"
)

// overlay is one attached session and everything running beside it.
type overlay struct {
	cfg     *config.Config
	coord   *session.Coordinator
	pool    *workerpool.Pool
	ring    *logging.Ring
	layer   atomic.Pointer[hud.Layer]
	server  *control.Server
	watcher *config.Watcher
	cancel  context.CancelFunc
	stopped sync.Once
}

func start(cfgFile string) (*overlay, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = config.Default()
	}
	problems := cfg.Validate()
	if err != nil {
		problems = append(problems, err)
	}

	var out io.Writer
	if cfg.LogFile != "" {
		w, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			problems = append(problems, fmt.Errorf("log file: %w", err))
		} else {
			out = w
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)
	for _, p := range problems {
		log.Warn("config problem", logging.KeyError, p)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &overlay{
		cfg:    cfg,
		pool:   workerpool.New(cfg.Workers, cfg.QueueSize),
		ring:   logging.InitRing(cfg.ConsoleLines, cfg.LogLevel),
		cancel: cancel,
	}

	sampler, err := hud.NewSampler(time.Second)
	if err != nil {
		log.Warn("process stats unavailable", logging.KeyError, err)
	} else {
		go sampler.Run(ctx)
	}

	o.coord = session.New(session.Options{
		Config:   cfg,
		Registry: hook.Default(),
		Pool:     o.pool,
		Health:   health.NewMonitor(),
		Layer: func(c *session.Coordinator) ui.Layer {
			l, err := hud.New(hud.Options{Source: c, Ring: o.ring, Sampler: sampler, ConsoleLines: 12})
			if err != nil {
				log.Warn("hud unavailable", logging.KeyError, err)
				return ui.Empty{}
			}
			l.SetEnabled(cfg.HUDEnabled)
			o.layer.Store(l)
			return l
		},
		Input:      installInput,
		Loaded:     winapi.ModuleLoaded,
		OnDetached: func() { go o.stop() },
	})

	if cfg.ControlEnabled {
		if err := o.serveControl(ctx); err != nil {
			log.Warn("control channel unavailable", logging.KeyError, err)
			o.coord.Health().Update("control", health.Degraded, err.Error())
		} else {
			o.coord.Health().Update("control", health.Healthy, cfg.ControlPipe)
		}
	}
	if path := config.Path(cfgFile); path != "" {
		if o.watcher, err = config.Watch(path, o.reload); err != nil {
			log.Warn("config hot reload unavailable", logging.KeyError, err)
		}
	}
	// A failed attach still ends in OnDetached, which stops the rest.
	if err := o.coord.Attach(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func installInput(reg *hook.Registry, hwnd uintptr, h *input.Hook) (session.InputSite, error) {
	sc, err := input.Install(reg, windows.HWND(hwnd), h)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (o *overlay) serveControl(ctx context.Context) error {
	l, err := control.Listen(o.cfg.ControlPipe)
	if err != nil {
		return err
	}
	o.server = control.NewServer(l, controlHandler{o}, o.cfg.ControlSecret)
	go func() {
		if err := o.server.Serve(ctx); err != nil {
			log.Warn("control channel stopped", logging.KeyError, err)
		}
	}()
	return nil
}

func (o *overlay) reload(cfg *config.Config) {
	o.coord.ApplyConfig(cfg)
	o.ring.SetMinLevel(cfg.LogLevel)
	if l := o.layer.Load(); l != nil {
		l.SetEnabled(cfg.HUDEnabled)
	}
}

// stop runs once the coordinator is uninstalled. It must not run on a pool
// worker: draining the pool waits for them.
func (o *overlay) stop() {
	o.stopped.Do(o.shutdown)
}

func (o *overlay) shutdown() {
	o.cancel()
	if o.watcher != nil {
		o.watcher.Close()
	}
	if o.server != nil {
		o.server.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.pool.Shutdown(ctx)
	detached(o)
	log.Info("overlay stopped")
}

// controlHandler serves control requests from the overlay's state.
type controlHandler struct{ o *overlay }

type statusReply struct {
	session.Status
	Logs []logging.Entry `json:"logs,omitempty"`
}

func (h controlHandler) Status() any {
	return statusReply{Status: h.o.coord.Status(), Logs: h.o.ring.Tail(20)}
}

func (h controlHandler) Unhook(ctx context.Context) (string, error) {
	if err := h.o.coord.Detach(ctx); err != nil {
		return h.o.coord.State().String(), err
	}
	return h.o.coord.State().String(), nil
}

func (h controlHandler) SetLogLevel(level string) (string, error) {
	if !config.ValidLogLevel(level) {
		return "", fmt.Errorf("unknown log level %q", level)
	}
	prev := logging.Level()
	logging.SetLevel(level)
	log.Info("log level changed", "from", prev, "to", level)
	return prev, nil
}

func (h controlHandler) SetHUD(enabled bool) error {
	l := h.o.layer.Load()
	if l == nil {
		return fmt.Errorf("hud is not running")
	}
	l.SetEnabled(enabled)
	return nil
}
