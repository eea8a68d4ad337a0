//go:build windows

package opengl3

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"

	"github.com/breeze-rmm/hudhook/internal/hook"
	"github.com/breeze-rmm/hudhook/internal/present"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/session"
	"github.com/breeze-rmm/hudhook/internal/winapi"
)

type hooks struct {
	machine *present.Machine
	swap    atomic.Pointer[hook.Site]
}

var (
	active atomic.Pointer[hooks]

	swapBuffersCallback = sync.OnceValue(func() uintptr { return windows.NewCallback(swapBuffersDetour) })
)

func init() {
	render.Register(render.Descriptor{
		Name:   render.OpenGL3,
		Module: "opengl32.dll",
		New:    func() render.Engine { return New(Open) },
	})
	session.RegisterBackend(session.Backend{Name: render.OpenGL3, Resolve: resolve})
}

// resolve finds wglSwapBuffers in the opengl32.dll the host already loaded.
func resolve(env session.Env) (*session.Resolution, error) {
	fn, err := winapi.ProcAddress("opengl32.dll", "wglSwapBuffers")
	if err != nil {
		return nil, fmt.Errorf("locate wglSwapBuffers: %w", err)
	}
	h := &hooks{machine: env.Machine}
	active.Store(h)
	return &session.Resolution{
		Specs: []session.HookSpec{{
			Name:        "wglSwapBuffers",
			Patch:       hook.Inline{Func: fn},
			Replacement: swapBuffersCallback(),
			Bind:        h.swap.Store,
		}},
		Unbind: func() { active.CompareAndSwap(h, nil) },
	}, nil
}

func swapBuffersDetour(hdc uintptr) uintptr {
	h := active.Load()
	if h == nil {
		return 0
	}
	site := h.swap.Load()
	site.Enter()
	defer site.Exit()

	original := func() uintptr { return site.Call(hdc) }
	if !site.Active() {
		return original()
	}
	return h.machine.Present(render.Target{DC: hdc, Context: currentContext(), Window: winapi.WindowFromDC(hdc)}, original)
}
