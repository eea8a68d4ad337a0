// Package hud is the built-in diagnostics overlay: a frame-rate strip that
// is always shown and, while the overlay holds input focus, a panel with the
// session status, component health, process stats and the newest log lines.
package hud

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/breeze-rmm/hudhook/internal/health"
	"github.com/breeze-rmm/hudhook/internal/logging"
	"github.com/breeze-rmm/hudhook/internal/render"
	"github.com/breeze-rmm/hudhook/internal/session"
	"github.com/breeze-rmm/hudhook/internal/ui"
)

var log = logging.L("hud")

// Source is what the HUD reports on. *session.Coordinator implements it.
type Source interface {
	Status() session.Status
	Focused() bool
}

type Options struct {
	Source  Source
	Ring    *logging.Ring
	Sampler *Sampler
	// ConsoleLines is how many log lines the focused panel shows.
	ConsoleLines int
	// StatusEvery throttles Source.Status, which refreshes health probes.
	StatusEvery time.Duration
	Now         func() time.Time
}

var (
	colorPanel   = ui.RGBA(16, 18, 24, 200)
	colorBorder  = ui.RGBA(90, 110, 140, 220)
	colorText    = ui.RGBA(230, 230, 230, 255)
	colorDim     = ui.RGBA(150, 150, 160, 255)
	colorGood    = ui.RGBA(110, 210, 120, 255)
	colorWarn    = ui.RGBA(240, 190, 70, 255)
	colorBad     = ui.RGBA(240, 90, 80, 255)
	colorCursor  = ui.RGBA(255, 255, 255, 230)
	colorConsole = ui.RGBA(8, 8, 12, 210)
)

const (
	margin  = 8
	padding = 6
)

// Layer implements ui.Layer.
type Layer struct {
	opts    Options
	skin    *skin
	b       *ui.Builder
	enabled atomic.Bool

	fps       fpsMeter
	status    session.Status
	statusAt  time.Time
	hasStatus bool
}

var _ ui.Layer = (*Layer)(nil)

// New builds the HUD and its atlas.
func New(opts Options) (*Layer, error) {
	if opts.ConsoleLines <= 0 {
		opts.ConsoleLines = 12
	}
	if opts.StatusEvery <= 0 {
		opts.StatusEvery = 500 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s, err := newSkin()
	if err != nil {
		return nil, err
	}
	l := &Layer{opts: opts, skin: s}
	l.b = ui.NewBuilder(render.Size{}, s.whiteU, s.whiteV)
	l.enabled.Store(true)
	return l, nil
}

// SetEnabled shows or hides the HUD. It is safe from any goroutine.
func (l *Layer) SetEnabled(on bool) {
	if l.enabled.Swap(on) != on {
		log.Info("hud toggled", "enabled", on)
	}
}

func (l *Layer) Enabled() bool { return l.enabled.Load() }

func (l *Layer) Atlas() *render.Atlas { return l.skin.atlas }

func (l *Layer) Frame(f *ui.Frame) *render.DrawData {
	l.fps.add(f.Delta)
	if !l.enabled.Load() {
		return nil
	}
	b := l.b
	b.Reset(f.Size)

	focused := l.opts.Source != nil && l.opts.Source.Focused()
	l.drawStrip(f)
	if focused {
		l.refreshStatus()
		y := l.drawStatus(f, float32(margin+l.skin.font.Height+2*padding+margin))
		l.drawConsole(f, y+margin)
		if f.Input.MouseValid {
			l.drawCursor(f.Input.MouseX, f.Input.MouseY)
		}
	}
	return b.DrawData()
}

func (l *Layer) refreshStatus() {
	now := l.opts.Now()
	if l.hasStatus && now.Sub(l.statusAt) < l.opts.StatusEvery {
		return
	}
	l.status = l.opts.Source.Status()
	l.statusAt = now
	l.hasStatus = true
}

// box draws a panel sized for lines of text at x, y and returns its bottom.
func (l *Layer) box(x, y float32, lines []line, fill uint32) float32 {
	font := l.skin.font
	w := 0
	for _, ln := range lines {
		w = max(w, font.Measure(ln.text))
	}
	x1 := x + float32(w) + 2*padding
	y1 := y + float32(len(lines)*font.Height) + 2*padding
	l.skin.drawPanel(l.b, x-1, y-1, x1+1, y1+1, colorBorder)
	l.skin.drawPanel(l.b, x, y, x1, y1, fill)
	ty := y + padding
	for _, ln := range lines {
		l.b.Text(font, x+padding, ty, ln.color, ln.text)
		ty += float32(font.Height)
	}
	return y1
}

type line struct {
	text  string
	color uint32
}

func (l *Layer) drawStrip(f *ui.Frame) {
	text := fmt.Sprintf("%s  %.0f fps  %.1f ms", f.Backend, l.fps.rate(), l.fps.frameMs())
	if st := l.opts.Sampler.Latest(); st != nil {
		text += fmt.Sprintf("  cpu %.0f%%  rss %s", st.CPUPercent, formatBytes(st.RSSBytes))
	}
	l.box(margin, margin, []line{{text, colorText}}, colorPanel)
}

func (l *Layer) drawStatus(f *ui.Frame, y float32) float32 {
	st := l.status
	lines := []line{
		{fmt.Sprintf("session %s  backend %s  up %s", st.State, st.Backend, orDash(st.Uptime)), colorText},
	}
	if p := st.Present; p != nil {
		lines = append(lines, line{fmt.Sprintf("frames %d  init attempts %d  skipped %d  %s", p.Frames, p.InitAttempts, p.RenderFailures, p.Size), colorText})
	}
	lines = append(lines, line{fmt.Sprintf("hooks %d  frame %d  size %s", len(st.Sites), f.Index, f.Size), colorDim})
	for _, c := range st.Checks {
		text := fmt.Sprintf("%-8s %s", c.Name, c.Status)
		if c.Message != "" {
			text += "  " + truncate(c.Message, 60)
		}
		lines = append(lines, line{text, statusColor(c.Status)})
	}
	if st.Input != nil {
		lines = append(lines, line{fmt.Sprintf("input %d handled  %d consumed", st.Input.Handled, st.Input.Consumed), colorDim})
	}
	if p := l.opts.Sampler.Latest(); p != nil {
		lines = append(lines, line{fmt.Sprintf("process cpu %.1f%%  rss %s  threads %d", p.CPUPercent, formatBytes(p.RSSBytes), p.Threads), colorDim})
	}
	if st.LastError != "" {
		lines = append(lines, line{"last error: " + truncate(st.LastError, 80), colorBad})
	}
	return l.box(margin, y, lines, colorPanel)
}

func (l *Layer) drawConsole(f *ui.Frame, y float32) {
	if l.opts.Ring == nil {
		return
	}
	entries := l.opts.Ring.Tail(l.opts.ConsoleLines)
	if len(entries) == 0 {
		return
	}
	// Leave room for the panel chrome and keep one column of margin.
	maxChars := (int(f.Size.Width) - 2*margin - 2*padding) / 7
	lines := make([]line, 0, len(entries))
	for _, e := range entries {
		text := fmt.Sprintf("%s %-5s %-8s %s", e.Timestamp.Format("15:04:05"), e.Level, e.Component, e.Message)
		lines = append(lines, line{truncate(text, maxChars), levelColor(e.Level)})
	}
	l.box(margin, y, lines, colorConsole)
}

func (l *Layer) drawCursor(x, y float32) {
	l.b.RectFilled(x-1, y-6, x+1, y+7, colorCursor)
	l.b.RectFilled(x-6, y-1, x+7, y+1, colorCursor)
}

func statusColor(s health.Status) uint32 {
	switch s {
	case health.Healthy:
		return colorGood
	case health.Degraded:
		return colorWarn
	case health.Unhealthy:
		return colorBad
	}
	return colorDim
}

func levelColor(level string) uint32 {
	switch strings.ToUpper(level) {
	case "ERROR":
		return colorBad
	case "WARN":
		return colorWarn
	case "DEBUG":
		return colorDim
	}
	return colorText
}

func truncate(s string, n int) string {
	if n <= 3 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatBytes(n uint64) string {
	const mib = 1 << 20
	if n >= 1<<30 {
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	}
	return fmt.Sprintf("%.1f MiB", float64(n)/mib)
}
