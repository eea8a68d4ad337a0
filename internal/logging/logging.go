package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// Key constants for structured log fields.
const (
	KeyComponent  = "component"
	KeyBackend    = "backend"
	KeySite       = "site"
	KeyFrame      = "frame"
	KeyDurationMs = "durationMs"
	KeyError      = "error"
)

type contextKey struct{}

// switchableHandler lets package-level loggers created before Init()
// dynamically pick up the configured handler once Init runs. Every package
// in this module creates its logger at init time, long before the injected
// Attach entry point has read the config.
type switchableHandler struct {
	state  *switchableState
	attrs  []slog.Attr
	groups []string
}

type switchableState struct {
	current atomic.Value // stores slog.Handler
}

func newSwitchableHandler(h slog.Handler) *switchableHandler {
	state := &switchableState{}
	state.current.Store(h)
	return &switchableHandler{state: state}
}

func (h *switchableHandler) set(handler slog.Handler) {
	h.state.current.Store(handler)
}

func (h *switchableHandler) base() slog.Handler {
	return h.state.current.Load().(slog.Handler)
}

func (h *switchableHandler) materialize() slog.Handler {
	handler := h.base()
	for _, group := range h.groups {
		handler = handler.WithGroup(group)
	}
	if len(h.attrs) > 0 {
		handler = handler.WithAttrs(h.attrs)
	}
	return handler
}

func (h *switchableHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.materialize().Enabled(ctx, level)
}

func (h *switchableHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.materialize().Handle(ctx, record)
}

func (h *switchableHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	groups := make([]string, len(h.groups))
	copy(groups, h.groups)

	return &switchableHandler{
		state:  h.state,
		attrs:  merged,
		groups: groups,
	}
}

func (h *switchableHandler) WithGroup(name string) slog.Handler {
	attrs := make([]slog.Attr, len(h.attrs))
	copy(attrs, h.attrs)

	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)

	return &switchableHandler{
		state:  h.state,
		attrs:  attrs,
		groups: groups,
	}
}

var (
	level         = new(slog.LevelVar)
	rootHandler   = newSwitchableHandler(&ringHandler{base: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})})
	defaultLogger = slog.New(rootHandler)
	globalRing    *Ring
	ringMu        sync.RWMutex
)

func init() {
	slog.SetDefault(defaultLogger)
}

// Init initializes the global logger. Call once after config is loaded.
// format: "json" or "text" (default "text")
// lvl: "debug", "info", "warn", "error" (default "info")
// output: writer to log to (nil = os.Stderr)
func Init(format, lvl string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	level.Set(parseLevel(lvl))

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	rootHandler.set(&ringHandler{base: handler})
	slog.SetDefault(defaultLogger)
}

// SetLevel changes the minimum level of the local handler at runtime.
func SetLevel(lvl string) {
	level.Set(parseLevel(lvl))
}

// Level returns the current minimum level name.
func Level() string {
	return strings.ToLower(level.Level().String())
}

// InitRing installs the in-memory ring sink that backs the HUD console and
// the control status reply. Calling it again replaces the previous ring.
func InitRing(size int, minLevel string) *Ring {
	ringMu.Lock()
	defer ringMu.Unlock()

	globalRing = NewRing(size, minLevel)
	return globalRing
}

// CurrentRing returns the installed ring sink, or nil.
func CurrentRing() *Ring {
	ringMu.RLock()
	defer ringMu.RUnlock()
	return globalRing
}

// ringHandler wraps a base slog.Handler to also record entries in the ring.
type ringHandler struct {
	base slog.Handler
	// attrs added through WithAttrs; the base handler has them baked in but
	// the ring needs them as fields.
	attrs []slog.Attr
}

func (h *ringHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	if h.base.Enabled(ctx, lvl) {
		return true
	}
	ring := CurrentRing()
	return ring != nil && ring.Accepts(lvl)
}

func (h *ringHandler) Handle(ctx context.Context, record slog.Record) error {
	if ring := CurrentRing(); ring != nil && ring.Accepts(record.Level) {
		fields := make(map[string]any, len(h.attrs)+record.NumAttrs())
		for _, a := range h.attrs {
			fields[a.Key] = a.Value.Any()
		}
		record.Attrs(func(a slog.Attr) bool {
			fields[a.Key] = a.Value.Any()
			return true
		})

		ring.Add(Entry{
			Timestamp: record.Time,
			Level:     record.Level.String(),
			Component: extractComponent(fields),
			Message:   record.Message,
			Fields:    fields,
		})
	}

	if !h.base.Enabled(ctx, record.Level) {
		return nil
	}
	return h.base.Handle(ctx, record)
}

func (h *ringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &ringHandler{base: h.base.WithAttrs(attrs), attrs: merged}
}

func (h *ringHandler) WithGroup(name string) slog.Handler {
	return &ringHandler{base: h.base.WithGroup(name), attrs: h.attrs}
}

func extractComponent(fields map[string]any) string {
	if c, ok := fields[KeyComponent].(string); ok {
		return c
	}
	return "unknown"
}

// L returns a logger tagged with the given component name.
func L(component string) *slog.Logger {
	return defaultLogger.With(slog.String(KeyComponent, component))
}

// WithBackend returns a child logger tagged with a render backend name.
func WithBackend(logger *slog.Logger, backend string) *slog.Logger {
	return logger.With(slog.String(KeyBackend, backend))
}

// NewContext returns a new context carrying the given logger.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext extracts the logger from context, falling back to the default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return l
	}
	return defaultLogger
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
