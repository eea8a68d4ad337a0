package logging

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultRingSize = 256

// Entry is a single log record kept in memory for the overlay console.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Ring keeps the most recent log entries in a fixed-size circular buffer.
// Add never blocks for longer than a slice store; it is called from hooked
// render and window-procedure threads.
type Ring struct {
	mu       sync.Mutex
	entries  []Entry
	next     int
	full     bool
	minLevel atomic.Int64
	total    atomic.Int64
}

// NewRing creates a ring holding up to size entries at or above minLevel.
func NewRing(size int, minLevel string) *Ring {
	if size <= 0 {
		size = defaultRingSize
	}
	r := &Ring{entries: make([]Entry, size)}
	r.minLevel.Store(int64(parseLevel(minLevel)))
	return r
}

// Accepts reports whether entries at lvl are recorded.
func (r *Ring) Accepts(lvl slog.Level) bool {
	return int64(lvl) >= r.minLevel.Load()
}

// SetMinLevel dynamically adjusts the minimum recorded level.
func (r *Ring) SetMinLevel(lvl string) {
	r.minLevel.Store(int64(parseLevel(lvl)))
}

// Add records an entry, overwriting the oldest one when full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	r.entries[r.next] = e
	r.next++
	if r.next == len(r.entries) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
	r.total.Add(1)
}

// Total returns how many entries were ever added.
func (r *Ring) Total() int64 {
	return r.total.Load()
}

// Tail returns up to n of the newest entries, oldest first.
func (r *Ring) Tail(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.next
	if r.full {
		count = len(r.entries)
	}
	if n <= 0 || n > count {
		n = count
	}

	out := make([]Entry, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.entries)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}
	return out
}
