// Package health aggregates the status of the overlay's components (hook
// sites, render engine, input subclass, control channel) for the HUD and the
// control channel's status reply.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/breeze-rmm/hudhook/internal/logging"
)

var log = logging.L("health")

// Status represents the health status of a component.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Unknown   Status = "unknown"
)

// IsValid reports whether s is one of the defined statuses.
func (s Status) IsValid() bool {
	switch s {
	case Healthy, Degraded, Unhealthy, Unknown:
		return true
	}
	return false
}

// Check stores the latest health result for a named component.
type Check struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Probe computes a component's status on demand.
type Probe func() (Status, string)

// Monitor tracks health checks for multiple components. Components either
// push with Update or register a Probe that Refresh polls.
type Monitor struct {
	mu     sync.RWMutex
	checks map[string]Check
	probes map[string]Probe
	now    func() time.Time
}

func NewMonitor() *Monitor {
	return &Monitor{
		checks: make(map[string]Check),
		probes: make(map[string]Probe),
		now:    time.Now,
	}
}

// Update records the health status for a named component. An invalid status
// is recorded as Unhealthy. Only transitions are logged.
func (m *Monitor) Update(name string, status Status, message string) {
	if !status.IsValid() {
		status = Unhealthy
	}
	m.mu.Lock()
	prev, had := m.checks[name]
	m.checks[name] = Check{Name: name, Status: status, Message: message, UpdatedAt: m.now()}
	m.mu.Unlock()

	if had && prev.Status == status {
		return
	}
	if status != Healthy {
		log.Warn("health check degraded", "component", name, "status", string(status), "message", message)
	} else if had {
		log.Info("health check recovered", "component", name)
	}
}

// Register adds a probe. It is evaluated on every Refresh.
func (m *Monitor) Register(name string, p Probe) {
	m.mu.Lock()
	m.probes[name] = p
	m.mu.Unlock()
}

// Refresh evaluates every registered probe.
func (m *Monitor) Refresh() {
	m.mu.RLock()
	names := make([]string, 0, len(m.probes))
	probes := make([]Probe, 0, len(m.probes))
	for n, p := range m.probes {
		names = append(names, n)
		probes = append(probes, p)
	}
	m.mu.RUnlock()

	for i, p := range probes {
		status, msg := p()
		m.Update(names[i], status, msg)
	}
}

// Get returns the health check for a named component.
func (m *Monitor) Get(name string) (Check, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checks[name]
	return c, ok
}

// Overall returns the worst status across all checks, or Unknown when there
// are none.
func (m *Monitor) Overall() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overallLocked()
}

func (m *Monitor) overallLocked() Status {
	if len(m.checks) == 0 {
		return Unknown
	}
	worst := Healthy
	for _, c := range m.checks {
		if worse(c.Status, worst) {
			worst = c.Status
		}
	}
	return worst
}

// All returns a snapshot of all current health checks, sorted by name.
func (m *Monitor) All() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Summary returns a JSON-friendly map. Overall and components come from the
// same snapshot.
func (m *Monitor) Summary() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]string, len(m.checks))
	for _, c := range m.checks {
		components[c.Name] = string(c.Status)
	}
	return map[string]any{
		"status":     string(m.overallLocked()),
		"components": components,
	}
}

func worse(a, b Status) bool {
	return statusRank(a) > statusRank(b)
}

func statusRank(s Status) int {
	switch s {
	case Healthy:
		return 0
	case Degraded:
		return 1
	case Unhealthy:
		return 2
	case Unknown:
		return 3
	default:
		return 0
	}
}
