package health

import (
	"sync"
	"testing"
)

func TestEmptyMonitorIsUnknown(t *testing.T) {
	m := NewMonitor()
	if got := m.Overall(); got != Unknown {
		t.Fatalf("Overall() on empty monitor = %q, want %q", got, Unknown)
	}
	s := m.Summary()
	if s["status"] != "unknown" {
		t.Fatalf("Summary status = %v, want unknown", s["status"])
	}
	if components, _ := s["components"].(map[string]string); len(components) != 0 {
		t.Fatalf("Summary components = %v, want empty", components)
	}
}

func TestOverallReturnsWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Status
		want   Status
	}{
		{"all healthy", map[string]Status{"hooks": Healthy, "engine": Healthy}, Healthy},
		{"one degraded", map[string]Status{"hooks": Healthy, "engine": Degraded, "input": Healthy}, Degraded},
		{"unhealthy beats degraded", map[string]Status{"engine": Degraded, "hooks": Unhealthy}, Unhealthy},
		{"unknown is worst", map[string]Status{"engine": Unhealthy, "control": Unknown}, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor()
			for n, s := range tt.checks {
				m.Update(n, s, "")
			}
			if got := m.Overall(); got != tt.want {
				t.Fatalf("Overall() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{Healthy, Degraded, Unhealthy, Unknown} {
		if !s.IsValid() {
			t.Errorf("IsValid(%q) = false, want true", s)
		}
	}
	for _, s := range []Status{"garbage", "", "ok"} {
		if s.IsValid() {
			t.Errorf("IsValid(%q) = true, want false", s)
		}
	}
}

func TestUpdateCoercesInvalidStatus(t *testing.T) {
	m := NewMonitor()
	m.Update("engine", Status("invalid"), "bad value")
	c, ok := m.Get("engine")
	if !ok || c.Status != Unhealthy {
		t.Fatalf("check = %+v, %v; want coerced to unhealthy", c, ok)
	}
}

func TestProbesRefresh(t *testing.T) {
	m := NewMonitor()
	status := Healthy
	m.Register("engine", func() (Status, string) { return status, "frames" })
	if _, ok := m.Get("engine"); ok {
		t.Fatal("probe evaluated before Refresh")
	}
	m.Refresh()
	if c, _ := m.Get("engine"); c.Status != Healthy || c.Message != "frames" {
		t.Fatalf("check = %+v", c)
	}
	status = Unhealthy
	m.Refresh()
	if m.Overall() != Unhealthy {
		t.Fatalf("Overall() = %q after probe change", m.Overall())
	}
}

func TestAllIsSorted(t *testing.T) {
	m := NewMonitor()
	m.Update("input", Healthy, "")
	m.Update("engine", Degraded, "slow")
	m.Update("hooks", Healthy, "")

	all := m.All()
	if len(all) != 3 || all[0].Name != "engine" || all[2].Name != "input" {
		t.Fatalf("All() = %+v", all)
	}
}

func TestSummaryConsistentUnderConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	m.Update("engine", Healthy, "")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.Update("engine", Degraded, "slow")
			} else {
				m.Update("engine", Healthy, "")
			}
		}(i)
		go func() {
			defer wg.Done()
			s := m.Summary()
			status, _ := s["status"].(string)
			components, _ := s["components"].(map[string]string)
			if status != components["engine"] {
				t.Errorf("summary inconsistency: overall=%q engine=%q", status, components["engine"])
			}
		}()
	}
	wg.Wait()
}
