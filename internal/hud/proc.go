package hud

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcStats is the host process's resource use.
type ProcStats struct {
	CPUPercent float64
	RSSBytes   uint64
	Threads    int32
}

// Sampler polls the host process off the render thread. The HUD reads the
// latest sample without blocking.
type Sampler struct {
	proc     *process.Process
	interval time.Duration
	latest   atomic.Pointer[ProcStats]
}

// NewSampler samples the current process every interval.
func NewSampler(interval time.Duration) (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{proc: p, interval: interval}, nil
}

// Run samples until ctx is done.
func (s *Sampler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		s.sample()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Sampler) sample() {
	st := &ProcStats{}
	// Percent(0) measures since the previous call.
	if cpu, err := s.proc.Percent(0); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if n, err := s.proc.NumThreads(); err == nil {
		st.Threads = n
	}
	s.latest.Store(st)
}

// Latest returns the most recent sample, or nil before the first one.
func (s *Sampler) Latest() *ProcStats {
	if s == nil {
		return nil
	}
	return s.latest.Load()
}
