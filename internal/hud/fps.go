package hud

import "time"

// fpsMeter smooths frame time with an exponential moving average.
type fpsMeter struct {
	avg time.Duration
}

const fpsSmoothing = 0.1

func (m *fpsMeter) add(d time.Duration) {
	if d <= 0 {
		return
	}
	if m.avg == 0 {
		m.avg = d
		return
	}
	m.avg += time.Duration(fpsSmoothing * float64(d-m.avg))
}

func (m *fpsMeter) rate() float64 {
	if m.avg <= 0 {
		return 0
	}
	return float64(time.Second) / float64(m.avg)
}

func (m *fpsMeter) frameMs() float64 {
	return float64(m.avg) / float64(time.Millisecond)
}
