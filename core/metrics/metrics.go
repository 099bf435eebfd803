// Package metrics holds the one instrument the actor runtime and the
// communication layer need beyond plain counters and gauges: a Timer.
// Backends such as adapters/prometheus build timers with Start; NopTimer is
// the default.
package metrics

import "time"

// Timer measures the duration of one operation. It starts when created;
// ObserveDuration records the elapsed time:
//
//	defer m.MessageDuration(name).ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type timer struct {
	start   time.Time
	observe func(time.Duration)
}

// Start returns a Timer that passes the time elapsed since now to observe.
// Only the first ObserveDuration call is recorded.
func Start(observe func(time.Duration)) Timer {
	return &timer{start: time.Now(), observe: observe}
}

func (t *timer) ObserveDuration() {
	if t.observe == nil {
		return
	}
	t.observe(time.Since(t.start))
	t.observe = nil
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
