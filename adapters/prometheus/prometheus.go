// Package prometheus provides Prometheus implementations of the actor and
// communication layer metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/peeractor/core/metrics"
)

const namespace = "peeractor"

// newTimer observes into h in seconds.
func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.Start(func(d time.Duration) { h.Observe(d.Seconds()) })
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// AllMetrics holds the metrics of one actor and its communication layer.
type AllMetrics struct {
	Actor *actorMetrics
	Comm  *commMetrics
}

// NewAllMetrics registers actor and communication layer metrics on reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		Actor: NewActorMetrics(reg).(*actorMetrics),
		Comm:  NewCommMetrics(reg).(*commMetrics),
	}
}
