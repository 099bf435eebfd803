package comm

import "github.com/codewandler/peeractor/core/metrics"

// Metrics is what the communication layer reports. All methods are
// thread-safe.
type Metrics interface {
	// Outbound requests
	RequestDuration(name string) metrics.Timer
	RequestCompleted(name string, success bool)

	// Inbound requests; reason is a FailureCode.
	InboundAccepted(name string)
	InboundRejected(reason FailureCode)
	ResponseDropped()

	// Connections
	PeersConnected(count int)
	HandshakeFailed()
}

type nopMetrics struct{}

func (nopMetrics) RequestDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RequestCompleted(string, bool)        {}
func (nopMetrics) InboundAccepted(string)               {}
func (nopMetrics) InboundRejected(FailureCode)          {}
func (nopMetrics) ResponseDropped()                     {}
func (nopMetrics) PeersConnected(int)                   {}
func (nopMetrics) HandshakeFailed()                     {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
