package actor

import "github.com/codewandler/peeractor/core/metrics"

// Metrics is what the actor runtime reports. All methods are thread-safe.
type Metrics interface {
	// Message handling
	MessageDuration(name string) metrics.Timer
	MessageProcessed(name string, success bool)
	MessagePanic(name string)
	HandlerNotFound(name string)
	ResponseDropped()

	// Dispatch
	InboundDepth(depth int)
	HandlersInflight(count int)

	// Background tasks
	SchedulerInflight(count int)
	SchedulerTaskDuration() metrics.Timer
	SchedulerTaskCompleted(success bool)
}

type nopMetrics struct{}

func (nopMetrics) MessageDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) MessageProcessed(string, bool)        {}
func (nopMetrics) MessagePanic(string)                  {}
func (nopMetrics) HandlerNotFound(string)               {}
func (nopMetrics) ResponseDropped()                     {}

func (nopMetrics) InboundDepth(int)     {}
func (nopMetrics) HandlersInflight(int) {}

func (nopMetrics) SchedulerInflight(int)                {}
func (nopMetrics) SchedulerTaskDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) SchedulerTaskCompleted(bool)          {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
