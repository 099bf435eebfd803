package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/peeractor/core/actor"
	"github.com/codewandler/peeractor/core/metrics"
)

// actorMetrics implements actor.Metrics using Prometheus.
type actorMetrics struct {
	messageDuration       *prometheus.HistogramVec
	messagesTotal         *prometheus.CounterVec
	panicTotal            *prometheus.CounterVec
	notFoundTotal         *prometheus.CounterVec
	responsesDropped      prometheus.Counter
	inboundDepth          prometheus.Gauge
	handlersInflight      prometheus.Gauge
	schedulerInflight     prometheus.Gauge
	schedulerTaskDuration prometheus.Histogram
	schedulerTasksTotal   *prometheus.CounterVec
}

// NewActorMetrics creates a new Prometheus implementation of actor.Metrics.
func NewActorMetrics(reg prometheus.Registerer) actor.Metrics {
	m := &actorMetrics{
		messageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "actor_message_duration_seconds",
			Help:      "Handler execution time in seconds",
			Buckets:   defaultBuckets,
		}, []string{"name"}),

		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_messages_total",
			Help:      "Total number of requests handled",
		}, []string{"name", "success"}),

		panicTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_panics_total",
			Help:      "Total number of handler panics",
		}, []string{"name"}),

		notFoundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_handler_not_found_total",
			Help:      "Total number of requests for unregistered names",
		}, []string{"name"}),

		responsesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_responses_dropped_total",
			Help:      "Responses whose requester was gone",
		}),

		inboundDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actor_inbound_depth",
			Help:      "Requests waiting in the inbound channel",
		}),

		handlersInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actor_handlers_inflight",
			Help:      "Number of running handler invocations",
		}),

		schedulerInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "actor_scheduler_inflight",
			Help:      "Number of running scheduled tasks",
		}),

		schedulerTaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "actor_scheduler_task_duration_seconds",
			Help:      "Scheduled task duration in seconds",
			Buckets:   defaultBuckets,
		}),

		schedulerTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actor_scheduler_tasks_total",
			Help:      "Total number of scheduled tasks completed",
		}, []string{"success"}),
	}

	reg.MustRegister(
		m.messageDuration,
		m.messagesTotal,
		m.panicTotal,
		m.notFoundTotal,
		m.responsesDropped,
		m.inboundDepth,
		m.handlersInflight,
		m.schedulerInflight,
		m.schedulerTaskDuration,
		m.schedulerTasksTotal,
	)

	return m
}

func (m *actorMetrics) MessageDuration(name string) metrics.Timer {
	return newTimer(m.messageDuration.WithLabelValues(name))
}

func (m *actorMetrics) MessageProcessed(name string, success bool) {
	m.messagesTotal.WithLabelValues(name, boolToStr(success)).Inc()
}

func (m *actorMetrics) MessagePanic(name string) {
	m.panicTotal.WithLabelValues(name).Inc()
}

func (m *actorMetrics) HandlerNotFound(name string) {
	m.notFoundTotal.WithLabelValues(name).Inc()
}

func (m *actorMetrics) ResponseDropped() { m.responsesDropped.Inc() }

func (m *actorMetrics) InboundDepth(depth int) { m.inboundDepth.Set(float64(depth)) }

func (m *actorMetrics) HandlersInflight(count int) { m.handlersInflight.Set(float64(count)) }

func (m *actorMetrics) SchedulerInflight(count int) { m.schedulerInflight.Set(float64(count)) }

func (m *actorMetrics) SchedulerTaskDuration() metrics.Timer {
	return newTimer(m.schedulerTaskDuration)
}

func (m *actorMetrics) SchedulerTaskCompleted(success bool) {
	m.schedulerTasksTotal.WithLabelValues(boolToStr(success)).Inc()
}

var _ actor.Metrics = (*actorMetrics)(nil)
