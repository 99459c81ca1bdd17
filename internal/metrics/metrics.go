package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"corral/internal/events"
)

var (
	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corral_commands_total",
		Help: "Runtime commands executed, by outcome code",
	}, []string{"operation", "runtime", "access_mode", "code"})

	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "corral_command_duration_seconds",
		Help:    "Runtime command latency",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"operation", "runtime", "access_mode"})

	RequestsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corral_requests_rejected_total",
		Help: "Requests that failed before reaching a runtime",
	}, []string{"code"})

	RequestTimeoutsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corral_request_timeouts_total",
		Help: "Requests whose caller stopped waiting",
	}, []string{"operation"})

	StoreFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "corral_store_failures_total",
		Help: "Results that could not be persisted",
	})

	ContainerEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corral_container_events_total",
		Help: "Container events observed on the runtimes",
	}, []string{"runtime", "action"})

	PoolQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "corral_pool_queue_depth",
		Help: "Tasks waiting for a worker",
	})

	PoolBusyWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "corral_pool_busy_workers",
		Help: "Workers currently running a task",
	})
)

func init() {
	prometheus.MustRegister(
		CommandsTotal,
		CommandDuration,
		RequestsRejectedTotal,
		RequestTimeoutsTotal,
		StoreFailuresTotal,
		ContainerEventsTotal,
		PoolQueueDepth,
		PoolBusyWorkers,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RegisterEventHandler wires metric updates to the event emitter.
func RegisterEventHandler(emitter *events.Emitter) {
	emitter.OnEvent(func(ev events.Event) {
		switch ev.Type {
		case events.CommandCompleted:
			CommandsTotal.WithLabelValues(ev.Operation, ev.Runtime, ev.AccessMode, ev.Code).Inc()
			CommandDuration.WithLabelValues(ev.Operation, ev.Runtime, ev.AccessMode).Observe(ev.Duration.Seconds())
		case events.RequestRejected:
			RequestsRejectedTotal.WithLabelValues(ev.Code).Inc()
		case events.RequestTimedOut:
			RequestTimeoutsTotal.WithLabelValues(ev.Operation).Inc()
		case events.StoreFailed:
			StoreFailuresTotal.Inc()
		case events.ContainerObserved:
			ContainerEventsTotal.WithLabelValues(ev.Runtime, ev.Fields["action"]).Inc()
		}
	})
}
