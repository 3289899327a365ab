package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Stream fan-out
	Subscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gtdash_stream_subscribers",
			Help: "Number of attached subscribers by stream",
		},
		[]string{"stream"},
	)

	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtdash_stream_messages_delivered_total",
			Help: "Messages delivered to subscribers by stream and event name",
		},
		[]string{"stream", "event"},
	)

	DeliveryFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtdash_stream_delivery_failures_total",
			Help: "Subscriber deliveries that failed and detached the subscriber",
		},
		[]string{"stream"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtdash_client_messages_dropped_total",
			Help: "Messages dropped because a streaming client's buffer was full",
		},
		[]string{"transport"},
	)

	// Telemetry polling
	PollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtdash_polls_total",
			Help: "Telemetry poll ticks by result",
		},
		[]string{"result"},
	)

	PollDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gtdash_poll_duration_seconds",
			Help:    "Time taken by one telemetry poll tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ActivePollers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gtdash_active_pollers",
			Help: "Telemetry pollers currently in the polling state",
		},
	)

	ChangeEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtdash_change_events_total",
			Help: "Change events derived from snapshot diffs by category",
		},
		[]string{"category"},
	)

	AlertsFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtdash_alerts_fired_total",
			Help: "Alerts fired by code",
		},
		[]string{"code"},
	)

	// Subprocesses
	CommandRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gtdash_command_runs_total",
			Help: "External command invocations by program and result",
		},
		[]string{"program", "result"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gtdash_command_duration_seconds",
			Help:    "External command run time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"program"},
	)
)

func init() {
	prometheus.MustRegister(Subscribers)
	prometheus.MustRegister(MessagesDelivered)
	prometheus.MustRegister(DeliveryFailures)
	prometheus.MustRegister(MessagesDropped)
	prometheus.MustRegister(PollsTotal)
	prometheus.MustRegister(PollDuration)
	prometheus.MustRegister(ActivePollers)
	prometheus.MustRegister(ChangeEvents)
	prometheus.MustRegister(AlertsFired)
	prometheus.MustRegister(CommandRuns)
	prometheus.MustRegister(CommandDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram observation.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time in seconds.
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
