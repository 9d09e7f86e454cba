package metrics

import "github.com/prometheus/client_golang/prometheus"

var DeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nudge_deliveries_total",
		Help: "Delivery attempts by outcome",
	},
	[]string{"channel", "kind", "status"},
)

var DeliveryDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "nudge_delivery_duration_seconds",
		Help:    "Time spent in the delivery gateway",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"channel"},
)

var RetriesExhaustedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nudge_retries_exhausted_total",
		Help: "Tuples abandoned after the bounded retry policy gave up",
	},
	[]string{"channel", "kind"},
)

var DigestsBuiltTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "nudge_digests_built_total",
		Help: "Weekly digests assembled and handed to the gateway",
	},
)

var JobEventsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nudge_job_events_total",
		Help: "Job status events consumed from the platform",
	},
	[]string{"status"},
)

var TickDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "nudge_tick_duration_seconds",
		Help:    "Scheduler loop tick duration",
		Buckets: prometheus.DefBuckets,
	},
)

func Register() {
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(RetriesExhaustedTotal)
	prometheus.MustRegister(DigestsBuiltTotal)
	prometheus.MustRegister(JobEventsTotal)
	prometheus.MustRegister(TickDuration)
}
