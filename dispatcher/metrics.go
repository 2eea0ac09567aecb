package dispatcher

import (
	"time"

	"github.com/omlserver/oml/algorithm"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "oml"

// Metrics collects dispatcher metrics
type Metrics struct {
	submissions *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    prometheus.Gauge
}

// NewMetrics creates dispatcher metrics and registers them
// with registerer. A nil registerer leaves them unregistered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatcher",
			Name:      "submissions_total",
			Help:      "Compute steps submitted to the dispatcher by kind and result class.",
		}, []string{"kind", "class"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatcher",
			Name:      "step_duration_seconds",
			Help:      "Time spent executing compute steps on a worker.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"kind"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatcher",
			Name:      "steps_in_flight",
			Help:      "Compute steps currently executing on a worker.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(metrics.submissions, metrics.duration, metrics.inFlight)
	}

	return metrics
}

// Submissions returns the submissions counter for kind and class
func (metrics *Metrics) Submissions(kind algorithm.Kind, class Class) prometheus.Counter {
	return metrics.submissions.WithLabelValues(kind.String(), string(class))
}

func (metrics *Metrics) observeResult(kind algorithm.Kind, err error) {
	if metrics == nil {
		return
	}

	metrics.Submissions(kind, Classify(err)).Inc()
}

func (metrics *Metrics) observeStart() {
	if metrics == nil {
		return
	}

	metrics.inFlight.Inc()
}

func (metrics *Metrics) observeEnd(kind algorithm.Kind, d time.Duration) {
	if metrics == nil {
		return
	}

	metrics.inFlight.Dec()
	metrics.duration.WithLabelValues(kind.String()).Observe(d.Seconds())
}
