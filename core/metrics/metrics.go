// Package metrics exposes training and prediction metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nexus"

// Metrics holds the Prometheus collectors for training runs and predictions.
//
// Thread Safety: Safe for concurrent use (Prometheus metrics are thread-safe).
type Metrics struct {
	// EpochsTotal counts completed optimisation epochs.
	EpochsTotal prometheus.Counter

	// Loss is the most recent training loss.
	Loss prometheus.Gauge

	// Accuracy is the most recent reported training accuracy.
	Accuracy prometheus.Gauge

	// EpochDurationSeconds measures forward, backward and update time per epoch.
	EpochDurationSeconds prometheus.Histogram

	// PredictionsTotal counts served predictions by label.
	PredictionsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EpochsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "epochs_total",
			Help:      "Total optimisation epochs completed",
		}),
		Loss: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "loss",
			Help:      "Negative log-likelihood of the latest epoch",
		}),
		Accuracy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "accuracy",
			Help:      "Fraction of nodes classified correctly at the latest report",
		}),
		EpochDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "training",
			Name:      "epoch_duration_seconds",
			Help:      "Wall time of one training epoch",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		PredictionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inference",
			Name:      "predictions_total",
			Help:      "Predictions served by label",
		}, []string{"label"}),
	}
}

// ObserveEpoch records one finished epoch.
func (m *Metrics) ObserveEpoch(loss float64, elapsed time.Duration) {
	m.EpochsTotal.Inc()
	m.Loss.Set(loss)
	m.EpochDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveAccuracy records a progress report.
func (m *Metrics) ObserveAccuracy(accuracy float64) {
	m.Accuracy.Set(accuracy)
}

// ObservePrediction counts one served prediction.
func (m *Metrics) ObservePrediction(label string) {
	m.PredictionsTotal.WithLabelValues(label).Inc()
}
