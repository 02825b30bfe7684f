// Package metrics exposes orchestrator progress as Prometheus collectors.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fl_orch"

// FlMetrics groups the collectors updated by the orchestrator. A nil
// *FlMetrics is valid and records nothing.
type FlMetrics struct {
	roundsTotal         *prometheus.CounterVec
	splitsTotal         *prometheus.CounterVec
	participantFailures *prometheus.CounterVec
	activeClusters      *prometheus.GaugeVec
	meanAccuracy        *prometheus.GaugeVec
	meanLoss            *prometheus.GaugeVec
	totalCost           *prometheus.GaugeVec
	roundDuration       *prometheus.HistogramVec
	runsActive          prometheus.Gauge
}

// NewFlMetrics creates the collectors and registers them with registerer.
func NewFlMetrics(registerer prometheus.Registerer) (*FlMetrics, error) {
	m := &FlMetrics{
		roundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Communication rounds completed.",
		}, []string{"strategy"}),
		splitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_splits_total",
			Help:      "Cluster bisections committed.",
		}, []string{"strategy"}),
		participantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "participant_failures_total",
			Help:      "Rounds aborted because a client failed its local computation.",
		}, []string{"strategy"}),
		activeClusters: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_clusters",
			Help:      "Clusters in the current partition.",
		}, []string{"strategy"}),
		meanAccuracy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_accuracy",
			Help:      "Mean client accuracy after the last round.",
		}, []string{"strategy"}),
		meanLoss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mean_loss",
			Help:      "Mean client loss after the last round.",
		}, []string{"strategy"}),
		totalCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_cost",
			Help:      "Accumulated communication or energy cost of the run.",
		}, []string{"strategy"}),
		roundDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "round_duration_seconds",
			Help:      "Wall time of one round.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"strategy"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Experiments currently running.",
		}),
	}

	collectors := []prometheus.Collector{
		m.roundsTotal, m.splitsTotal, m.participantFailures, m.activeClusters,
		m.meanAccuracy, m.meanLoss, m.totalCost, m.roundDuration, m.runsActive,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

func (m *FlMetrics) ObserveRound(strategy string, clusters int, meanAccuracy, meanLoss, totalCost float64, duration time.Duration) {
	if m == nil {
		return
	}
	m.roundsTotal.WithLabelValues(strategy).Inc()
	m.activeClusters.WithLabelValues(strategy).Set(float64(clusters))
	m.meanAccuracy.WithLabelValues(strategy).Set(meanAccuracy)
	m.meanLoss.WithLabelValues(strategy).Set(meanLoss)
	m.totalCost.WithLabelValues(strategy).Set(totalCost)
	m.roundDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

func (m *FlMetrics) ObserveSplit(strategy string) {
	if m == nil {
		return
	}
	m.splitsTotal.WithLabelValues(strategy).Inc()
}

func (m *FlMetrics) ObserveParticipantFailure(strategy string) {
	if m == nil {
		return
	}
	m.participantFailures.WithLabelValues(strategy).Inc()
}

func (m *FlMetrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *FlMetrics) RunFinished() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}
