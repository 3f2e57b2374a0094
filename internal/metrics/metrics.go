// Package metrics exposes the process-wide Prometheus instruments. They are
// registered on the default registry and served by the REST layer under
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "linesim"

var (
	Cycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Simulation cycles executed.",
	})

	PartsProduced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parts_produced_total",
		Help:      "Parts that passed inspection.",
	})

	PartsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "parts_rejected_total",
		Help:      "Parts rejected by the vision station.",
	})

	AnomalyAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "anomaly_alerts_total",
		Help:      "Anomaly verdicts raised by the scorer.",
	})

	LineFaults = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "line_faults_total",
		Help:      "Anomaly-triggered transitions into the error status.",
	})

	ScorerFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scorer_fallbacks_total",
		Help:      "Scorer calls answered by a local fallback.",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Line commands received, by command and outcome.",
	}, []string{"command", "outcome"})

	Broadcasts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_broadcasts_total",
		Help:      "Events fanned out to connected viewers.",
	})

	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connected_clients",
		Help:      "Currently connected WebSocket viewers.",
	})
)
