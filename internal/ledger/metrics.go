package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_ledger_transitions_total",
		Help: "Status transitions committed by the ledger, labeled by operation and resulting status",
	}, []string{"operation", "status"})

	replaysTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "facilitator_ledger_replays_total",
		Help: "Verify and settle calls answered from an existing row without a backend call",
	}, []string{"operation"})

	backendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "facilitator_backend_request_duration_seconds",
		Help:    "Latency distribution of settlement backend calls",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"operation", "outcome"})
)
