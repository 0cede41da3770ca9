package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_executions_total",
		Help: "The total number of execution requests processed",
	}, []string{"status", "op_type"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultgate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	PolicyRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_policy_rejects_total",
		Help: "Total policy engine rejections",
	}, []string{"reason"})

	SpendCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vaultgate_spend_committed_usd_total",
		Help: "Cumulative spending cost committed against sub-account windows (USD)",
	})

	OracleUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_oracle_updates_total",
		Help: "Total oracle ingestion calls",
	}, []string{"kind"})
)
