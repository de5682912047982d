// Package metrics holds the Prometheus instruments for the recovery
// subsystem. They are registered on the default registry and served by the
// status listener's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_recovery_total",
			Help: "Recovery invocations by terminal outcome",
		}, []string{"outcome"})

	AttestationPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bridge_recovery_attestation_polls_total",
			Help: "Individual attestation API poll attempts",
		})

	RPCEndpointFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_recovery_rpc_endpoint_failures_total",
			Help: "RPC calls that exhausted an endpoint and rotated to the next",
		}, []string{"chain", "endpoint"})

	RecoveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridge_recovery_duration_seconds",
			Help:    "Wall time of a single recovery invocation",
			Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900, 1800},
		})

	PendingBridges = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridge_recovery_pending_bridges",
			Help: "Bridges currently tracked by the registry",
		})
)
