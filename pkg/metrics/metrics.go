package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_intents_created_total",
		Help: "The total number of payment intents created",
	})

	IntentsConfirmed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_intents_confirmed_total",
		Help: "The total number of intent confirmations by outcome",
	}, []string{"outcome"})

	IntentsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_intents_expired_total",
		Help: "The total number of payment intents that expired",
	})

	ConfirmProcessingTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verifier_confirm_processing_seconds",
		Help:    "Time taken to run the full confirmation pipeline",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	})

	AttestationPolls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_attestation_polls_total",
		Help: "The total number of attestation poll requests by result",
	}, []string{"result"})

	AttestationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verifier_attestation_wait_seconds",
		Help:    "Time waited for an attestation proof to become available",
		Buckets: prometheus.ExponentialBuckets(10, 2, 8), // Start at 10s, voting rounds are slow
	})

	VerificationResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_proof_verifications_total",
		Help: "Proof verification outcomes by reason",
	}, []string{"result", "reason"})

	GrantsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_grants_issued_total",
		Help: "The total number of access grants issued",
	})

	GrantsRevoked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "verifier_grants_revoked_total",
		Help: "The total number of access grants revoked",
	})

	ActiveGrants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "verifier_active_grants",
		Help: "The number of currently active access grants",
	})

	// Connection manager metrics

	EndpointFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_endpoint_failures_total",
		Help: "Endpoint call failures by network and class",
	}, []string{"network", "class"})

	EndpointFailovers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_endpoint_failovers_total",
		Help: "Number of times the current endpoint changed due to failover",
	}, []string{"network"})

	FallbackCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verifier_fallback_calls_total",
		Help: "Calls routed to the wallet-injected fallback connection",
	}, []string{"network"})

	HealthyEndpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "verifier_healthy_endpoints",
		Help: "Number of healthy endpoints in the pool",
	}, []string{"network"})

	OpenCircuits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "verifier_open_circuits",
		Help: "Number of endpoints with an open circuit breaker",
	}, []string{"network"})
)
