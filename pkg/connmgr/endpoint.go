package connmgr

import (
	"sync"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/circuitbreaker"
)

// errorRateDecay is the weight of the previous error rate in the
// exponentially weighted error rate of an endpoint
const errorRateDecay = 0.8

// Endpoint tracks the health of a single RPC endpoint. Endpoints are created
// at startup and never removed, only marked healthy or unhealthy.
type Endpoint struct {
	URL     string
	breaker *circuitbreaker.CircuitBreaker

	mu            sync.Mutex
	healthy       bool
	latencyMs     int64
	errorRate     float64
	lastCheckedAt time.Time
}

func newEndpoint(url string, failThreshold, successThreshold int, recoveryTimeout time.Duration) *Endpoint {
	return &Endpoint{
		URL:     url,
		breaker: circuitbreaker.NewCircuitBreaker(failThreshold, successThreshold, recoveryTimeout),
		healthy: true,
	}
}

// recordSuccess updates health state after a successful call
func (e *Endpoint) recordSuccess(latency time.Duration) {
	e.breaker.RecordSuccess()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	e.latencyMs = latency.Milliseconds()
	e.errorRate *= errorRateDecay
	e.lastCheckedAt = time.Now()
}

// recordFailure updates health state after a retryable failure
func (e *Endpoint) recordFailure() {
	opened := e.breaker.RecordFailure()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorRate = e.errorRate*errorRateDecay + (1 - errorRateDecay)
	e.lastCheckedAt = time.Now()
	if opened {
		e.healthy = false
	}
}

// recordPermanentFailure pins the endpoint at maximum error rate and opens
// its circuit without a recovery window
func (e *Endpoint) recordPermanentFailure() {
	e.breaker.TripPermanent()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = false
	e.errorRate = 1
	e.lastCheckedAt = time.Now()
}

// usable reports whether the endpoint may be selected for a call
func (e *Endpoint) usable() bool {
	if !e.breaker.AllowRequest() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	// An open circuit past its recovery timeout admits a half-open trial
	// even though the endpoint is still marked unhealthy
	return e.healthy || e.breaker.IsOpen()
}

// EndpointStatus is a point-in-time view of an endpoint's health record
type EndpointStatus struct {
	URL                  string    `json:"url"`
	Healthy              bool      `json:"healthy"`
	LatencyMs            int64     `json:"latency_ms"`
	ErrorRate            float64   `json:"error_rate"`
	CircuitOpen          bool      `json:"circuit_open"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastCheckedAt        time.Time `json:"last_checked_at"`
}

func (e *Endpoint) status() EndpointStatus {
	failures, successes, _ := e.breaker.GetState()

	e.mu.Lock()
	defer e.mu.Unlock()
	return EndpointStatus{
		URL:                  e.URL,
		Healthy:              e.healthy,
		LatencyMs:            e.latencyMs,
		ErrorRate:            e.errorRate,
		CircuitOpen:          e.breaker.IsOpen(),
		ConsecutiveFailures:  failures,
		ConsecutiveSuccesses: successes,
		LastCheckedAt:        e.lastCheckedAt,
	}
}
