package connmgr

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/metrics"
)

// Operation is a unit of work executed against a live endpoint. The manager
// decides which endpoint URL the operation receives.
type Operation func(ctx context.Context, endpointURL string) error

// Config holds the resilience parameters of a connection manager
type Config struct {
	Endpoints        []string
	FallbackURL      string
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	ProbeInterval    time.Duration
}

// Manager routes operations across a pool of RPC endpoints with retry,
// backoff, circuit breaking and failover. All network calls of the payment
// verification pipeline go through a Manager.
type Manager struct {
	network   string
	netLabel  logger.Network
	cfg       Config
	endpoints []*Endpoint
	logger    logger.Logger

	mu      sync.Mutex
	current int
}

// NewManager creates a connection manager for one network
func NewManager(network string, netLabel logger.Network, cfg Config, log logger.Logger) *Manager {
	endpoints := make([]*Endpoint, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		endpoints = append(endpoints, newEndpoint(url, cfg.FailureThreshold, cfg.SuccessThreshold, cfg.RecoveryTimeout))
	}
	return &Manager{
		network:   network,
		netLabel:  netLabel,
		cfg:       cfg,
		endpoints: endpoints,
		logger:    log,
	}
}

// Execute runs the operation with retry, exponential backoff and endpoint
// failover. The fallback connection, if configured, is only used on the
// final attempt when no pool endpoint qualifies.
func (m *Manager) Execute(ctx context.Context, opName string, op Operation) error {
	var lastErr error

	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := m.waitBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		endpoint := m.pickEndpoint()
		if endpoint == nil {
			final := attempt == m.cfg.MaxRetries-1
			if final && m.cfg.FallbackURL != "" {
				m.logger.NoticeWithNetwork(m.netLabel, "No usable pool endpoint for %s, trying fallback connection", opName)
				metrics.FallbackCalls.WithLabelValues(m.network).Inc()
				if err := op(ctx, m.cfg.FallbackURL); err != nil {
					// The fallback was the last resort; surface the
					// degraded-service sentinel to callers
					return fmt.Errorf("%s: %w: fallback failed: %v", opName, ErrAllProvidersUnavailable, err)
				}
				return nil
			}
			if lastErr == nil {
				lastErr = ErrAllProvidersUnavailable
			}
			continue
		}

		start := time.Now()
		err := op(ctx, endpoint.URL)
		if err == nil {
			endpoint.recordSuccess(time.Since(start))
			return nil
		}
		lastErr = err

		if ClassifyError(err) == ClassPermanent {
			m.logger.ErrorWithNetwork(m.netLabel, "Permanent connectivity failure on %s during %s: %v", endpoint.URL, opName, err)
			endpoint.recordPermanentFailure()
			metrics.EndpointFailures.WithLabelValues(m.network, "permanent").Inc()
			return fmt.Errorf("%s: permanent connectivity failure on %s: %w", opName, endpoint.URL, err)
		}

		m.logger.DebugWithNetwork(m.netLabel, "Retryable failure on %s during %s (attempt %d/%d): %v",
			endpoint.URL, opName, attempt+1, m.cfg.MaxRetries, err)
		endpoint.recordFailure()
		metrics.EndpointFailures.WithLabelValues(m.network, "transient").Inc()
	}

	if lastErr == ErrAllProvidersUnavailable {
		return fmt.Errorf("%s: %w", opName, ErrAllProvidersUnavailable)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", opName, m.cfg.MaxRetries, lastErr)
}

// pickEndpoint selects the current endpoint if usable, otherwise scans
// forward (wrapping) for the next usable one. Returns nil when no pool
// endpoint qualifies.
func (m *Manager) pickEndpoint() *Endpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.endpoints)
	for i := 0; i < n; i++ {
		idx := (m.current + i) % n
		if m.endpoints[idx].usable() {
			if idx != m.current {
				m.logger.InfoWithNetwork(m.netLabel, "Failing over from %s to %s",
					m.endpoints[m.current].URL, m.endpoints[idx].URL)
				metrics.EndpointFailovers.WithLabelValues(m.network).Inc()
				m.current = idx
			}
			return m.endpoints[idx]
		}
	}
	return nil
}

// waitBackoff sleeps for the exponential backoff delay of the given attempt,
// with up to 10% random jitter, honoring context cancellation
func (m *Manager) waitBackoff(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(m.cfg.BaseDelay) * math.Pow(m.cfg.BackoffFactor, float64(attempt-1)))
	if delay > m.cfg.MaxDelay {
		delay = m.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/10 + 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay + jitter):
		return nil
	}
}

// StartHealthProbes runs a background task probing every pool endpoint on a
// fixed interval, regardless of circuit state, until the context is
// cancelled. The probe operation should be a cheap liveness call such as
// fetching the latest block height.
func (m *Manager) StartHealthProbes(ctx context.Context, probe Operation) {
	go func() {
		m.logger.InfoWithNetwork(m.netLabel, "Health probe task started (interval %v)", m.cfg.ProbeInterval)
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				m.logger.InfoWithNetwork(m.netLabel, "Health probe task shutting down")
				return
			case <-ticker.C:
				m.probeAll(ctx, probe)
			}
		}
	}()
}

func (m *Manager) probeAll(ctx context.Context, probe Operation) {
	for _, endpoint := range m.endpoints {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		start := time.Now()
		err := probe(probeCtx, endpoint.URL)
		cancel()

		if err != nil {
			m.logger.DebugWithNetwork(m.netLabel, "Health probe failed for %s: %v", endpoint.URL, err)
			if ClassifyError(err) == ClassPermanent {
				endpoint.recordPermanentFailure()
			} else {
				endpoint.recordFailure()
			}
			continue
		}
		endpoint.recordSuccess(time.Since(start))
	}
	m.updateMetrics()
}

func (m *Manager) updateMetrics() {
	snapshot := m.Snapshot()
	metrics.HealthyEndpoints.WithLabelValues(m.network).Set(float64(snapshot.HealthyCount))
	metrics.OpenCircuits.WithLabelValues(m.network).Set(float64(snapshot.OpenCircuits))
}

// ResetCircuit manually closes the circuit of the endpoint with the given
// URL. Returns false if the URL is not in the pool.
func (m *Manager) ResetCircuit(url string) bool {
	for _, endpoint := range m.endpoints {
		if endpoint.URL == url {
			endpoint.breaker.Reset()
			endpoint.mu.Lock()
			endpoint.healthy = true
			endpoint.errorRate = 0
			endpoint.mu.Unlock()
			return true
		}
	}
	return false
}

// Snapshot is a point-in-time health view of the whole pool
type Snapshot struct {
	Network           string           `json:"network"`
	Status            string           `json:"status"`
	TotalEndpoints    int              `json:"total_endpoints"`
	HealthyCount      int              `json:"healthy_count"`
	OpenCircuits      int              `json:"open_circuits"`
	CurrentEndpoint   string           `json:"current_endpoint"`
	FallbackAvailable bool             `json:"fallback_available"`
	Endpoints         []EndpointStatus `json:"endpoints"`
}

// Snapshot returns the health snapshot of the pool. Overall status is
// "healthy" when at least one usable path exists, "degraded" otherwise.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	current := ""
	if len(m.endpoints) > 0 {
		current = m.endpoints[m.current].URL
	}
	m.mu.Unlock()

	snapshot := Snapshot{
		Network:           m.network,
		TotalEndpoints:    len(m.endpoints),
		CurrentEndpoint:   current,
		FallbackAvailable: m.cfg.FallbackURL != "",
	}

	usable := false
	for _, endpoint := range m.endpoints {
		status := endpoint.status()
		snapshot.Endpoints = append(snapshot.Endpoints, status)
		if status.Healthy {
			snapshot.HealthyCount++
		}
		if status.CircuitOpen {
			snapshot.OpenCircuits++
		}
		if endpoint.usable() {
			usable = true
		}
	}

	if usable || snapshot.FallbackAvailable {
		snapshot.Status = "healthy"
	} else {
		snapshot.Status = "degraded"
	}
	return snapshot
}
