package connmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
)

func testConfig(endpoints ...string) Config {
	return Config{
		Endpoints:        endpoints,
		MaxRetries:       3,
		BaseDelay:        time.Millisecond,
		MaxDelay:         5 * time.Millisecond,
		BackoffFactor:    2.0,
		FailureThreshold: 3,
		SuccessThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		ProbeInterval:    10 * time.Millisecond,
	}
}

// callRecorder records which endpoint each attempt hit
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) record(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, url)
}

func (r *callRecorder) urls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	mgr := NewManager("xrpl", logger.Xrpl, testConfig("http://a", "http://b"), &logger.EmptyLogger{})

	recorder := &callRecorder{}
	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		recorder.record(endpointURL)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"http://a"}, recorder.urls())
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	mgr := NewManager("xrpl", logger.Xrpl, testConfig("http://a"), &logger.EmptyLogger{})

	attempts := 0
	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	cfg := testConfig("http://a", "http://b")
	mgr := NewManager("xrpl", logger.Xrpl, cfg, &logger.EmptyLogger{})

	attempts := 0
	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		attempts++
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "test_op failed after 3 attempts")
	assert.Equal(t, cfg.MaxRetries, attempts)
}

func TestCircuitOpensAfterThresholdAndSkipsEndpoint(t *testing.T) {
	mgr := NewManager("xrpl", logger.Xrpl, testConfig("http://a", "http://b"), &logger.EmptyLogger{})

	recorder := &callRecorder{}
	// All three retries land on endpoint A and fail, which opens its circuit
	_ = mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		recorder.record(endpointURL)
		return errors.New("connection reset")
	})
	assert.Equal(t, []string{"http://a", "http://a", "http://a"}, recorder.urls())

	// Within the recovery timeout subsequent calls never select A
	recorder = &callRecorder{}
	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		recorder.record(endpointURL)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://b"}, recorder.urls())
}

func TestPermanentErrorFailsImmediatelyAndTripsCircuit(t *testing.T) {
	mgr := NewManager("flare", logger.Flare, testConfig("http://a", "http://b"), &logger.EmptyLogger{})

	attempts := 0
	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		attempts++
		return errors.New("request blocked by CORS policy")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")

	snapshot := mgr.Snapshot()
	assert.Equal(t, 1, snapshot.OpenCircuits)
	assert.Equal(t, 1, snapshot.HealthyCount)
}

func TestFallbackUsedOnlyOnFinalAttempt(t *testing.T) {
	cfg := testConfig("http://a")
	cfg.FallbackURL = "http://fallback"
	mgr := NewManager("xrpl", logger.Xrpl, cfg, &logger.EmptyLogger{})

	// Open A's circuit
	_ = mgr.Execute(context.Background(), "warmup", func(ctx context.Context, endpointURL string) error {
		return errors.New("connection refused")
	})

	recorder := &callRecorder{}
	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		recorder.record(endpointURL)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"http://fallback"}, recorder.urls())
}

func TestAllProvidersUnavailable(t *testing.T) {
	mgr := NewManager("xrpl", logger.Xrpl, testConfig("http://a"), &logger.EmptyLogger{})

	// Exhaust A without a fallback configured
	_ = mgr.Execute(context.Background(), "warmup", func(ctx context.Context, endpointURL string) error {
		return errors.New("connection refused")
	})

	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)
}

func TestFallbackFailureSignalsAllProvidersUnavailable(t *testing.T) {
	cfg := testConfig("http://a")
	cfg.FallbackURL = "http://fallback"
	mgr := NewManager("xrpl", logger.Xrpl, cfg, &logger.EmptyLogger{})

	// Open A's circuit
	_ = mgr.Execute(context.Background(), "warmup", func(ctx context.Context, endpointURL string) error {
		return errors.New("connection refused")
	})

	recorder := &callRecorder{}
	err := mgr.Execute(context.Background(), "test_op", func(ctx context.Context, endpointURL string) error {
		recorder.record(endpointURL)
		return errors.New("connection refused")
	})

	require.Error(t, err)
	assert.Equal(t, []string{"http://fallback"}, recorder.urls())
	// The fallback was the last resort, so callers see the degraded signal
	assert.ErrorIs(t, err, ErrAllProvidersUnavailable)
}

func TestResetCircuitRestoresEndpoint(t *testing.T) {
	mgr := NewManager("xrpl", logger.Xrpl, testConfig("http://a", "http://b"), &logger.EmptyLogger{})

	_ = mgr.Execute(context.Background(), "warmup", func(ctx context.Context, endpointURL string) error {
		return errors.New("connection refused")
	})
	require.Equal(t, 1, mgr.Snapshot().OpenCircuits)

	assert.False(t, mgr.ResetCircuit("http://unknown"))
	assert.True(t, mgr.ResetCircuit("http://a"))
	assert.Equal(t, 0, mgr.Snapshot().OpenCircuits)
	assert.Equal(t, 2, mgr.Snapshot().HealthyCount)
}

func TestSnapshotDegradedWhenNothingUsable(t *testing.T) {
	mgr := NewManager("oracle", logger.Oracle, testConfig("http://a"), &logger.EmptyLogger{})

	for i := 0; i < 3; i++ {
		mgr.endpoints[0].recordFailure()
	}

	snapshot := mgr.Snapshot()
	assert.Equal(t, "degraded", snapshot.Status)
	assert.Equal(t, 0, snapshot.HealthyCount)
	assert.False(t, snapshot.FallbackAvailable)
}

func TestSnapshotHealthyWithFallbackOnly(t *testing.T) {
	cfg := testConfig("http://a")
	cfg.FallbackURL = "http://fallback"
	mgr := NewManager("oracle", logger.Oracle, cfg, &logger.EmptyLogger{})

	for i := 0; i < 3; i++ {
		mgr.endpoints[0].recordFailure()
	}

	assert.Equal(t, "healthy", mgr.Snapshot().Status)
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	cfg := testConfig("http://a")
	cfg.BaseDelay = time.Second
	mgr := NewManager("xrpl", logger.Xrpl, cfg, &logger.EmptyLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := mgr.Execute(ctx, "test_op", func(ctx context.Context, endpointURL string) error {
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"cors", errors.New("request blocked by CORS policy"), ClassPermanent},
		{"cross origin", errors.New("cross-origin request denied"), ClassPermanent},
		{"access control", errors.New("access control checks failed"), ClassPermanent},
		{"rate limited", errors.New("unexpected status code: 429"), ClassRetryable},
		{"bad gateway", errors.New("502 bad gateway"), ClassRetryable},
		{"service unavailable", errors.New("service unavailable"), ClassRetryable},
		{"connection refused", errors.New("dial tcp: connection refused"), ClassRetryable},
		{"deadline", errors.New("context deadline exceeded"), ClassRetryable},
		{"eof", errors.New("unexpected EOF"), ClassRetryable},
		{"rpc internal", errors.New("rpc error -32603"), ClassRetryable},
		{"unknown", errors.New("something odd happened"), ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
