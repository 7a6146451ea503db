package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
)

const (
	// DefaultMaxRetries defines the maximum number of attempts per routed call
	DefaultMaxRetries = 3

	// DefaultBaseDelayMs defines the base backoff delay in milliseconds
	DefaultBaseDelayMs = 500

	// DefaultMaxDelayMs defines the backoff delay cap in milliseconds
	DefaultMaxDelayMs = 10000

	// DefaultBackoffFactor defines the exponential backoff multiplier
	DefaultBackoffFactor = 2.0

	// DefaultFailureThreshold defines the consecutive failures before a circuit opens
	DefaultFailureThreshold = 3

	// DefaultSuccessThreshold defines the consecutive successes that close an open circuit
	DefaultSuccessThreshold = 3

	// DefaultRecoveryTimeoutSec defines how long a circuit stays open before a half-open trial
	DefaultRecoveryTimeoutSec = 30

	// DefaultProbeIntervalSec defines the health probe interval in seconds
	DefaultProbeIntervalSec = 30

	// DefaultPollIntervalSec defines the attestation poll interval in seconds
	DefaultPollIntervalSec = 10

	// DefaultMaxPollAttempts defines the attestation poll attempt budget
	DefaultMaxPollAttempts = 30

	// DefaultIntentTTLMin defines the payment intent lifetime in minutes
	DefaultIntentTTLMin = 30

	// DefaultGrantTTLDays defines the access grant lifetime in days
	DefaultGrantTTLDays = 30

	// DefaultSweepIntervalMin defines the expiry sweep interval in minutes
	DefaultSweepIntervalMin = 5

	// DefaultXRPPriceUSD defines the USD price of one XRP used for fee conversion
	DefaultXRPPriceUSD = 0.50

	// DefaultAPIPort defines the default port for the access API server
	DefaultAPIPort = "8080"

	// DefaultMetricsPort defines the default port for the health and metrics server
	DefaultMetricsPort = "9090"

	// Network specific values
	// These are the values to use but can still be overridden by environment
	// variables for debugging purposes

	// XRPL

	DefaultXRPLEndpoints = "https://xrplcluster.com,https://s1.ripple.com:51234,https://s2.ripple.com:51234"

	// Flare

	DefaultFlareEndpoints = "https://flare-api.flare.network/ext/C/rpc,https://flare.rpc.thirdweb.com,https://rpc.ftso.au/flare"

	// FdcVerificationAddress is the FDC verification contract on Flare mainnet
	FdcVerificationAddress = "0x39F0e4a54194846F9a4E68cc2a808aA076E6C7a0"

	// Oracle (FDC data availability layer)

	DefaultOracleEndpoints = "https://flr-data-availability.flare.network"
)

// GetEnvXRPLConfig returns the XRPL network configuration from environment variables
func GetEnvXRPLConfig() NetworkConfig {
	return NetworkConfig{
		Endpoints:   getEnvList("XRPL_RPC_URLS", DefaultXRPLEndpoints),
		FallbackURL: os.Getenv("XRPL_FALLBACK_RPC_URL"),
		WalletSeed:  os.Getenv("XRPL_WALLET_SEED"),
	}
}

// GetEnvFlareConfig returns the Flare network configuration from environment variables
func GetEnvFlareConfig() NetworkConfig {
	verifierAddress := os.Getenv("FDC_VERIFICATION_ADDRESS")
	if verifierAddress == "" {
		verifierAddress = FdcVerificationAddress
	}
	return NetworkConfig{
		Endpoints:       getEnvList("FLARE_RPC_URLS", DefaultFlareEndpoints),
		FallbackURL:     os.Getenv("FLARE_FALLBACK_RPC_URL"),
		VerifierAddress: verifierAddress,
	}
}

// GetEnvOracleConfig returns the attestation oracle configuration from environment variables
func GetEnvOracleConfig() (OracleConfig, error) {
	pollInterval, err := getEnvDuration("ATTESTATION_POLL_INTERVAL_SEC", DefaultPollIntervalSec, time.Second)
	if err != nil {
		return OracleConfig{}, err
	}
	maxPollAttempts, err := getEnvInt("ATTESTATION_MAX_POLL_ATTEMPTS", DefaultMaxPollAttempts)
	if err != nil {
		return OracleConfig{}, err
	}
	return OracleConfig{
		Endpoints:       getEnvList("ORACLE_URLS", DefaultOracleEndpoints),
		APIKey:          os.Getenv("ORACLE_API_KEY"),
		PollInterval:    pollInterval,
		MaxPollAttempts: maxPollAttempts,
	}, nil
}

// GetEnvConnectionConfig returns the shared resilience configuration from environment variables
func GetEnvConnectionConfig() (ConnectionConfig, error) {
	maxRetries, err := getEnvInt("MAX_RETRIES", DefaultMaxRetries)
	if err != nil {
		return ConnectionConfig{}, err
	}
	baseDelay, err := getEnvDuration("RETRY_BASE_DELAY_MS", DefaultBaseDelayMs, time.Millisecond)
	if err != nil {
		return ConnectionConfig{}, err
	}
	maxDelay, err := getEnvDuration("RETRY_MAX_DELAY_MS", DefaultMaxDelayMs, time.Millisecond)
	if err != nil {
		return ConnectionConfig{}, err
	}
	backoffFactor, err := getEnvFloat("RETRY_BACKOFF_FACTOR", DefaultBackoffFactor)
	if err != nil {
		return ConnectionConfig{}, err
	}
	failureThreshold, err := getEnvInt("CIRCUIT_BREAKER_THRESHOLD", DefaultFailureThreshold)
	if err != nil {
		return ConnectionConfig{}, err
	}
	successThreshold, err := getEnvInt("CIRCUIT_BREAKER_SUCCESS_THRESHOLD", DefaultSuccessThreshold)
	if err != nil {
		return ConnectionConfig{}, err
	}
	recoveryTimeout, err := getEnvDuration("CIRCUIT_BREAKER_RECOVERY_SEC", DefaultRecoveryTimeoutSec, time.Second)
	if err != nil {
		return ConnectionConfig{}, err
	}
	probeInterval, err := getEnvDuration("HEALTH_PROBE_INTERVAL_SEC", DefaultProbeIntervalSec, time.Second)
	if err != nil {
		return ConnectionConfig{}, err
	}
	return ConnectionConfig{
		MaxRetries:       maxRetries,
		BaseDelay:        baseDelay,
		MaxDelay:         maxDelay,
		BackoffFactor:    backoffFactor,
		FailureThreshold: failureThreshold,
		SuccessThreshold: successThreshold,
		RecoveryTimeout:  recoveryTimeout,
		ProbeInterval:    probeInterval,
	}, nil
}

// GetEnvIntentConfig returns the payment intent configuration from environment variables
func GetEnvIntentConfig() (IntentConfig, error) {
	ttl, err := getEnvDuration("INTENT_TTL_MIN", DefaultIntentTTLMin, time.Minute)
	if err != nil {
		return IntentConfig{}, err
	}
	sweepInterval, err := getEnvDuration("SWEEP_INTERVAL_MIN", DefaultSweepIntervalMin, time.Minute)
	if err != nil {
		return IntentConfig{}, err
	}
	xrpPrice, err := getEnvFloat("XRP_PRICE_USD", DefaultXRPPriceUSD)
	if err != nil {
		return IntentConfig{}, err
	}
	return IntentConfig{
		TTL:               ttl,
		DestinationWallet: os.Getenv("DESTINATION_WALLET"),
		XRPPriceUSD:       xrpPrice,
		SweepInterval:     sweepInterval,
	}, nil
}

// GetEnvGrantConfig returns the access grant configuration from environment variables
func GetEnvGrantConfig() (GrantConfig, error) {
	ttlDays, err := getEnvInt("GRANT_TTL_DAYS", DefaultGrantTTLDays)
	if err != nil {
		return GrantConfig{}, err
	}
	return GrantConfig{
		TTL: time.Duration(ttlDays) * 24 * time.Hour,
	}, nil
}

// GetEnvAPIPort returns the access API port from environment variables
func GetEnvAPIPort() string {
	if port := os.Getenv("API_PORT"); port != "" {
		return port
	}
	return DefaultAPIPort
}

// GetEnvMetricsPort returns the metrics port from environment variables
func GetEnvMetricsPort() string {
	if port := os.Getenv("METRICS_PORT"); port != "" {
		return port
	}
	return DefaultMetricsPort
}

// GetEnvDataDir returns the LevelDB data directory. Empty means the
// in-memory store is used.
func GetEnvDataDir() string {
	return os.Getenv("DATA_DIR")
}

// GetEnvLogLevel returns the configured log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	levelStr := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(levelStr) {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s", levelStr)
	}
}

// GetEnvLogColoring returns whether log coloring is enabled
func GetEnvLogColoring() (bool, error) {
	coloringStr := os.Getenv("LOG_COLORING")
	if coloringStr == "" {
		return true, nil
	}
	coloring, err := strconv.ParseBool(coloringStr)
	if err != nil {
		return false, fmt.Errorf("invalid LOG_COLORING value: %s", coloringStr)
	}
	return coloring, nil
}

func getEnvList(key, defaultValue string) []string {
	value := os.Getenv(key)
	if value == "" {
		value = defaultValue
	}
	parts := strings.Split(value, ",")
	urls := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s", key, value)
	}
	return parsed, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s", key, value)
	}
	return parsed, nil
}

func getEnvDuration(key string, defaultValue int, unit time.Duration) (time.Duration, error) {
	parsed, err := getEnvInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(parsed) * unit, nil
}
