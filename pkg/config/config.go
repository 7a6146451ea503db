package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
)

// Config holds the configuration for the verifier service
type Config struct {
	XRPL         NetworkConfig
	Flare        NetworkConfig
	Oracle       OracleConfig
	Connection   ConnectionConfig
	Intent       IntentConfig
	Grant        GrantConfig
	APIPort      string
	MetricsPort  string
	DataDir      string
	LoggerConfig LoggerConfig
}

// NetworkConfig holds the endpoint pool for one network
type NetworkConfig struct {
	Endpoints []string
	// FallbackURL is a wallet-injected provider used only as a last resort
	// when every pool endpoint is unusable
	FallbackURL string
	// WalletSeed signs source-ledger payment submissions (XRPL only)
	WalletSeed string
	// VerifierAddress is the on-chain contract verifying attestation proofs
	// (Flare only)
	VerifierAddress string
}

// OracleConfig holds the attestation oracle parameters
type OracleConfig struct {
	Endpoints       []string
	APIKey          string
	PollInterval    time.Duration
	MaxPollAttempts int
}

// ConnectionConfig holds retry, backoff and circuit breaker parameters
// shared by all connection managers
type ConnectionConfig struct {
	MaxRetries       int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	FailureThreshold int
	SuccessThreshold int
	RecoveryTimeout  time.Duration
	ProbeInterval    time.Duration
}

// IntentConfig holds payment intent parameters
type IntentConfig struct {
	TTL time.Duration
	// DestinationWallet receives record access fees on the source ledger
	DestinationWallet string
	// XRPPriceUSD converts record fees from USD to drops
	XRPPriceUSD float64
	// SweepInterval is how often expired intents and grants are swept
	SweepInterval time.Duration
}

// GrantConfig holds access grant parameters
type GrantConfig struct {
	TTL time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	connection, err := GetEnvConnectionConfig()
	if err != nil {
		return nil, err
	}

	oracle, err := GetEnvOracleConfig()
	if err != nil {
		return nil, err
	}

	intent, err := GetEnvIntentConfig()
	if err != nil {
		return nil, err
	}

	grant, err := GetEnvGrantConfig()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		XRPL:        GetEnvXRPLConfig(),
		Flare:       GetEnvFlareConfig(),
		Oracle:      oracle,
		Connection:  connection,
		Intent:      intent,
		Grant:       grant,
		APIPort:     GetEnvAPIPort(),
		MetricsPort: GetEnvMetricsPort(),
		DataDir:     GetEnvDataDir(),
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if len(cfg.XRPL.Endpoints) == 0 {
		return fmt.Errorf("at least one XRPL RPC endpoint is required")
	}
	if len(cfg.Flare.Endpoints) == 0 {
		return fmt.Errorf("at least one Flare RPC endpoint is required")
	}
	if len(cfg.Oracle.Endpoints) == 0 {
		return fmt.Errorf("at least one oracle endpoint is required")
	}
	if cfg.Intent.DestinationWallet == "" {
		return fmt.Errorf("DESTINATION_WALLET environment variable is required")
	}
	if cfg.Intent.XRPPriceUSD <= 0 {
		return fmt.Errorf("XRP_PRICE_USD must be positive")
	}
	return nil
}
