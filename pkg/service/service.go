// Package service wires the verification pipeline together and runs its
// background tasks.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medbridge-hq/medbridge-verifier/pkg/access"
	"github.com/medbridge-hq/medbridge-verifier/pkg/api"
	"github.com/medbridge-hq/medbridge-verifier/pkg/attestation"
	"github.com/medbridge-hq/medbridge-verifier/pkg/config"
	"github.com/medbridge-hq/medbridge-verifier/pkg/connmgr"
	"github.com/medbridge-hq/medbridge-verifier/pkg/flare"
	"github.com/medbridge-hq/medbridge-verifier/pkg/health"
	"github.com/medbridge-hq/medbridge-verifier/pkg/intent"
	"github.com/medbridge-hq/medbridge-verifier/pkg/logger"
	"github.com/medbridge-hq/medbridge-verifier/pkg/store"
	"github.com/medbridge-hq/medbridge-verifier/pkg/xrpl"
)

// Service runs the payment verification and access grant pipeline
type Service struct {
	config    *config.Config
	logger    logger.Logger
	dataStore store.Store
	intents   *intent.Manager
	authority *access.Authority

	xrplClient  *xrpl.Client
	flareClient *flare.Client
	requester   *attestation.Requester
	managers    map[string]*connmgr.Manager

	apiServer    *api.Server
	healthServer *health.Server
}

// NewService creates the verifier service from configuration
func NewService(cfg *config.Config) (*Service, error) {
	log := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	var dataStore store.Store
	if cfg.DataDir != "" {
		levelStore, err := store.NewLevelDBStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		dataStore = levelStore
		log.Info("Using LevelDB store at %s", cfg.DataDir)
	} else {
		dataStore = store.NewMemoryStore()
		log.Notice("DATA_DIR not set, using in-memory store")
	}

	connCfg := func(network config.NetworkConfig) connmgr.Config {
		return connmgr.Config{
			Endpoints:        network.Endpoints,
			FallbackURL:      network.FallbackURL,
			MaxRetries:       cfg.Connection.MaxRetries,
			BaseDelay:        cfg.Connection.BaseDelay,
			MaxDelay:         cfg.Connection.MaxDelay,
			BackoffFactor:    cfg.Connection.BackoffFactor,
			FailureThreshold: cfg.Connection.FailureThreshold,
			SuccessThreshold: cfg.Connection.SuccessThreshold,
			RecoveryTimeout:  cfg.Connection.RecoveryTimeout,
			ProbeInterval:    cfg.Connection.ProbeInterval,
		}
	}

	xrplMgr := connmgr.NewManager("xrpl", logger.Xrpl, connCfg(cfg.XRPL), log)
	flareMgr := connmgr.NewManager("flare", logger.Flare, connCfg(cfg.Flare), log)
	oracleMgr := connmgr.NewManager("oracle", logger.Oracle, connCfg(config.NetworkConfig{Endpoints: cfg.Oracle.Endpoints}), log)

	xrplClient := xrpl.NewClient(xrplMgr, cfg.XRPL.WalletSeed, log)
	flareClient := flare.NewClient(flareMgr, cfg.Flare.VerifierAddress, log)
	requester := attestation.NewRequester(oracleMgr, cfg.Oracle.APIKey, cfg.Oracle.PollInterval, cfg.Oracle.MaxPollAttempts, log)

	authority := access.NewAuthority(dataStore, cfg.Grant.TTL, uuid.NewString, log)

	intents := intent.NewManager(
		dataStore,
		xrplClient,
		requester,
		flareClient,
		authority,
		&intent.FixedRateSource{PriceUSD: cfg.Intent.XRPPriceUSD},
		uuid.NewString,
		cfg.Intent.TTL,
		cfg.Intent.DestinationWallet,
		log,
	)

	managers := map[string]*connmgr.Manager{
		"xrpl":   xrplMgr,
		"flare":  flareMgr,
		"oracle": oracleMgr,
	}

	return &Service{
		config:       cfg,
		logger:       log,
		dataStore:    dataStore,
		intents:      intents,
		authority:    authority,
		xrplClient:   xrplClient,
		flareClient:  flareClient,
		requester:    requester,
		managers:     managers,
		apiServer:    api.NewServer(cfg.APIPort, intents, authority, log),
		healthServer: health.NewServer(cfg.MetricsPort, managers),
	}, nil
}

// Intents returns the payment intent manager
func (s *Service) Intents() *intent.Manager {
	return s.intents
}

// Authority returns the access grant authority
func (s *Service) Authority() *access.Authority {
	return s.authority
}

// Start runs the service until the context is cancelled
func (s *Service) Start(ctx context.Context) {
	// Health probes keep endpoint state fresh and feed circuit recovery
	s.xrplClient.Manager().StartHealthProbes(ctx, s.xrplClient.Probe)
	s.flareClient.Manager().StartHealthProbes(ctx, s.flareClient.Probe)
	s.requester.Manager().StartHealthProbes(ctx, s.requester.Probe)

	// Ops and API servers
	go s.healthServer.Start(ctx)
	go s.apiServer.Start(ctx)

	s.logger.Info("Starting expiry sweep with interval %v", s.config.Intent.SweepInterval)
	ticker := time.NewTicker(s.config.Intent.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, shutting down service")
			if err := s.dataStore.Close(); err != nil {
				s.logger.Error("Error closing store: %v", err)
			}
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep expires intents and grants past their deadlines
func (s *Service) sweep() {
	now := time.Now().UTC()

	sweptIntents, err := s.intents.SweepExpired(now)
	if err != nil {
		s.logger.Error("Intent expiry sweep failed: %v", err)
	} else if sweptIntents > 0 {
		s.logger.Info("Expired %d payment intents", sweptIntents)
	}

	if _, err := s.authority.SweepExpired(now); err != nil {
		s.logger.Error("Grant expiry sweep failed: %v", err)
	}
}
