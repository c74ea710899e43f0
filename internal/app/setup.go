package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/breaker"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/evaluator"
	"github.com/perennialfi/autopilot/internal/feed"
	"github.com/perennialfi/autopilot/internal/ledger"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/internal/relayer"
	"github.com/perennialfi/autopilot/internal/reporting"
	"github.com/perennialfi/autopilot/internal/router"
	"github.com/perennialfi/autopilot/internal/storage"
	"github.com/perennialfi/autopilot/pkg/cache"
	"github.com/perennialfi/autopilot/pkg/config"
	"github.com/perennialfi/autopilot/pkg/healthprobe"
	"github.com/perennialfi/autopilot/pkg/httpserver"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/perennialfi/autopilot/pkg/wallet"
	"go.uber.org/zap"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	healthChecker := setupHealthChecker()

	signer, err := setupSigner(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup signer: %w", err)
	}

	user := signer.Address()
	if opts.User != "" {
		if !common.IsHexAddress(opts.User) {
			cancel()
			return nil, fmt.Errorf("invalid user address %q", opts.User)
		}
		user = common.HexToAddress(opts.User)
	} else if cfg.UserAddress != "" {
		if !common.IsHexAddress(cfg.UserAddress) {
			cancel()
			return nil, fmt.Errorf("invalid USER_ADDRESS %q", cfg.UserAddress)
		}
		user = common.HexToAddress(cfg.UserAddress)
	}

	store, err := setupStorage(cfg, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	snapshotCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	feedClient, err := setupFeedClient(cfg, logger, snapshotCache)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup feed client: %w", err)
	}

	feedStream, err := setupFeedStream(cfg, logger, feedClient)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup feed stream: %w", err)
	}

	relayerClient, err := relayer.NewClient(&relayer.Config{
		BaseURL:      cfg.RelayerBaseURL,
		PausedChains: cfg.RelayerPausedChains,
		Timeout:      cfg.RelayerTimeout,
		Logger:       logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup relayer client: %w", err)
	}

	policies, err := policy.NewManager(store, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup policy manager: %w", err)
	}

	brk, err := breaker.New(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup breaker: %w", err)
	}

	delegations, err := delegation.NewManager(&delegation.Config{
		Signer:          signer,
		Relayer:         relayerClient,
		PermissionStore: store,
		NonceStore:      store,
		Gate:            brk,
		Forwarders:      cfg.ForwarderAddresses,
		AuthDeadline:    cfg.AuthDeadline,
		Logger:          logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup delegation manager: %w", err)
	}

	eval, err := evaluator.New(&evaluator.Config{
		Feed:                 feedClient,
		Policies:             policies,
		MinCalmarImprovement: cfg.EvalMinCalmarImprovement,
		MinTVL:               cfg.EvalMinTVL,
		MaxRiskDelta:         cfg.EvalMaxRiskDelta,
		MaxCandidates:        cfg.EvalMaxCandidates,
		MinPositionAge:       cfg.EvalMinPositionAge,
		StaleAfter:           cfg.FeedStaleAfter,
		Logger:               logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup evaluator: %w", err)
	}

	led, err := ledger.New(store, cfg.LedgerRevertWindow, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup ledger: %w", err)
	}

	reporter, err := reporting.NewReporter(&reporting.Config{
		BaseURL: cfg.ReportingBaseURL,
		Logger:  logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup reporter: %w", err)
	}

	rtr, err := router.New(&router.Config{
		Signer:     signer,
		Authorizer: delegations,
		Submitter:  relayerClient,
		Policies:   policies,
		Verifier:   eval,
		Perms:      store,
		Ledger:     led,
		Reporter:   reporter,
		Gate:       brk,
		Token:      common.HexToAddress(cfg.TokenAddress),
		Logger:     logger,
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	httpServer := setupHTTPServer(cfg, logger, healthChecker, eval, brk, led)

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		store:         store,
		signer:        signer,
		relayerClient: relayerClient,
		feedClient:    feedClient,
		feedStream:    feedStream,
		policies:      policies,
		breaker:       brk,
		delegations:   delegations,
		evaluator:     eval,
		ledger:        led,
		router:        rtr,
		user:          user,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupSigner(cfg *config.Config, logger *zap.Logger) (wallet.Signer, error) {
	if cfg.WalletPrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY is required")
	}
	if cfg.WalletRPCURL == "" {
		return nil, fmt.Errorf("WALLET_RPC_URL is required")
	}

	return wallet.NewLocalSigner(cfg.WalletPrivateKey, cfg.WalletRPCURL, logger)
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pg, err := storage.NewPostgres(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pg, nil
	}

	return storage.NewMemory(), nil
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000, // 10x expected max cached snapshot sets
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
}

func setupFeedClient(cfg *config.Config, logger *zap.Logger, snapshotCache cache.Cache) (*feed.Client, error) {
	return feed.NewClient(&feed.ClientConfig{
		BaseURL:  cfg.FeedBaseURL,
		Cache:    snapshotCache,
		CacheTTL: cfg.FeedCacheTTL,
		Logger:   logger,
	})
}

func setupFeedStream(cfg *config.Config, logger *zap.Logger, client *feed.Client) (*feed.Stream, error) {
	handler := func(snap types.VenueSnapshot) {
		logger.Debug("venue-update-received",
			zap.String("venue", snap.Venue.Hex()),
			zap.String("asset", snap.Asset),
			zap.Float64("apy", snap.APY))
	}

	return feed.NewStream(feed.StreamConfig{
		URL:               cfg.FeedStreamURL,
		InitialDelay:      cfg.StreamReconnectInitialDelay,
		MaxDelay:          cfg.StreamReconnectMaxDelay,
		BackoffMultiplier: cfg.StreamReconnectBackoffMult,
		JitterPercent:     cfg.StreamReconnectJitter,
		Logger:            logger,
	}, client, handler)
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	eval *evaluator.Evaluator,
	brk *breaker.Breaker,
	led *ledger.Ledger,
) *httpserver.Server {
	return httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Evaluator:     eval,
		Breaker:       brk,
		Ledger:        led,
	})
}
