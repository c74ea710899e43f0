package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
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
	"github.com/perennialfi/autopilot/pkg/wallet"
	"go.uber.org/zap"
)

// engine bundles the components one-shot commands operate on.
type engine struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       storage.Storage
	signer      wallet.Signer
	feed        *feed.Client
	policies    *policy.Manager
	breaker     *breaker.Breaker
	delegations *delegation.Manager
	evaluator   *evaluator.Evaluator
	ledger      *ledger.Ledger
	router      *router.Router
	user        common.Address
}

func (e *engine) close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

// buildEngine loads config and wires the full execution stack. Commands
// that only read feed data should use buildFeed instead; this requires a
// configured wallet.
func buildEngine(userFlag string) (*engine, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	if cfg.WalletPrivateKey == "" {
		return nil, fmt.Errorf("WALLET_PRIVATE_KEY not set in .env")
	}
	if cfg.WalletRPCURL == "" {
		return nil, fmt.Errorf("WALLET_RPC_URL not set in .env")
	}

	signer, err := wallet.NewLocalSigner(cfg.WalletPrivateKey, cfg.WalletRPCURL, logger)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	user := signer.Address()
	if userFlag != "" {
		if !common.IsHexAddress(userFlag) {
			return nil, fmt.Errorf("invalid user address %q", userFlag)
		}
		user = common.HexToAddress(userFlag)
	} else if cfg.UserAddress != "" {
		if !common.IsHexAddress(cfg.UserAddress) {
			return nil, fmt.Errorf("invalid USER_ADDRESS %q", cfg.UserAddress)
		}
		user = common.HexToAddress(cfg.UserAddress)
	}

	var store storage.Storage
	if cfg.StorageMode == "postgres" {
		store, err = storage.NewPostgres(&storage.PostgresConfig{
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
	} else {
		store = storage.NewMemory()
	}

	snapshotCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}

	feedClient, err := feed.NewClient(&feed.ClientConfig{
		BaseURL:  cfg.FeedBaseURL,
		Cache:    snapshotCache,
		CacheTTL: cfg.FeedCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create feed client: %w", err)
	}

	relayerClient, err := relayer.NewClient(&relayer.Config{
		BaseURL:      cfg.RelayerBaseURL,
		PausedChains: cfg.RelayerPausedChains,
		Timeout:      cfg.RelayerTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create relayer client: %w", err)
	}

	policies, err := policy.NewManager(store, logger)
	if err != nil {
		return nil, fmt.Errorf("create policy manager: %w", err)
	}

	brk, err := breaker.New(logger)
	if err != nil {
		return nil, fmt.Errorf("create breaker: %w", err)
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
		return nil, fmt.Errorf("create delegation manager: %w", err)
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
		return nil, fmt.Errorf("create evaluator: %w", err)
	}

	led, err := ledger.New(store, cfg.LedgerRevertWindow, logger)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}

	reporter, err := reporting.NewReporter(&reporting.Config{
		BaseURL: cfg.ReportingBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create reporter: %w", err)
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
		return nil, fmt.Errorf("create router: %w", err)
	}

	return &engine{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		signer:      signer,
		feed:        feedClient,
		policies:    policies,
		breaker:     brk,
		delegations: delegations,
		evaluator:   eval,
		ledger:      led,
		router:      rtr,
		user:        user,
	}, nil
}

// buildFeed wires only the read-side: config, logger and the feed client.
func buildFeed() (*config.Config, *zap.Logger, *feed.Client, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	snapshotCache, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		NumCounters: 10000,
		MaxCost:     1000,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create cache: %w", err)
	}

	feedClient, err := feed.NewClient(&feed.ClientConfig{
		BaseURL:  cfg.FeedBaseURL,
		Cache:    snapshotCache,
		CacheTTL: cfg.FeedCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create feed client: %w", err)
	}

	return cfg, logger, feedClient, nil
}
