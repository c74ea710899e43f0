package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string
	ChainID  int64

	// Wallet
	WalletPrivateKey string
	WalletRPCURL     string
	UserAddress      string

	// Data feed
	FeedBaseURL    string
	FeedStreamURL  string
	FeedCacheTTL   time.Duration
	FeedStaleAfter time.Duration

	// Feed stream reconnection
	StreamReconnectInitialDelay time.Duration
	StreamReconnectMaxDelay     time.Duration
	StreamReconnectBackoffMult  float64
	StreamReconnectJitter       float64

	// Relayer
	RelayerBaseURL      string
	RelayerTimeout      time.Duration
	RelayerPausedChains []int64

	// Reporting
	ReportingBaseURL string

	// Evaluation
	EvalInterval             time.Duration
	EvalMinCalmarImprovement float64 // Relative: 0.10 = candidate Calmar 10% above current
	EvalMinTVL               float64 // USD
	EvalMaxRiskDelta         float64 // 0..10 risk-score points above the current venue
	EvalMaxCandidates        int
	EvalMinPositionAge       time.Duration

	// Delegation
	AuthDeadline       time.Duration
	ForwarderAddresses map[int64]common.Address
	TokenAddress       string
	TokenDecimals      int

	// Safety
	LedgerRevertWindow   time.Duration
	BreakerCheckInterval time.Duration

	// Storage
	StorageMode  string // "postgres" or "memory"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	forwarders, err := parseForwarders(getEnvOrDefault("FORWARDER_ADDRESSES", ""))
	if err != nil {
		return nil, fmt.Errorf("parse FORWARDER_ADDRESSES: %w", err)
	}

	pausedChains, err := parseChainList(getEnvOrDefault("RELAYER_PAUSED_CHAINS", ""))
	if err != nil {
		return nil, fmt.Errorf("parse RELAYER_PAUSED_CHAINS: %w", err)
	}

	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),
		ChainID:  int64(getIntOrDefault("CHAIN_ID", 137)),

		// Wallet
		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),
		WalletRPCURL:     os.Getenv("WALLET_RPC_URL"),
		UserAddress:      os.Getenv("USER_ADDRESS"),

		// Data feed defaults
		FeedBaseURL:    getEnvOrDefault("FEED_BASE_URL", "https://feed.perennial.fi"),
		FeedStreamURL:  getEnvOrDefault("FEED_STREAM_URL", "wss://feed.perennial.fi/v1/stream"),
		FeedCacheTTL:   getDurationOrDefault("FEED_CACHE_TTL", 1*time.Minute),
		FeedStaleAfter: getDurationOrDefault("FEED_STALE_AFTER", 10*time.Minute),

		// Stream reconnection defaults
		StreamReconnectInitialDelay: getDurationOrDefault("STREAM_RECONNECT_INITIAL_DELAY", 1*time.Second),
		StreamReconnectMaxDelay:     getDurationOrDefault("STREAM_RECONNECT_MAX_DELAY", 30*time.Second),
		StreamReconnectBackoffMult:  getFloat64OrDefault("STREAM_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		StreamReconnectJitter:       getFloat64OrDefault("STREAM_RECONNECT_JITTER", 0.2),

		// Relayer defaults
		RelayerBaseURL:      getEnvOrDefault("RELAYER_BASE_URL", "https://relayer.perennial.fi"),
		RelayerTimeout:      getDurationOrDefault("RELAYER_TIMEOUT", 30*time.Second),
		RelayerPausedChains: pausedChains,

		// Reporting defaults
		ReportingBaseURL: getEnvOrDefault("REPORTING_BASE_URL", "https://api.perennial.fi"),

		// Evaluation defaults
		EvalInterval:             getDurationOrDefault("EVAL_INTERVAL", 5*time.Minute),
		EvalMinCalmarImprovement: getFloat64OrDefault("EVAL_MIN_CALMAR_IMPROVEMENT", 0.10),
		EvalMinTVL:               getFloat64OrDefault("EVAL_MIN_TVL", 1_000_000),
		EvalMaxRiskDelta:         getFloat64OrDefault("EVAL_MAX_RISK_DELTA", 2.0),
		EvalMaxCandidates:        getIntOrDefault("EVAL_MAX_CANDIDATES", 3),
		EvalMinPositionAge:       getDurationOrDefault("EVAL_MIN_POSITION_AGE", 24*time.Hour),

		// Delegation defaults
		AuthDeadline:       getDurationOrDefault("AUTH_DEADLINE", 5*time.Minute),
		ForwarderAddresses: forwarders,
		TokenAddress:       os.Getenv("TOKEN_ADDRESS"),
		TokenDecimals:      getIntOrDefault("TOKEN_DECIMALS", 6),

		// Safety defaults
		LedgerRevertWindow:   getDurationOrDefault("LEDGER_REVERT_WINDOW", 15*time.Minute),
		BreakerCheckInterval: getDurationOrDefault("BREAKER_CHECK_INTERVAL", 10*time.Second),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "memory"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "autopilot"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "autopilot123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "autopilot"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive, got %d", c.ChainID)
	}

	if c.FeedBaseURL == "" {
		return fmt.Errorf("FEED_BASE_URL cannot be empty")
	}

	if c.RelayerBaseURL == "" {
		return fmt.Errorf("RELAYER_BASE_URL cannot be empty")
	}

	if c.EvalMinCalmarImprovement <= 0 {
		return fmt.Errorf("EVAL_MIN_CALMAR_IMPROVEMENT must be positive, got %f", c.EvalMinCalmarImprovement)
	}

	if c.EvalMaxRiskDelta <= 0 {
		return fmt.Errorf("EVAL_MAX_RISK_DELTA must be positive, got %f", c.EvalMaxRiskDelta)
	}

	if c.EvalMaxCandidates <= 0 {
		return fmt.Errorf("EVAL_MAX_CANDIDATES must be positive, got %d", c.EvalMaxCandidates)
	}

	if c.AuthDeadline <= 0 {
		return fmt.Errorf("AUTH_DEADLINE must be positive, got %s", c.AuthDeadline)
	}

	if c.LedgerRevertWindow <= 0 {
		return fmt.Errorf("LEDGER_REVERT_WINDOW must be positive, got %s", c.LedgerRevertWindow)
	}

	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS must be between 0 and 36, got %d", c.TokenDecimals)
	}

	if c.StorageMode != "postgres" && c.StorageMode != "memory" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'memory', got %q", c.StorageMode)
	}

	return nil
}

// parseForwarders parses "137=0xabc...,8453=0xdef..." into a per-chain map.
func parseForwarders(raw string) (map[int64]common.Address, error) {
	forwarders := make(map[int64]common.Address)
	if raw == "" {
		return forwarders, nil
	}

	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed forwarder entry %q, want chainID=address", pair)
		}

		chainID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain ID %q: %w", parts[0], err)
		}
		if !common.IsHexAddress(parts[1]) {
			return nil, fmt.Errorf("invalid forwarder address %q for chain %d", parts[1], chainID)
		}

		forwarders[chainID] = common.HexToAddress(parts[1])
	}

	return forwarders, nil
}

// parseChainList parses a comma-separated chain ID list.
func parseChainList(raw string) ([]int64, error) {
	if raw == "" {
		return nil, nil
	}

	var chains []int64
	for _, part := range strings.Split(raw, ",") {
		chainID, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid chain ID %q: %w", part, err)
		}
		chains = append(chains, chainID)
	}

	return chains, nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
