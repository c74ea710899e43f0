package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/perennialfi/autopilot/internal/policy"
	"github.com/perennialfi/autopilot/internal/storage"
	"github.com/perennialfi/autopilot/pkg/config"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var setPolicyCmd = &cobra.Command{
	Use:   "set-policy",
	Short: "Create or replace the user's target policy",
	Long: `Stores a new policy version for the user. The policy declares the
target APY, tolerated drawdown, risk tier, autonomy level and the spend
ceiling per permission window. Every update bumps the policy version;
repair candidates generated under older versions are invalidated.

Risk tiers: fortress, balanced, speculative.
Autonomy levels: notify_only, approve_each, auto_bounded, auto_spend.`,
	RunE: runSetPolicy,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(setPolicyCmd)
	setPolicyCmd.Flags().StringP("user", "u", "", "User address (defaults to USER_ADDRESS)")
	setPolicyCmd.Flags().Float64("target-apy", 0, "Target APY in percentage points (required)")
	setPolicyCmd.Flags().Float64("max-drawdown", 0, "Maximum tolerated drawdown in percentage points (required)")
	setPolicyCmd.Flags().String("risk-tier", "balanced", "Risk tier")
	setPolicyCmd.Flags().String("autonomy", "notify_only", "Autonomy level")
	setPolicyCmd.Flags().Float64("spend-limit", 0, "USD spend ceiling per permission window (required)")
	_ = setPolicyCmd.MarkFlagRequired("target-apy")
	_ = setPolicyCmd.MarkFlagRequired("max-drawdown")
	_ = setPolicyCmd.MarkFlagRequired("spend-limit")
}

func runSetPolicy(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: .env file not found\n")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	userFlag, _ := cmd.Flags().GetString("user")
	if userFlag == "" {
		userFlag = cfg.UserAddress
	}
	if !common.IsHexAddress(userFlag) {
		return fmt.Errorf("a valid --user address (or USER_ADDRESS) is required")
	}
	user := common.HexToAddress(userFlag)

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
			return fmt.Errorf("create postgres storage: %w", err)
		}
	} else {
		store = storage.NewMemory()
		fmt.Printf("Warning: STORAGE_MODE=memory, the policy will not outlive this process\n")
	}
	defer func() {
		_ = store.Close()
	}()

	policies, err := policy.NewManager(store, logger)
	if err != nil {
		return fmt.Errorf("create policy manager: %w", err)
	}

	targetAPY, _ := cmd.Flags().GetFloat64("target-apy")
	maxDrawdown, _ := cmd.Flags().GetFloat64("max-drawdown")
	riskTier, _ := cmd.Flags().GetString("risk-tier")
	autonomy, _ := cmd.Flags().GetString("autonomy")
	spendLimit, _ := cmd.Flags().GetFloat64("spend-limit")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stored, err := policies.Update(ctx, policy.Policy{
		User:                user,
		TargetAPY:           targetAPY,
		MaxDrawdown:         maxDrawdown,
		RiskTier:            types.RiskTier(riskTier),
		Autonomy:            types.AutonomyLevel(autonomy),
		SpendLimitPerWindow: spendLimit,
	})
	if err != nil {
		return fmt.Errorf("store policy: %w", err)
	}

	fmt.Printf("=== Policy Stored ===\n\n")
	fmt.Printf("User:         %s\n", user.Hex())
	fmt.Printf("Version:      %d\n", stored.Version)
	fmt.Printf("Target APY:   %.2f%%\n", stored.TargetAPY)
	fmt.Printf("Max drawdown: %.2f%%\n", stored.MaxDrawdown)
	fmt.Printf("Risk tier:    %s\n", stored.RiskTier)
	fmt.Printf("Autonomy:     %s\n", stored.Autonomy)
	fmt.Printf("Spend limit:  $%.2f per window\n", stored.SpendLimitPerWindow)

	return nil
}
