package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/perennialfi/autopilot/pkg/config"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/perennialfi/autopilot/pkg/wallet"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the wallet's token balance",
	Long:  `Reads the configured ERC-20 token balance of the engine wallet.`,
	RunE:  runBalance,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(balanceCmd)
	balanceCmd.Flags().String("token", "", "ERC-20 token address (defaults to TOKEN_ADDRESS)")
}

func runBalance(cmd *cobra.Command, args []string) error {
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

	if cfg.WalletPrivateKey == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY not set in .env")
	}
	if cfg.WalletRPCURL == "" {
		return fmt.Errorf("WALLET_RPC_URL not set in .env")
	}

	signer, err := wallet.NewLocalSigner(cfg.WalletPrivateKey, cfg.WalletRPCURL, logger)
	if err != nil {
		return fmt.Errorf("create signer: %w", err)
	}

	tokenFlag, _ := cmd.Flags().GetString("token")
	if tokenFlag == "" {
		tokenFlag = cfg.TokenAddress
	}
	if !common.IsHexAddress(tokenFlag) {
		return fmt.Errorf("a valid --token address (or TOKEN_ADDRESS) is required")
	}
	token := common.HexToAddress(tokenFlag)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	balance, err := signer.ERC20Balance(ctx, token)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}

	fmt.Printf("Wallet:  %s\n", signer.Address().Hex())
	fmt.Printf("Token:   %s\n", token.Hex())
	fmt.Printf("Balance: %s\n", types.FormatAmount(balance, cfg.TokenDecimals))

	return nil
}
