package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var grantPermissionCmd = &cobra.Command{
	Use:   "grant-permission",
	Short: "Sign and register a standing spend permission",
	Long: `Signs an EIP-712 spend permission with the local wallet and registers
it with the gas relayer. The permission caps the total amount delegated
repairs may move until it expires or is revoked.

The amount is given in whole tokens and converted using TOKEN_DECIMALS.`,
	RunE: runGrantPermission,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(grantPermissionCmd)
	grantPermissionCmd.Flags().Int64("chain", 0, "Chain ID (defaults to CHAIN_ID)")
	grantPermissionCmd.Flags().String("amount", "", "Maximum spend in whole tokens (required)")
	grantPermissionCmd.Flags().Duration("valid-for", time.Hour, "Permission lifetime")
	_ = grantPermissionCmd.MarkFlagRequired("amount")
}

func runGrantPermission(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine("")
	if err != nil {
		return err
	}
	defer eng.close()

	chainID, _ := cmd.Flags().GetInt64("chain")
	if chainID == 0 {
		chainID = eng.cfg.ChainID
	}

	amountFlag, _ := cmd.Flags().GetString("amount")
	amount, err := parseTokenAmount(amountFlag, eng.cfg.TokenDecimals)
	if err != nil {
		return err
	}

	validFor, _ := cmd.Flags().GetDuration("valid-for")
	token := common.HexToAddress(eng.cfg.TokenAddress)

	fmt.Printf("=== Grant Spend Permission ===\n\n")
	fmt.Printf("Wallet:    %s\n", eng.signer.Address().Hex())
	fmt.Printf("Chain:     %d\n", chainID)
	fmt.Printf("Token:     %s\n", token.Hex())
	fmt.Printf("Max spend: %s tokens\n", amountFlag)
	fmt.Printf("Valid for: %s\n\n", validFor)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	perm, err := eng.delegations.GrantSpendPermission(ctx, chainID, token, amount, validFor)
	if err != nil {
		return fmt.Errorf("grant permission: %w", err)
	}

	fmt.Printf("Permission granted.\n")
	fmt.Printf("  ID:          %s\n", perm.ID)
	fmt.Printf("  Valid until: %s\n", perm.ValidUntil.Format(time.RFC3339))
	fmt.Printf("  Nonce:       %d\n", perm.Nonce)

	return nil
}

// parseTokenAmount converts a decimal token string into the smallest unit.
func parseTokenAmount(raw string, decimals int) (*big.Int, error) {
	amount, err := types.ParseAmount(raw, decimals)
	if err != nil {
		return nil, err
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %s", raw)
	}

	return amount, nil
}
