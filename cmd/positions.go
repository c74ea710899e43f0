package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Display the user's current yield positions",
	Long: `Fetches the user's positions from the market data feed and displays
principal, current value, APY and health for each.`,
	RunE: runPositions,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(positionsCmd)
	positionsCmd.Flags().StringP("user", "u", "", "User address (defaults to USER_ADDRESS)")
}

func runPositions(cmd *cobra.Command, args []string) error {
	cfg, logger, feedClient, err := buildFeed()
	if err != nil {
		return err
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	positions, err := feedClient.Positions(ctx, user)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	fmt.Printf("=== Positions for %s ===\n\n", user.Hex())

	if len(positions) == 0 {
		fmt.Printf("No positions found.\n")
		return nil
	}

	for _, pos := range positions {
		pnl := pos.CurrentValue - pos.Principal
		fmt.Printf("%s  [%s]\n", pos.ID, pos.Health)
		fmt.Printf("  Venue:     %s (chain %d)\n", pos.Venue.Hex(), pos.ChainID)
		fmt.Printf("  Asset:     %s\n", pos.Asset)
		fmt.Printf("  Principal: $%.2f\n", pos.Principal)
		fmt.Printf("  Value:     $%.2f (%+.2f)\n", pos.CurrentValue, pnl)
		fmt.Printf("  APY:       %.2f%%\n", pos.CurrentAPY)
		fmt.Printf("  Observed:  %s\n\n", pos.ObservedAt.Format(time.RFC3339))
	}

	fmt.Printf("Total: %d positions\n", len(positions))
	return nil
}
