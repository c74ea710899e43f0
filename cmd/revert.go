package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var revertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Revert the user's last executed move",
	Long: `Executes the inverse of the user's last recorded move, provided its
revert window is still open. Each move is revertible exactly once; a
failed revert consumes the eligibility and leaves the move for manual
resolution.`,
	RunE: runRevert,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(revertCmd)
	revertCmd.Flags().StringP("user", "u", "", "User address (defaults to the wallet address)")
}

func runRevert(cmd *cobra.Command, args []string) error {
	userFlag, _ := cmd.Flags().GetString("user")

	eng, err := buildEngine(userFlag)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	move, err := eng.router.RevertLast(ctx, eng.user)
	if err != nil {
		return fmt.Errorf("revert last move: %w", err)
	}

	fmt.Printf("=== Move Reverted ===\n\n")
	fmt.Printf("Move:   %s\n", move.ID)
	fmt.Printf("State:  %s\n", move.State)
	fmt.Printf("Funds returned to %s\n", move.FromVault.Hex())
	for _, ref := range move.TxRefs {
		fmt.Printf("  tx %s (chain %d)\n", ref.Hash.Hex(), ref.ChainID)
	}

	return nil
}
