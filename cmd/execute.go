package cmd

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Evaluate and execute the top repair candidate",
	Long: `Runs one evaluation cycle and routes the top candidate for execution.
The router re-validates the candidate's proof against the live policy,
then either submits a signed meta-transaction to the gas relayer or
falls back to direct wallet transactions, per the policy's autonomy
level. The executed move is recorded with a bounded revert window.`,
	RunE: runExecute,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(executeCmd)
	executeCmd.Flags().StringP("user", "u", "", "User address (defaults to the wallet address)")
	executeCmd.Flags().String("amount", "", "Amount to move in whole tokens (defaults to the full position value)")
}

func runExecute(cmd *cobra.Command, args []string) error {
	userFlag, _ := cmd.Flags().GetString("user")

	eng, err := buildEngine(userFlag)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	candidates, err := eng.evaluator.Evaluate(ctx, eng.user)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if len(candidates) == 0 {
		fmt.Printf("No repair candidates; nothing to execute.\n")
		return nil
	}

	cand := &candidates[0]

	var amount *big.Int
	amountFlag, _ := cmd.Flags().GetString("amount")
	if amountFlag != "" {
		amount, err = parseTokenAmount(amountFlag, eng.cfg.TokenDecimals)
		if err != nil {
			return err
		}
	} else {
		amount, err = parseTokenAmount(fmt.Sprintf("%.2f", cand.Position.CurrentValue), eng.cfg.TokenDecimals)
		if err != nil {
			return fmt.Errorf("convert position value: %w", err)
		}
	}

	fmt.Printf("=== Execute Repair ===\n\n")
	fmt.Printf("Candidate: %s\n", cand.ID)
	fmt.Printf("Position:  %s\n", cand.Position.ID)
	fmt.Printf("From:      %s\n", cand.Position.Venue.Hex())
	fmt.Printf("To:        %s\n", cand.ToVenue.Venue.Hex())
	fmt.Printf("Rationale: %s\n\n", cand.Proof.Explanation)

	attempt, err := eng.router.Execute(ctx, eng.user, cand, amount)
	if err != nil {
		return fmt.Errorf("execute candidate: %w", err)
	}

	fmt.Printf("Repair %s: %s via %s path\n", attempt.ID, attempt.State, attempt.Path)
	for _, ref := range attempt.TxRefs {
		fmt.Printf("  tx %s (chain %d)\n", ref.Hash.Hex(), ref.ChainID)
	}
	fmt.Printf("\nThe move can be reverted within %s with the revert command.\n", eng.cfg.LedgerRevertWindow)

	return nil
}
