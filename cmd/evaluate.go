package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation cycle and print repair candidates",
	Long: `Runs a single evaluation cycle against the user's stored policy and
prints every repair candidate with its improvement proof. Nothing is
executed; use the execute command to act on a candidate.`,
	RunE: runEvaluate,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("user", "u", "", "User address (defaults to the wallet address)")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	userFlag, _ := cmd.Flags().GetString("user")

	eng, err := buildEngine(userFlag)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	candidates, err := eng.evaluator.Evaluate(ctx, eng.user)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	fmt.Printf("=== Repair Candidates for %s ===\n\n", eng.user.Hex())

	if len(candidates) == 0 {
		fmt.Printf("No repair candidates; all positions within policy.\n")
		return nil
	}

	for i, cand := range candidates {
		kind := "rotation"
		if cand.Proof.SafetyRepair {
			kind = "SAFETY REPAIR"
		}

		fmt.Printf("%d. %s (%s)\n", i+1, cand.ID, kind)
		fmt.Printf("   Position:    %s\n", cand.Position.ID)
		fmt.Printf("   From:        %s (%.2f%% APY)\n", cand.Position.Venue.Hex(), cand.Position.CurrentAPY)
		fmt.Printf("   To:          %s (%.2f%% APY)\n", cand.ToVenue.Venue.Hex(), cand.ToVenue.APY)
		fmt.Printf("   APY delta:   %+.2f points\n", cand.EstimatedAPYDelta)
		fmt.Printf("   Est. gas:    $%.2f\n", cand.EstimatedGasUSD)
		fmt.Printf("   Calmar gain: %+.1f%%\n", cand.Proof.CalmarImprovement*100)
		fmt.Printf("   Policy v%d:  %s\n", cand.PolicyVersion, cand.Proof.Explanation)

		for _, check := range cand.Proof.IntegrityChecks {
			mark := "ok"
			if !check.Passed {
				mark = "FAILED"
			}
			fmt.Printf("     - %-24s %s\n", check.Name, mark)
		}

		if len(cand.Options) > 0 {
			fmt.Printf("   Alternatives:\n")
			for _, opt := range cand.Options {
				fmt.Printf("     - %s (%.2f%% APY, $%.0f TVL)\n", opt.Venue.Hex(), opt.APY, opt.TVL)
			}
		}
		fmt.Printf("\n")
	}

	fmt.Printf("Total: %d candidates\n", len(candidates))
	return nil
}
