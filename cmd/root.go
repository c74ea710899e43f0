package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "autopilot",
	Short: "Automated position repair engine",
	Long: `Autopilot watches DeFi yield positions against a user-declared policy,
generates provably-better repair candidates when positions drift or
degrade, and executes approved moves through delegated EIP-712
authorizations via a gas relayer (falling back to direct wallet
transactions when relaying is unavailable).

Every move is recorded with a bounded revert window, and a circuit
breaker can halt all new repair work instantly.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
