package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/perennialfi/autopilot/internal/app"
	"github.com/perennialfi/autopilot/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the repair engine",
	Long: `Starts the autopilot engine, which will:
1. Poll positions and venue data from the market data feed
2. Evaluate positions against the user's policy every cycle
3. Generate repair candidates with improvement proofs
4. Execute the top candidate per the policy's autonomy level

Use --user to run on behalf of an address other than the wallet's.`,
	RunE: runEngine,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("user", "u", "", "User address to manage (defaults to the wallet address)")
}

func runEngine(cmd *cobra.Command, args []string) error {
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

	user, _ := cmd.Flags().GetString("user")

	application, err := app.New(cfg, logger, &app.Options{User: user})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
