package cmd

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var breakerCmd = &cobra.Command{
	Use:   "breaker",
	Short: "Inspect or control a running engine's circuit breaker",
	Long: `Queries or changes the circuit breaker state of a running engine via
its HTTP API. While any scope is open, the engine refuses all new
repair work on the affected chains; in-flight submissions are never
aborted.`,
}

//nolint:gochecknoglobals // Cobra boilerplate
var breakerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the breaker state",
	RunE:  runBreakerStatus,
}

//nolint:gochecknoglobals // Cobra boilerplate
var breakerOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Trip the breaker, halting new repair work",
	RunE:  runBreakerOpen,
}

//nolint:gochecknoglobals // Cobra boilerplate
var breakerCloseCmd = &cobra.Command{
	Use:   "close",
	Short: "Reset the breaker, allowing repair work again",
	RunE:  runBreakerClose,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(breakerCmd)
	breakerCmd.PersistentFlags().String("addr", "http://localhost:8080", "Engine HTTP address")

	breakerCmd.AddCommand(breakerStatusCmd)

	breakerCmd.AddCommand(breakerOpenCmd)
	breakerOpenCmd.Flags().Int64("chain", 0, "Chain scope (0 trips every chain)")
	breakerOpenCmd.Flags().String("reason", "", "Why the breaker is being tripped (required)")
	breakerOpenCmd.Flags().Duration("auto-resume", 0, "Auto-close after this duration (0 = manual reset only)")
	_ = breakerOpenCmd.MarkFlagRequired("reason")

	breakerCmd.AddCommand(breakerCloseCmd)
	breakerCloseCmd.Flags().Int64("chain", 0, "Chain scope (0 resets the global scope)")
}

type breakerStatus struct {
	Open         bool   `json:"open"`
	Scope        string `json:"scope"`
	ChainID      int64  `json:"chainId"`
	Reason       string `json:"reason"`
	TriggeredAt  string `json:"triggeredAt"`
	AutoResumeAt string `json:"autoResumeAt"`
}

func engineClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func runBreakerStatus(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	resp, err := engineClient().Get(addr + "/api/breaker")
	if err != nil {
		return fmt.Errorf("query engine at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	var states []breakerStatus
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		return fmt.Errorf("decode breaker response: %w", err)
	}

	fmt.Printf("=== Circuit Breaker ===\n\n")

	if len(states) == 0 {
		fmt.Printf("Closed. All repair work allowed.\n")
		return nil
	}

	for _, s := range states {
		scope := s.Scope
		if scope == "chain" {
			scope = fmt.Sprintf("chain %d", s.ChainID)
		}
		fmt.Printf("OPEN (%s)\n", scope)
		fmt.Printf("  Reason:    %s\n", s.Reason)
		fmt.Printf("  Tripped:   %s\n", s.TriggeredAt)
		if s.AutoResumeAt != "" {
			fmt.Printf("  Resumes:   %s\n", s.AutoResumeAt)
		} else {
			fmt.Printf("  Resumes:   manual reset only\n")
		}
	}

	return nil
}

func runBreakerOpen(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	chainID, _ := cmd.Flags().GetInt64("chain")
	reason, _ := cmd.Flags().GetString("reason")
	autoResume, _ := cmd.Flags().GetDuration("auto-resume")

	body := map[string]any{
		"chainId": chainID,
		"reason":  reason,
	}
	if autoResume > 0 {
		body["autoResume"] = autoResume.String()
	}

	if err := postEngine(addr+"/api/breaker/trip", body); err != nil {
		return err
	}

	scope := "all chains"
	if chainID != 0 {
		scope = fmt.Sprintf("chain %d", chainID)
	}
	fmt.Printf("Breaker opened for %s: %s\n", scope, reason)
	return nil
}

func runBreakerClose(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	chainID, _ := cmd.Flags().GetInt64("chain")

	if err := postEngine(addr+"/api/breaker/reset", map[string]any{"chainId": chainID}); err != nil {
		return err
	}

	fmt.Printf("Breaker closed.\n")
	return nil
}

func postEngine(url string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := engineClient().Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post to engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	return nil
}
