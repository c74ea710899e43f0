package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ChainID != 137 {
		t.Errorf("expected default ChainID 137, got %d", cfg.ChainID)
	}
	if cfg.EvalMinCalmarImprovement != 0.10 {
		t.Errorf("expected default materiality threshold 0.10, got %f", cfg.EvalMinCalmarImprovement)
	}
	if cfg.EvalMaxRiskDelta != 2.0 {
		t.Errorf("expected default risk delta cap 2.0, got %f", cfg.EvalMaxRiskDelta)
	}
	if cfg.AuthDeadline != 5*time.Minute {
		t.Errorf("expected default auth deadline 5m, got %s", cfg.AuthDeadline)
	}
	if cfg.LedgerRevertWindow != 15*time.Minute {
		t.Errorf("expected default revert window 15m, got %s", cfg.LedgerRevertWindow)
	}
	if cfg.StorageMode != "memory" {
		t.Errorf("expected default storage mode memory, got %q", cfg.StorageMode)
	}
	if cfg.TokenDecimals != 6 {
		t.Errorf("expected default token decimals 6, got %d", cfg.TokenDecimals)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	os.Setenv("EVAL_MIN_CALMAR_IMPROVEMENT", "0.25")
	os.Setenv("LEDGER_REVERT_WINDOW", "30m")
	os.Setenv("RELAYER_PAUSED_CHAINS", "137, 8453")
	t.Cleanup(func() {
		os.Unsetenv("EVAL_MIN_CALMAR_IMPROVEMENT")
		os.Unsetenv("LEDGER_REVERT_WINDOW")
		os.Unsetenv("RELAYER_PAUSED_CHAINS")
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.EvalMinCalmarImprovement != 0.25 {
		t.Errorf("expected threshold 0.25, got %f", cfg.EvalMinCalmarImprovement)
	}
	if cfg.LedgerRevertWindow != 30*time.Minute {
		t.Errorf("expected revert window 30m, got %s", cfg.LedgerRevertWindow)
	}
	if len(cfg.RelayerPausedChains) != 2 || cfg.RelayerPausedChains[0] != 137 || cfg.RelayerPausedChains[1] != 8453 {
		t.Errorf("expected paused chains [137 8453], got %v", cfg.RelayerPausedChains)
	}
}

func TestLoadFromEnv_ForwarderAddresses(t *testing.T) {
	os.Setenv("FORWARDER_ADDRESSES", "137=0x00000000000000000000000000000000000000f1,8453=0x00000000000000000000000000000000000000f2")
	t.Cleanup(func() { os.Unsetenv("FORWARDER_ADDRESSES") })

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(cfg.ForwarderAddresses) != 2 {
		t.Fatalf("expected 2 forwarders, got %d", len(cfg.ForwarderAddresses))
	}
	if cfg.ForwarderAddresses[137].Hex() != "0x00000000000000000000000000000000000000F1" {
		t.Errorf("unexpected forwarder for chain 137: %s", cfg.ForwarderAddresses[137].Hex())
	}
}

func TestLoadFromEnv_MalformedForwarders(t *testing.T) {
	cases := []string{
		"137",
		"abc=0x00000000000000000000000000000000000000f1",
		"137=not-an-address",
	}

	for _, raw := range cases {
		os.Setenv("FORWARDER_ADDRESSES", raw)
		_, err := LoadFromEnv()
		os.Unsetenv("FORWARDER_ADDRESSES")
		if err == nil {
			t.Errorf("expected error for FORWARDER_ADDRESSES=%q", raw)
		}
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad storage mode", map[string]string{"STORAGE_MODE": "console"}},
		{"zero materiality threshold", map[string]string{"EVAL_MIN_CALMAR_IMPROVEMENT": "0"}},
		{"zero candidate cap", map[string]string{"EVAL_MAX_CANDIDATES": "0"}},
		{"zero risk delta cap", map[string]string{"EVAL_MAX_RISK_DELTA": "0"}},
		{"negative chain id", map[string]string{"CHAIN_ID": "-1"}},
		{"huge token decimals", map[string]string{"TOKEN_DECIMALS": "40"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			t.Cleanup(func() {
				for k := range tc.env {
					os.Unsetenv(k)
				}
			})

			if _, err := LoadFromEnv(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
