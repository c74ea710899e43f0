package cmd

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTokenAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		expected *big.Int
		wantErr  bool
	}{
		{
			name:     "whole-tokens-six-decimals",
			raw:      "1000",
			decimals: 6,
			expected: big.NewInt(1_000_000_000),
		},
		{
			name:     "fractional-tokens",
			raw:      "0.5",
			decimals: 6,
			expected: big.NewInt(500_000),
		},
		{
			name:     "zero-decimals",
			raw:      "7",
			decimals: 0,
			expected: big.NewInt(7),
		},
		{
			name:    "not-a-number",
			raw:     "unlimited",
			wantErr: true,
		},
		{
			name:    "negative",
			raw:     "-10",
			wantErr: true,
		},
		{
			name:    "zero",
			raw:     "0",
			wantErr: true,
		},
		{
			name:     "dust-rounds-to-zero",
			raw:      "0.4",
			decimals: 0,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTokenAmount(tt.raw, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Zero(t, tt.expected.Cmp(got), "expected %s, got %s", tt.expected, got)
		})
	}
}
