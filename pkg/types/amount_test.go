package types

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		human    string
		decimals int
		want     string
		wantErr  bool
	}{
		{name: "whole-usdc", human: "125", decimals: 6, want: "125000000"},
		{name: "fractional-usdc", human: "125.50", decimals: 6, want: "125500000"},
		{name: "full-precision", human: "0.000001", decimals: 6, want: "1"},
		{name: "eighteen-decimals", human: "1.5", decimals: 18, want: "1500000000000000000"},
		{name: "zero", human: "0", decimals: 6, want: "0"},
		{name: "leading-dot", human: ".5", decimals: 6, want: "500000"},
		{name: "too-precise", human: "0.0000001", decimals: 6, wantErr: true},
		{name: "negative", human: "-1", decimals: 6, wantErr: true},
		{name: "empty", human: "", decimals: 6, wantErr: true},
		{name: "garbage", human: "abc", decimals: 6, wantErr: true},
		{name: "two-dots", human: "1.2.3", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseAmount(tt.human, tt.decimals)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "125.5", FormatAmount(big.NewInt(125500000), 6))
	assert.Equal(t, "0.000001", FormatAmount(big.NewInt(1), 6))
	assert.Equal(t, "125", FormatAmount(big.NewInt(125000000), 6))
	assert.Equal(t, "0", FormatAmount(nil, 6))
}

func TestParseFormatRoundTrip(t *testing.T) {
	t.Parallel()

	wei, err := ParseAmount("19.042", 6)
	require.NoError(t, err)
	assert.Equal(t, "19.042", FormatAmount(wei, 6))
}

func TestReasonOf(t *testing.T) {
	t.Parallel()

	err := NewRepairError(ReasonReplayOrExpired, "nonce %d already used", 7)
	code, ok := ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, ReasonReplayOrExpired, code)
	assert.True(t, HasReason(err, ReasonReplayOrExpired))
	assert.False(t, HasReason(err, ReasonCircuitOpen))
}
