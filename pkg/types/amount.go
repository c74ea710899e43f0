package types

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount converts a human-entered decimal amount (e.g. "125.50") into
// venue base units with the given number of decimals. The conversion is
// exact: no float arithmetic is involved, and digits beyond the venue's
// precision are rejected rather than rounded.
func ParseAmount(human string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > 36 {
		return nil, fmt.Errorf("invalid decimals %d", decimals)
	}

	s := strings.TrimSpace(human)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount %q", human)
	}

	whole := s
	frac := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole = s[:i]
		frac = s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q exceeds %d decimal places", human, decimals)
	}

	// Right-pad the fractional part to the venue precision.
	frac += strings.Repeat("0", decimals-len(frac))

	wei, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("malformed amount %q", human)
	}

	return wei, nil
}

// FormatAmount renders a base-unit amount as a human decimal string.
func FormatAmount(wei *big.Int, decimals int) string {
	if wei == nil {
		return "0"
	}

	s := wei.String()
	if decimals == 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}

	whole := s[:len(s)-decimals]
	frac := strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}

	return whole + "." + frac
}
