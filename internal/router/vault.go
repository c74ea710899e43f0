package router

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// The two generic vault operations the engine performs. Venue-specific
// contract surfaces beyond withdraw/deposit are out of scope.
const vaultABIJSON = `[
	{"inputs":[{"name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"type":"function"},
	{"inputs":[{"name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"type":"function"}
]`

var (
	vaultABIOnce sync.Once
	vaultABI     abi.ABI
	vaultABIErr  error
)

func parsedVaultABI() (abi.ABI, error) {
	vaultABIOnce.Do(func() {
		vaultABI, vaultABIErr = abi.JSON(strings.NewReader(vaultABIJSON))
	})
	return vaultABI, vaultABIErr
}

// packWithdraw encodes a vault withdraw call.
func packWithdraw(amount *big.Int) ([]byte, error) {
	parsed, err := parsedVaultABI()
	if err != nil {
		return nil, fmt.Errorf("parse vault ABI: %w", err)
	}

	data, err := parsed.Pack("withdraw", amount)
	if err != nil {
		return nil, fmt.Errorf("pack withdraw: %w", err)
	}

	return data, nil
}

// packDeposit encodes a vault deposit call.
func packDeposit(amount *big.Int) ([]byte, error) {
	parsed, err := parsedVaultABI()
	if err != nil {
		return nil, fmt.Errorf("parse vault ABI: %w", err)
	}

	data, err := parsed.Pack("deposit", amount)
	if err != nil {
		return nil, fmt.Errorf("pack deposit: %w", err)
	}

	return data, nil
}
