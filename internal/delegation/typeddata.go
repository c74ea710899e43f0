package delegation

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP-712 domain shared by both message kinds. The verifying contract is
// the trusted forwarder for the target chain.
const (
	domainName    = "PerennialAutoPilot"
	domainVersion = "1"
)

func domainTypes() []apitypes.Type {
	return []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
}

func domain(chainID int64, forwarder common.Address) apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              domainName,
		Version:           domainVersion,
		ChainId:           math.NewHexOrDecimal256(chainID),
		VerifyingContract: forwarder.Hex(),
	}
}

// SpendPermissionTypedData builds the typed data for granting a spend
// permission: {chainId, token, maxAmountWei, validUntilSeconds, nonce}.
func SpendPermissionTypedData(p *SpendPermission, forwarder common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"SpendPermission": {
				{Name: "token", Type: "address"},
				{Name: "maxAmount", Type: "uint256"},
				{Name: "validUntil", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "SpendPermission",
		Domain:      domain(p.ChainID, forwarder),
		Message: apitypes.TypedDataMessage{
			"token":      p.Token.Hex(),
			"maxAmount":  (*math.HexOrDecimal256)(new(big.Int).Set(p.MaxAmountWei)),
			"validUntil": (*math.HexOrDecimal256)(big.NewInt(p.ValidUntil.Unix())),
			"nonce":      (*math.HexOrDecimal256)(new(big.Int).SetUint64(p.Nonce)),
		},
	}
}

// RepairAuthorizationTypedData builds the typed data for authorizing one
// repair: {chainId, fromVault, toVault, amountWei, deadline, nonce}.
func RepairAuthorizationTypedData(a *RepairAuthorization, forwarder common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes(),
			"RepairAuthorization": {
				{Name: "fromVault", Type: "address"},
				{Name: "toVault", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
			},
		},
		PrimaryType: "RepairAuthorization",
		Domain:      domain(a.ChainID, forwarder),
		Message: apitypes.TypedDataMessage{
			"fromVault": a.FromVault.Hex(),
			"toVault":   a.ToVault.Hex(),
			"amount":    (*math.HexOrDecimal256)(new(big.Int).Set(a.AmountWei)),
			"deadline":  (*math.HexOrDecimal256)(big.NewInt(a.Deadline.Unix())),
			"nonce":     (*math.HexOrDecimal256)(new(big.Int).SetUint64(a.Nonce)),
		},
	}
}
