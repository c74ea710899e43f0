package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

const receiptPollInterval = 2 * time.Second

// LocalSigner signs with an in-process ECDSA key and submits through a JSON-RPC
// endpoint. This is the non-interactive implementation of Signer used by the
// daemon and CLI.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	rpcURL     string
	logger     *zap.Logger
}

// NewLocalSigner creates a signer from a hex-encoded private key.
func NewLocalSigner(privateKeyHex, rpcURL string, logger *zap.Logger) (*LocalSigner, error) {
	if privateKeyHex == "" {
		return nil, errors.New("private key cannot be empty")
	}
	if rpcURL == "" {
		return nil, errors.New("rpcURL cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("derive public key")
	}

	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		rpcURL:     rpcURL,
		logger:     logger,
	}, nil
}

// Address returns the signer's account address.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignTypedData signs EIP-712 structured data with the local key.
func (s *LocalSigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}

	sig, err := crypto.Sign(hash, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}

	// Transform V from 0/1 to 27/28 per Ethereum convention.
	sig[64] += 27

	return sig, nil
}

// SendTransaction signs and submits a legacy transaction.
func (s *LocalSigner) SendTransaction(ctx context.Context, req TxRequest) (types.TxRef, error) {
	client, err := ethclient.DialContext(ctx, s.rpcURL)
	if err != nil {
		return types.TxRef{}, fmt.Errorf("dial RPC: %w", err)
	}
	defer client.Close()

	nonce, err := client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return types.TxRef{}, fmt.Errorf("pending nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return types.TxRef{}, fmt.Errorf("suggest gas price: %w", err)
	}

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	gasLimit, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &req.To,
		Value: value,
		Data:  req.Data,
	})
	if err != nil {
		return types.TxRef{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, req.To, value, gasLimit, gasPrice, req.Data)

	chainID := big.NewInt(req.ChainID)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return types.TxRef{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return types.TxRef{}, fmt.Errorf("send transaction: %w", err)
	}

	ref := types.TxRef{ChainID: req.ChainID, Hash: signedTx.Hash()}

	s.logger.Info("transaction-submitted",
		zap.Int64("chain_id", req.ChainID),
		zap.String("to", req.To.Hex()),
		zap.String("tx_hash", ref.Hash.Hex()))

	return ref, nil
}

// WaitConfirmed polls for the transaction receipt until mined or the
// context ends. A reverted transaction is an error.
func (s *LocalSigner) WaitConfirmed(ctx context.Context, ref types.TxRef) error {
	client, err := ethclient.DialContext(ctx, s.rpcURL)
	if err != nil {
		return fmt.Errorf("dial RPC: %w", err)
	}
	defer client.Close()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, ref.Hash)
		if err == nil {
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("transaction %s reverted", ref.Hash.Hex())
			}
			return nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ERC20Balance reads an ERC-20 balance for the signer's account.
func (s *LocalSigner) ERC20Balance(ctx context.Context, token common.Address) (*big.Int, error) {
	client, err := ethclient.DialContext(ctx, s.rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}
	defer client.Close()

	balanceOfABI := `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`

	parsedABI, err := abi.JSON(strings.NewReader(balanceOfABI))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}

	data, err := parsedABI.Pack("balanceOf", s.address)
	if err != nil {
		return nil, fmt.Errorf("pack ABI: %w", err)
	}

	msg := ethereum.CallMsg{To: &token, Data: data}
	result, err := client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call contract: %w", err)
	}

	return new(big.Int).SetBytes(result), nil
}
