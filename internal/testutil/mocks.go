// Package testutil holds shared mocks and fixtures for engine tests.
package testutil

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/internal/relayer"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/perennialfi/autopilot/pkg/wallet"
)

// MockSigner implements wallet.Signer with a throwaway ECDSA key. Set
// RejectSigning to simulate a user declining the prompt, or FailSends to
// make submissions error.
type MockSigner struct {
	key           *ecdsa.PrivateKey
	address       common.Address
	RejectSigning bool
	FailSends     bool
	FailWaits     bool
	// FailSendsAfter fails every send once that many have succeeded.
	// Zero disables it.
	FailSendsAfter int

	mu        sync.Mutex
	Signed    []apitypes.TypedData
	Sent      []wallet.TxRequest
	txCounter int
}

// NewMockSigner creates a signer with a fresh random key.
func NewMockSigner() *MockSigner {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}

	return &MockSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the mock account address.
func (m *MockSigner) Address() common.Address {
	return m.address
}

// SignTypedData signs with the throwaway key, or rejects if configured.
func (m *MockSigner) SignTypedData(_ context.Context, data apitypes.TypedData) ([]byte, error) {
	if m.RejectSigning {
		return nil, types.NewRepairError(types.ReasonUserRejected, "signing request declined")
	}

	hash, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(hash, m.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27

	m.mu.Lock()
	m.Signed = append(m.Signed, data)
	m.mu.Unlock()

	return sig, nil
}

// SendTransaction records the request and returns a synthetic reference.
func (m *MockSigner) SendTransaction(_ context.Context, req wallet.TxRequest) (types.TxRef, error) {
	if m.FailSends {
		return types.TxRef{}, fmt.Errorf("send transaction: connection refused")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSendsAfter > 0 && len(m.Sent) >= m.FailSendsAfter {
		return types.TxRef{}, fmt.Errorf("send transaction: connection refused")
	}

	m.Sent = append(m.Sent, req)
	m.txCounter++

	return types.TxRef{
		ChainID: req.ChainID,
		Hash:    common.BytesToHash([]byte(fmt.Sprintf("tx-%d", m.txCounter))),
	}, nil
}

// WaitConfirmed succeeds unless FailWaits is set.
func (m *MockSigner) WaitConfirmed(_ context.Context, ref types.TxRef) error {
	if m.FailWaits {
		return fmt.Errorf("transaction %s reverted", ref.Hash.Hex())
	}

	return nil
}

// SentCount returns how many transactions were submitted.
func (m *MockSigner) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Sent)
}

// MockRelayer implements delegation.RelayerClient and the router's
// submission interface in memory.
type MockRelayer struct {
	mu          sync.Mutex
	nonces      map[string]uint64
	paused      map[int64]bool
	Stored      []*delegation.SpendPermission
	Revoked     []uint64
	Submissions []*delegation.RepairAuthorization

	NonceErr      error
	StoreErr      error
	SubmitErr     error  // Transport-level submit failure
	SubmitSuccess bool   // Result of accepted submissions
	SubmitMessage string // Message on rejected submissions

	// AdvanceOnExecute switches to forwarder-style nonce accounting:
	// ForwarderNonce reports the current nonce, which advances only when
	// a submission executes. The default reserves a fresh nonce per
	// fetch, the way a relayer with server-side reservation behaves.
	AdvanceOnExecute bool
}

// NewMockRelayer creates a relayer mock whose submissions succeed.
func NewMockRelayer() *MockRelayer {
	return &MockRelayer{
		nonces:        make(map[string]uint64),
		SubmitSuccess: true,
	}
}

// ForwarderNonce hands out sequential nonces per (user, chain).
func (m *MockRelayer) ForwarderNonce(_ context.Context, user common.Address, chainID int64) (uint64, error) {
	if m.NonceErr != nil {
		return 0, m.NonceErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := fmt.Sprintf("%s/%d", user.Hex(), chainID)
	nonce := m.nonces[key]
	if !m.AdvanceOnExecute {
		m.nonces[key] = nonce + 1
	}

	return nonce, nil
}

// StorePermission records the permission.
func (m *MockRelayer) StorePermission(_ context.Context, p *delegation.SpendPermission) error {
	if m.StoreErr != nil {
		return m.StoreErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Stored = append(m.Stored, p)

	return nil
}

// RevokePermission records the revocation.
func (m *MockRelayer) RevokePermission(_ context.Context, _ common.Address, _ int64, nonce uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Revoked = append(m.Revoked, nonce)

	return nil
}

// SetPaused marks a chain as paused for relaying.
func (m *MockRelayer) SetPaused(chainID int64, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.paused == nil {
		m.paused = make(map[int64]bool)
	}
	m.paused[chainID] = paused
}

// Paused reports whether the chain is paused for relaying.
func (m *MockRelayer) Paused(chainID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.paused[chainID]
}

// Submit records the authorization and returns the configured outcome.
func (m *MockRelayer) Submit(_ context.Context, auth *delegation.RepairAuthorization) (*relayer.SubmitResult, error) {
	if m.SubmitErr != nil {
		return nil, m.SubmitErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Submissions = append(m.Submissions, auth)
	if !m.SubmitSuccess {
		return &relayer.SubmitResult{Success: false, Message: m.SubmitMessage}, nil
	}

	if m.AdvanceOnExecute {
		key := fmt.Sprintf("%s/%d", auth.User.Hex(), auth.ChainID)
		m.nonces[key]++
	}

	return &relayer.SubmitResult{
		Success: true,
		TxRef: types.TxRef{
			ChainID: auth.ChainID,
			Hash:    common.BytesToHash([]byte(fmt.Sprintf("relay-%d", len(m.Submissions)))),
		},
	}, nil
}

// SubmissionCount returns how many submissions were accepted by the mock.
func (m *MockRelayer) SubmissionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Submissions)
}

// StubGate implements the breaker check with a fixed answer.
type StubGate struct {
	Err error
}

// Allow returns the configured error.
func (g *StubGate) Allow(int64) error {
	return g.Err
}
