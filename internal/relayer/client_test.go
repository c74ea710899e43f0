package relayer

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, baseURL string, paused []int64) *Client {
	t.Helper()

	client, err := NewClient(&Config{
		BaseURL:      baseURL,
		PausedChains: paused,
		Timeout:      5 * time.Second,
		Logger:       zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	return client
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(nil)
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: ""})
	assert.Error(t, err)

	_, err = NewClient(&Config{BaseURL: "http://localhost:8080"})
	assert.Error(t, err, "missing logger should fail")
}

func TestClient_Paused(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, "http://localhost:1", []int64{137, 8453})

	assert.True(t, client.Paused(137))
	assert.True(t, client.Paused(8453))
	assert.False(t, client.Paused(1))
}

func TestClient_ForwarderNonce(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "137", r.URL.Query().Get("chainId"))
		w.Write([]byte(`{"nonce":42}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	nonce, err := client.ForwarderNonce(context.Background(), common.HexToAddress("0x01"), 137)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), nonce)
}

func TestClient_ForwarderNonce_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"nonce":7}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	nonce, err := client.ForwarderNonce(context.Background(), common.HexToAddress("0x01"), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ForwarderNonce_ExhaustedRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.ForwarderNonce(context.Background(), common.HexToAddress("0x01"), 1)
	require.Error(t, err)
	assert.True(t, types.HasReason(err, types.ReasonNetworkUnavail))
	assert.Equal(t, int32(readRetries), calls.Load())
}

func TestClient_Submit_SingleAttempt(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	_, err := client.Submit(context.Background(), testAuthorization())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "submissions must never be retried")
}

func TestClient_Submit_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/relay", r.URL.Path)
		w.Write([]byte(`{"success":true,"txRef":"0xabc123","message":"relayed"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	result, err := client.Submit(context.Background(), testAuthorization())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(137), result.TxRef.ChainID)
	assert.Equal(t, common.HexToHash("0xabc123"), result.TxRef.Hash)
	assert.Equal(t, "relayed", result.Message)
}

func TestClient_Submit_Rejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"success":false,"message":"nonce already consumed"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	result, err := client.Submit(context.Background(), testAuthorization())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "nonce already consumed", result.Message)
	assert.Equal(t, common.Hash{}, result.TxRef.Hash)
}

func TestClient_StorePermission(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/permissions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil)

	err := client.StorePermission(context.Background(), &delegation.SpendPermission{
		User:         common.HexToAddress("0x01"),
		ChainID:      137,
		Token:        common.HexToAddress("0x02"),
		MaxAmountWei: big.NewInt(1000),
		RemainingWei: big.NewInt(1000),
		ValidUntil:   time.Now().Add(time.Hour),
		Nonce:        1,
		Signature:    []byte{0x01},
	})
	assert.NoError(t, err)
}

func testAuthorization() *delegation.RepairAuthorization {
	return &delegation.RepairAuthorization{
		User:      common.HexToAddress("0x01"),
		ChainID:   137,
		FromVault: common.HexToAddress("0x02"),
		ToVault:   common.HexToAddress("0x03"),
		AmountWei: big.NewInt(5000),
		Deadline:  time.Now().Add(5 * time.Minute),
		Nonce:     9,
		Signature: []byte{0xaa},
	}
}
