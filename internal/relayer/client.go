// Package relayer is the HTTP client for the delegated-execution relayer:
// forwarder nonces, spend permission storage/revocation, and meta-
// transaction submission. Read paths retry with exponential backoff; a
// submission is never retried, because it may already have landed.
package relayer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/perennialfi/autopilot/internal/delegation"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

const (
	readRetries       = 3
	retryInitialDelay = 250 * time.Millisecond
)

// Client talks to the relayer service.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	pausedChains map[int64]bool
	logger       *zap.Logger
}

// Config holds relayer client configuration.
type Config struct {
	BaseURL      string
	PausedChains []int64 // Chains the operator has paused for relaying
	Timeout      time.Duration
	Logger       *zap.Logger
}

// NewClient creates a relayer client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	paused := make(map[int64]bool, len(cfg.PausedChains))
	for _, id := range cfg.PausedChains {
		paused[id] = true
	}

	return &Client{
		baseURL:      cfg.BaseURL,
		httpClient:   &http.Client{Timeout: timeout},
		pausedChains: paused,
		logger:       cfg.Logger,
	}, nil
}

// Paused reports whether relaying is paused for the chain.
func (c *Client) Paused(chainID int64) bool {
	return c.pausedChains[chainID]
}

type nonceResponse struct {
	Nonce uint64 `json:"nonce"`
}

// ForwarderNonce fetches the authoritative next forwarder nonce. Retries
// with backoff: nonce reads are idempotent.
func (c *Client) ForwarderNonce(ctx context.Context, user common.Address, chainID int64) (uint64, error) {
	url := fmt.Sprintf("%s/v1/forwarder/nonce?user=%s&chainId=%d", c.baseURL, user.Hex(), chainID)

	body, err := c.getWithRetry(ctx, url)
	if err != nil {
		return 0, err
	}

	var resp nonceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal nonce response: %w", err)
	}

	return resp.Nonce, nil
}

type permissionRequest struct {
	User       string `json:"userAddress"`
	ChainID    int64  `json:"chainId"`
	Token      string `json:"token"`
	MaxAmount  string `json:"maxAmountWei"`
	ValidUntil int64  `json:"validUntilSeconds"`
	Nonce      uint64 `json:"nonce"`
	Signature  string `json:"signature"`
}

// StorePermission submits a signed spend permission to the backend store.
func (c *Client) StorePermission(ctx context.Context, p *delegation.SpendPermission) error {
	req := permissionRequest{
		User:       p.User.Hex(),
		ChainID:    p.ChainID,
		Token:      p.Token.Hex(),
		MaxAmount:  p.MaxAmountWei.String(),
		ValidUntil: p.ValidUntil.Unix(),
		Nonce:      p.Nonce,
		Signature:  fmt.Sprintf("0x%x", p.Signature),
	}

	return c.postJSON(ctx, c.baseURL+"/v1/permissions", req, nil)
}

type revokeRequest struct {
	User    string `json:"userAddress"`
	ChainID int64  `json:"chainId"`
	Nonce   uint64 `json:"nonce"`
}

// RevokePermission invalidates a stored permission server-side.
func (c *Client) RevokePermission(ctx context.Context, user common.Address, chainID int64, nonce uint64) error {
	req := revokeRequest{User: user.Hex(), ChainID: chainID, Nonce: nonce}

	return c.postJSON(ctx, c.baseURL+"/v1/permissions/revoke", req, nil)
}

type submitRequest struct {
	User      string `json:"userAddress"`
	ChainID   int64  `json:"chainId"`
	FromVault string `json:"fromVault"`
	ToVault   string `json:"toVault"`
	Amount    string `json:"amountWei"`
	Deadline  int64  `json:"deadline"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
}

type submitResponse struct {
	Success bool   `json:"success"`
	TxRef   string `json:"txRef"`
	Message string `json:"message"`
}

// SubmitResult is the outcome of a relayer submission.
type SubmitResult struct {
	Success bool
	TxRef   types.TxRef
	Message string
}

// Submit sends a signed repair authorization for delegated execution.
// Submit performs exactly one attempt: the request may land on-chain even
// when the response is lost, so retrying risks double execution.
func (c *Client) Submit(ctx context.Context, auth *delegation.RepairAuthorization) (*SubmitResult, error) {
	req := submitRequest{
		User:      auth.User.Hex(),
		ChainID:   auth.ChainID,
		FromVault: auth.FromVault.Hex(),
		ToVault:   auth.ToVault.Hex(),
		Amount:    auth.AmountWei.String(),
		Deadline:  auth.Deadline.Unix(),
		Nonce:     auth.Nonce,
		Signature: fmt.Sprintf("0x%x", auth.Signature),
	}

	start := time.Now()
	var resp submitResponse
	err := c.postJSON(ctx, c.baseURL+"/v1/relay", req, &resp)
	SubmitDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		SubmitErrorsTotal.Inc()
		return nil, err
	}

	result := &SubmitResult{
		Success: resp.Success,
		Message: resp.Message,
	}
	if resp.TxRef != "" {
		result.TxRef = types.TxRef{ChainID: auth.ChainID, Hash: common.HexToHash(resp.TxRef)}
	}

	c.logger.Info("relayer-submission-completed",
		zap.Bool("success", resp.Success),
		zap.String("tx_ref", resp.TxRef),
		zap.String("message", resp.Message),
		zap.Uint64("nonce", auth.Nonce))

	return result, nil
}

// getWithRetry fetches a URL, retrying transient failures with backoff.
func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	delay := retryInitialDelay

	var lastErr error
	for attempt := 0; attempt < readRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			ReadRetriesTotal.Inc()
		}

		body, err := c.get(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		c.logger.Warn("relayer-read-failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, types.WrapRepairError(types.ReasonNetworkUnavail, lastErr, "relayer unreachable after %d attempts", readRetries)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return types.WrapRepairError(types.ReasonNetworkUnavail, err, "relayer unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
