// Package reporting pushes repair attempt outcomes to the backend
// authority so the user-facing surfaces stay truthful about what executed.
package reporting

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

const (
	maxAttempts       = 3
	retryInitialDelay = 500 * time.Millisecond
)

// Reporter delivers outcome reports over HTTP.
type Reporter struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds reporter configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewReporter creates an outcome reporter.
func NewReporter(cfg *Config) (*Reporter, error) {
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
		timeout = 15 * time.Second
	}

	return &Reporter{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     cfg.Logger,
	}, nil
}

type outcomeReport struct {
	AttemptID  string  `json:"attemptId"`
	Success    bool    `json:"success"`
	Reason     string  `json:"reason,omitempty"`
	TxRefs     []txRef `json:"txRefs"`
	ReportedAt int64   `json:"reportedAt"`
}

type txRef struct {
	ChainID int64  `json:"chainId"`
	Hash    string `json:"hash"`
}

// ReportOutcome delivers one attempt outcome, retrying transient delivery
// failures. Reporting is idempotent server-side, keyed by attempt ID. A
// delivery failure is returned to the caller, never swallowed.
func (r *Reporter) ReportOutcome(ctx context.Context, attemptID string, refs []types.TxRef, success bool, reason string) error {
	report := outcomeReport{
		AttemptID:  attemptID,
		Success:    success,
		Reason:     reason,
		TxRefs:     make([]txRef, 0, len(refs)),
		ReportedAt: time.Now().Unix(),
	}
	for _, ref := range refs {
		report.TxRefs = append(report.TxRefs, txRef{ChainID: ref.ChainID, Hash: ref.Hash.Hex()})
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal outcome report: %w", err)
	}

	delay := retryInitialDelay

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err := r.post(ctx, payload); err != nil {
			lastErr = err
			r.logger.Warn("outcome-report-delivery-failed",
				zap.String("attempt_id", attemptID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		OutcomesReportedTotal.Inc()
		r.logger.Info("outcome-reported",
			zap.String("attempt_id", attemptID),
			zap.Bool("success", success),
			zap.String("reason", reason))

		return nil
	}

	OutcomeReportFailuresTotal.Inc()

	return fmt.Errorf("report outcome for attempt %s: %w", attemptID, lastErr)
}

func (r *Reporter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/outcomes", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return nil
}
