package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/perennialfi/autopilot/internal/breaker"
	"github.com/perennialfi/autopilot/internal/evaluator"
	"github.com/perennialfi/autopilot/internal/ledger"
	"go.uber.org/zap"
)

// EngineHandler serves the engine's read API: candidates, breaker status
// and the last recorded move.
type EngineHandler struct {
	evaluator *evaluator.Evaluator
	breaker   *breaker.Breaker
	ledger    *ledger.Ledger
	logger    *zap.Logger
}

// NewEngineHandler creates an engine API handler.
func NewEngineHandler(eval *evaluator.Evaluator, brk *breaker.Breaker, led *ledger.Ledger, logger *zap.Logger) *EngineHandler {
	return &EngineHandler{
		evaluator: eval,
		breaker:   brk,
		ledger:    led,
		logger:    logger,
	}
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

type candidateView struct {
	ID             string   `json:"id"`
	PositionID     string   `json:"positionId"`
	FromVenue      string   `json:"fromVenue"`
	ToVenue        string   `json:"toVenue"`
	APYDelta       float64  `json:"apyDelta"`
	GasUSD         float64  `json:"gasUsd"`
	CalmarGain     float64  `json:"calmarImprovement"`
	SafetyRepair   bool     `json:"safetyRepair"`
	Explanation    string   `json:"explanation"`
	FailedChecks   []string `json:"failedChecks,omitempty"`
	AlternativeIDs []string `json:"alternativeVenues,omitempty"`
}

// HandleCandidates handles GET /api/candidates?user=<address>.
func (h *EngineHandler) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}

	candidates, err := h.evaluator.Evaluate(r.Context(), user)
	if err != nil {
		h.logger.Error("candidate-evaluation-failed",
			zap.String("user", user.Hex()),
			zap.Error(err))
		h.writeError(w, "evaluation failed", http.StatusInternalServerError)
		return
	}

	views := make([]candidateView, 0, len(candidates))
	for _, c := range candidates {
		view := candidateView{
			ID:           c.ID,
			PositionID:   c.Position.ID,
			FromVenue:    c.Position.Venue.Hex(),
			ToVenue:      c.ToVenue.Venue.Hex(),
			APYDelta:     c.EstimatedAPYDelta,
			GasUSD:       c.EstimatedGasUSD,
			CalmarGain:   c.Proof.CalmarImprovement,
			SafetyRepair: c.Proof.SafetyRepair,
			Explanation:  c.Proof.Explanation,
		}
		for _, check := range c.Proof.IntegrityChecks {
			if !check.Passed {
				view.FailedChecks = append(view.FailedChecks, check.Name)
			}
		}
		for _, opt := range c.Options {
			view.AlternativeIDs = append(view.AlternativeIDs, opt.Venue.Hex())
		}
		views = append(views, view)
	}

	h.writeJSON(w, views)
}

type breakerView struct {
	Open         bool   `json:"open"`
	Scope        string `json:"scope"`
	ChainID      int64  `json:"chainId,omitempty"`
	Reason       string `json:"reason,omitempty"`
	TriggeredAt  string `json:"triggeredAt,omitempty"`
	AutoResumeAt string `json:"autoResumeAt,omitempty"`
}

// HandleBreaker handles GET /api/breaker.
func (h *EngineHandler) HandleBreaker(w http.ResponseWriter, _ *http.Request) {
	states := h.breaker.Status()

	views := make([]breakerView, 0, len(states))
	for _, s := range states {
		view := breakerView{
			Open:    s.Open,
			Scope:   "chain",
			ChainID: s.ChainID,
			Reason:  s.Reason,
		}
		if s.ChainID == breaker.ScopeGlobal {
			view.Scope = "global"
			view.ChainID = 0
		}
		if !s.TriggeredAt.IsZero() {
			view.TriggeredAt = s.TriggeredAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		if !s.AutoResumeAt.IsZero() {
			view.AutoResumeAt = s.AutoResumeAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		views = append(views, view)
	}

	h.writeJSON(w, views)
}

type breakerTripRequest struct {
	ChainID    int64  `json:"chainId"` // 0 trips the global scope
	Reason     string `json:"reason"`
	AutoResume string `json:"autoResume,omitempty"` // Go duration string; empty means manual reset only
}

// HandleBreakerTrip handles POST /api/breaker/trip.
func (h *EngineHandler) HandleBreakerTrip(w http.ResponseWriter, r *http.Request) {
	var req breakerTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		h.writeError(w, "reason is required", http.StatusBadRequest)
		return
	}

	var autoResume time.Duration
	if req.AutoResume != "" {
		d, err := time.ParseDuration(req.AutoResume)
		if err != nil || d <= 0 {
			h.writeError(w, "invalid autoResume duration", http.StatusBadRequest)
			return
		}
		autoResume = d
	}

	h.breaker.Trip(req.ChainID, req.Reason, autoResume)
	w.WriteHeader(http.StatusNoContent)
}

type breakerResetRequest struct {
	ChainID int64 `json:"chainId"` // 0 resets the global scope
}

// HandleBreakerReset handles POST /api/breaker/reset.
func (h *EngineHandler) HandleBreakerReset(w http.ResponseWriter, r *http.Request) {
	var req breakerResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, "malformed request body", http.StatusBadRequest)
		return
	}

	h.breaker.Reset(req.ChainID)
	w.WriteHeader(http.StatusNoContent)
}

type moveView struct {
	ID             string   `json:"id"`
	ChainID        int64    `json:"chainId"`
	FromVault      string   `json:"fromVault"`
	ToVault        string   `json:"toVault"`
	AmountWei      string   `json:"amountWei"`
	State          string   `json:"state"`
	CanRevert      bool     `json:"canRevert"`
	RevertDeadline string   `json:"revertDeadline,omitempty"`
	TxHashes       []string `json:"txHashes"`
}

// HandleLastMove handles GET /api/moves/last?user=<address>.
func (h *EngineHandler) HandleLastMove(w http.ResponseWriter, r *http.Request) {
	user, ok := h.userParam(w, r)
	if !ok {
		return
	}

	move, err := h.ledger.LastMove(r.Context(), user)
	if errors.Is(err, ledger.ErrNoMoves) {
		h.writeError(w, "no recorded moves", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("last-move-lookup-failed",
			zap.String("user", user.Hex()),
			zap.Error(err))
		h.writeError(w, "move lookup failed", http.StatusInternalServerError)
		return
	}

	view := moveView{
		ID:        move.ID,
		ChainID:   move.ChainID,
		FromVault: move.FromVault.Hex(),
		ToVault:   move.ToVault.Hex(),
		AmountWei: move.AmountWei.String(),
		State:     string(move.State),
		CanRevert: move.CanRevert,
	}
	if !move.RevertDeadline.IsZero() {
		view.RevertDeadline = move.RevertDeadline.UTC().Format("2006-01-02T15:04:05Z")
	}
	for _, ref := range move.TxRefs {
		view.TxHashes = append(view.TxHashes, ref.Hash.Hex())
	}

	h.writeJSON(w, view)
}

func (h *EngineHandler) userParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := r.URL.Query().Get("user")
	if raw == "" {
		h.writeError(w, "missing user parameter", http.StatusBadRequest)
		return common.Address{}, false
	}
	if !common.IsHexAddress(raw) {
		h.writeError(w, "invalid user address", http.StatusBadRequest)
		return common.Address{}, false
	}

	return common.HexToAddress(raw), true
}

func (h *EngineHandler) writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response-encoding-failed", zap.Error(err))
	}
}

func (h *EngineHandler) writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
