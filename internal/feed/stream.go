package feed

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

// VenueUpdateHandler receives pushed venue snapshots.
type VenueUpdateHandler func(types.VenueSnapshot)

// StreamConfig holds the websocket stream configuration.
type StreamConfig struct {
	URL               string
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	JitterPercent     float64 // 0.2 = 20%
	Logger            *zap.Logger
}

// Stream maintains a websocket subscription to venue updates, reconnecting
// with exponential backoff and jitter when the connection drops.
type Stream struct {
	cfg     StreamConfig
	client  *Client
	handler VenueUpdateHandler
	logger  *zap.Logger

	mu             sync.Mutex
	currentBackoff time.Duration
}

// NewStream creates a venue update stream. Updates invalidate the client's
// snapshot cache and are forwarded to the handler.
func NewStream(cfg StreamConfig, client *Client, handler VenueUpdateHandler) (*Stream, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("stream URL cannot be empty")
	}
	if cfg.InitialDelay <= 0 || cfg.MaxDelay < cfg.InitialDelay {
		return nil, fmt.Errorf("invalid backoff delays")
	}
	if cfg.BackoffMultiplier < 1 {
		return nil, fmt.Errorf("backoff multiplier must be >= 1")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if client == nil {
		return nil, fmt.Errorf("feed client cannot be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	return &Stream{
		cfg:            cfg,
		client:         client,
		handler:        handler,
		logger:         cfg.Logger,
		currentBackoff: cfg.InitialDelay,
	}, nil
}

// Run connects and consumes updates until the context is cancelled. A
// dropped connection is re-established with backoff; a successful session
// resets the backoff.
func (s *Stream) Run(ctx context.Context) error {
	for {
		err := s.consumeSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Warn("feed-stream-disconnected", zap.Error(err))
		StreamReconnectsTotal.Inc()

		backoff := s.nextBackoff()
		s.logger.Info("feed-stream-reconnecting", zap.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		s.incrementBackoff()
	}
}

type venueUpdateMessage struct {
	Type    string       `json:"type"`
	Payload venuePayload `json:"payload"`
}

// consumeSession runs one websocket session to completion.
func (s *Stream) consumeSession(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial feed stream: %w", err)
	}
	defer conn.Close()

	s.resetBackoff()
	s.logger.Info("feed-stream-connected", zap.String("url", s.cfg.URL))

	// Unblock ReadMessage on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}

		var msg venueUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("feed-stream-unparseable-message", zap.Error(err))
			continue
		}
		if msg.Type != "venue_update" {
			continue
		}

		snap := types.VenueSnapshot{
			ChainID:     msg.Payload.ChainID,
			Venue:       common.HexToAddress(msg.Payload.Venue),
			Asset:       msg.Payload.Asset,
			APY:         msg.Payload.APY,
			TVL:         msg.Payload.TVL,
			RiskScore:   msg.Payload.RiskScore,
			MaxDrawdown: msg.Payload.MaxDrawdown,
			GasUSD:      msg.Payload.GasUSD,
			ObservedAt:  time.Unix(msg.Payload.ObservedAt, 0),
		}

		s.client.InvalidateVenues(snap.Asset)
		StreamUpdatesTotal.Inc()
		s.handler(snap)
	}
}

func (s *Stream) resetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentBackoff = s.cfg.InitialDelay
}

// nextBackoff returns the current backoff with jitter applied.
func (s *Stream) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	jitter := rand.Float64() * s.cfg.JitterPercent

	return time.Duration(float64(s.currentBackoff) * (1.0 + jitter))
}

func (s *Stream) incrementBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := time.Duration(float64(s.currentBackoff) * s.cfg.BackoffMultiplier)
	if next > s.cfg.MaxDelay {
		next = s.cfg.MaxDelay
	}
	s.currentBackoff = next
}
