// Package feed reads positions and venue snapshots from the market data
// service. Snapshots are cached with a TTL and carry their observation
// time; consumers decide staleness against their own window.
package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goccy/go-json"
	"github.com/perennialfi/autopilot/pkg/cache"
	"github.com/perennialfi/autopilot/pkg/types"
	"go.uber.org/zap"
)

// Client is an HTTP client for the market data feed.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	logger     *zap.Logger
}

// ClientConfig holds feed client configuration.
type ClientConfig struct {
	BaseURL  string
	Timeout  time.Duration
	Cache    cache.Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewClient creates a feed client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		logger:     cfg.Logger,
	}, nil
}

type positionPayload struct {
	ID           string  `json:"id"`
	ChainID      int64   `json:"chainId"`
	Venue        string  `json:"venue"`
	Asset        string  `json:"asset"`
	Principal    float64 `json:"principalUsd"`
	CurrentValue float64 `json:"currentValueUsd"`
	CurrentAPY   float64 `json:"currentApy"`
	Health       string  `json:"health"`
	ObservedAt   int64   `json:"observedAt"`
}

type venuePayload struct {
	ChainID     int64   `json:"chainId"`
	Venue       string  `json:"venue"`
	Asset       string  `json:"asset"`
	APY         float64 `json:"apy"`
	TVL         float64 `json:"tvlUsd"`
	RiskScore   float64 `json:"riskScore"`
	MaxDrawdown float64 `json:"maxDrawdown"`
	GasUSD      float64 `json:"gasUsd"`
	ObservedAt  int64   `json:"observedAt"`
}

// Positions fetches the user's current positions. Positions are never
// cached: the engine must see fresh health data each cycle.
func (c *Client) Positions(ctx context.Context, user common.Address) ([]types.Position, error) {
	endpoint := fmt.Sprintf("%s/v1/positions?user=%s", c.baseURL, url.QueryEscape(user.Hex()))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payloads []positionPayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("unmarshal positions: %w", err)
	}

	positions := make([]types.Position, 0, len(payloads))
	for _, p := range payloads {
		health, err := types.ParseHealthStatus(p.Health)
		if err != nil {
			c.logger.Warn("position-health-unparseable",
				zap.String("position_id", p.ID),
				zap.String("health", p.Health))
			continue
		}
		positions = append(positions, types.Position{
			ID:           p.ID,
			ChainID:      p.ChainID,
			Venue:        common.HexToAddress(p.Venue),
			Asset:        p.Asset,
			Principal:    p.Principal,
			CurrentValue: p.CurrentValue,
			CurrentAPY:   p.CurrentAPY,
			Health:       health,
			ObservedAt:   time.Unix(p.ObservedAt, 0),
		})
	}

	PositionsFetchedTotal.Add(float64(len(positions)))

	return positions, nil
}

func venuesCacheKey(assetClass string) string {
	return "venues/" + assetClass
}

// Venues fetches venue snapshots for an asset class, serving from the
// cache within the TTL.
func (c *Client) Venues(ctx context.Context, assetClass string) ([]types.VenueSnapshot, error) {
	if cached, found := c.cache.Get(venuesCacheKey(assetClass)); found {
		if snaps, ok := cached.([]types.VenueSnapshot); ok {
			return snaps, nil
		}
	}

	endpoint := fmt.Sprintf("%s/v1/venues?asset=%s", c.baseURL, url.QueryEscape(assetClass))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var payloads []venuePayload
	if err := json.Unmarshal(body, &payloads); err != nil {
		return nil, fmt.Errorf("unmarshal venues: %w", err)
	}

	snaps := make([]types.VenueSnapshot, 0, len(payloads))
	for _, v := range payloads {
		snaps = append(snaps, types.VenueSnapshot{
			ChainID:     v.ChainID,
			Venue:       common.HexToAddress(v.Venue),
			Asset:       v.Asset,
			APY:         v.APY,
			TVL:         v.TVL,
			RiskScore:   v.RiskScore,
			MaxDrawdown: v.MaxDrawdown,
			GasUSD:      v.GasUSD,
			ObservedAt:  time.Unix(v.ObservedAt, 0),
		})
	}

	c.cache.Set(venuesCacheKey(assetClass), snaps, c.cacheTTL)
	VenueSnapshotsFetchedTotal.Add(float64(len(snaps)))

	return snaps, nil
}

// InvalidateVenues drops the cached snapshots for an asset class. Called
// by the stream when a push update supersedes the cached view.
func (c *Client) InvalidateVenues(assetClass string) {
	c.cache.Delete(venuesCacheKey(assetClass))
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		FeedErrorsTotal.Inc()
		return nil, types.WrapRepairError(types.ReasonNetworkUnavail, err, "feed unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		FeedErrorsTotal.Inc()
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
