package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/perennialfi/autopilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testUpgrader = websocket.Upgrader{}

func streamConfig(t *testing.T, url string) StreamConfig {
	t.Helper()

	return StreamConfig{
		URL:               url,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterPercent:     0.2,
		Logger:            zaptest.NewLogger(t),
	}
}

func TestNewStream_Validation(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, "http://127.0.0.1:1")
	handler := func(types.VenueSnapshot) {}
	logger := zaptest.NewLogger(t)

	_, err := NewStream(StreamConfig{Logger: logger}, client, handler)
	assert.Error(t, err, "empty URL should fail")

	cfg := StreamConfig{URL: "ws://x", InitialDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2, Logger: logger}
	_, err = NewStream(cfg, nil, handler)
	assert.Error(t, err, "nil client should fail")

	_, err = NewStream(cfg, client, nil)
	assert.Error(t, err, "nil handler should fail")
}

func TestStream_DeliversUpdatesAndInvalidatesCache(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		msg := `{"type":"venue_update","payload":{"chainId":137,"venue":"0xaaaa","asset":"USDC","apy":14.0,"tvlUsd":2000000,"riskScore":3.0,"maxDrawdown":8.0,"gasUsd":0.3,"observedAt":1750000000}}`
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client, sc := newTestClient(t, "http://127.0.0.1:1")
	sc.Set(venuesCacheKey("USDC"), []types.VenueSnapshot{}, time.Minute)

	updates := make(chan types.VenueSnapshot, 1)
	stream, err := NewStream(streamConfig(t, "ws"+strings.TrimPrefix(server.URL, "http")), client, func(s types.VenueSnapshot) {
		updates <- s
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = stream.Run(ctx)
		close(done)
	}()

	select {
	case snap := <-updates:
		assert.Equal(t, "USDC", snap.Asset)
		assert.Equal(t, 14.0, snap.APY)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for venue update")
	}

	_, found := sc.Get(venuesCacheKey("USDC"))
	assert.False(t, found, "a pushed update must invalidate the cached snapshots")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop on cancellation")
	}
}

func TestStream_ReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	var sessions atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		sessions.Add(1)
		conn.Close() // Drop immediately to force a reconnect.
	}))
	defer server.Close()

	client, _ := newTestClient(t, "http://127.0.0.1:1")
	stream, err := NewStream(streamConfig(t, "ws"+strings.TrimPrefix(server.URL, "http")), client, func(types.VenueSnapshot) {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = stream.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return sessions.Load() >= 2
	}, 3*time.Second, 10*time.Millisecond, "stream must reconnect after a dropped session")

	cancel()
	<-done
}

func TestStream_BackoffCapsAtMaxDelay(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, "http://127.0.0.1:1")
	stream, err := NewStream(streamConfig(t, "ws://127.0.0.1:1"), client, func(types.VenueSnapshot) {})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		stream.incrementBackoff()
	}

	// Jitter adds at most 20% on top of the capped delay.
	assert.LessOrEqual(t, stream.nextBackoff(), time.Duration(float64(50*time.Millisecond)*1.2))
}
