package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PositionsFetchedTotal counts positions returned by the feed.
	PositionsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_feed_positions_fetched_total",
		Help: "Total number of positions fetched from the data feed",
	})

	// VenueSnapshotsFetchedTotal counts venue snapshots returned by the feed.
	VenueSnapshotsFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_feed_venue_snapshots_fetched_total",
		Help: "Total number of venue snapshots fetched from the data feed",
	})

	// FeedErrorsTotal counts failed feed requests.
	FeedErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_feed_errors_total",
		Help: "Total number of failed feed requests",
	})

	// StreamUpdatesTotal counts venue updates received over the stream.
	StreamUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_feed_stream_updates_total",
		Help: "Total number of venue updates received over the websocket stream",
	})

	// StreamReconnectsTotal counts websocket reconnection attempts.
	StreamReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "autopilot_feed_stream_reconnects_total",
		Help: "Total number of websocket stream reconnection attempts",
	})
)
