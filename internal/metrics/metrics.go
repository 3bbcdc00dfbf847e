// Package metrics holds the prometheus collectors for the tracking pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawwalk_ingest_samples_total",
			Help: "Position samples received, by outcome (accepted or rejection reason)",
		},
		[]string{"result"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pawwalk_ingest_duration_seconds",
			Help:    "Time spent ingesting one position sample",
			Buckets: prometheus.DefBuckets,
		},
	)

	TrackCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pawwalk_track_cache_entries",
			Help: "Walks currently held in the hot track cache",
		},
	)

	TrackCacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawwalk_track_cache_reads_total",
			Help: "Track summary reads by source (cache or storage)",
		},
		[]string{"source"},
	)

	TrackCacheSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pawwalk_track_cache_swept_samples_total",
			Help: "Samples discarded by the retention sweep",
		},
	)

	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawwalk_broadcasts_total",
			Help: "Outbound messages delivered to connections, by kind",
		},
		[]string{"kind"},
	)

	BroadcastDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawwalk_broadcast_drops_total",
			Help: "Outbound messages not delivered, by reason",
		},
		[]string{"reason"},
	)

	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pawwalk_active_subscriptions",
			Help: "Connections currently subscribed to a walk",
		},
	)

	RelayPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pawwalk_relay_publish_errors_total",
			Help: "Failed publishes to the cross-instance relay",
		},
	)
)
