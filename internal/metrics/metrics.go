package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Navigation metrics
	NavigationsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_navigations_started_total",
			Help: "Total number of navigation requests started",
		},
		[]string{"trigger"}, // click, fragment
	)

	NavigationsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_navigations_completed_total",
			Help: "Total number of navigation requests finished",
		},
		[]string{"trigger", "status"}, // done, timed_out
	)

	LocateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_locate_duration_ms",
			Help:    "Element locate duration in milliseconds",
			Buckets: []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	LocateFallbackPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_locate_fallback_polls_total",
			Help: "Total number of locator fallback poll checks",
		},
	)

	// Citation metrics
	RegistryRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_registry_rebuilds_total",
			Help: "Total number of citation registry rebuilds",
		},
	)

	CitationsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_citations_resolved_total",
			Help: "Total number of citation keys resolved to evidence",
		},
		[]string{"kind"}, // web, retrieval, memory
	)

	CitationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_citations_dropped_total",
			Help: "Total number of citation keys left unresolved at render",
		},
	)

	// Conversation metrics
	MessagesAttached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_messages_attached_total",
			Help: "Total number of message views attached to conversations",
		},
	)

	ConversationCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_conversation_cache_size",
			Help: "Number of conversations held in the local cache",
		},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_stream_subscribers",
			Help: "Number of active event stream subscribers",
		},
	)
)
