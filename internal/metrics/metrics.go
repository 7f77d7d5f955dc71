// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DatagramsTotal counts datagrams read from the shred socket
	DatagramsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shredtap_receiver_datagrams_total",
			Help: "Total number of datagrams read from the shred socket",
		},
	)

	// ReadErrorsTotal counts socket read errors, deadline expiry excluded
	ReadErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shredtap_receiver_read_errors_total",
			Help: "Total number of shred socket read errors",
		},
	)

	// ShredsDecodedTotal counts decoded shreds by kind
	ShredsDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shredtap_decoder_shreds_total",
			Help: "Total number of shreds decoded",
		},
		[]string{"type", "auth"},
	)

	// ShredsRejectedTotal counts packets that did not decode as shreds
	ShredsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shredtap_decoder_rejected_total",
			Help: "Total number of packets rejected by the shred decoder",
		},
		[]string{"reason"},
	)

	// QueueDroppedTotal counts shreds evicted from a full dispatch queue
	QueueDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shredtap_queue_dropped_total",
			Help: "Total number of shreds dropped from the dispatch queue",
		},
	)

	// QueueDepth tracks shreds waiting for dispatch
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shredtap_queue_depth",
			Help: "Number of shreds waiting in the dispatch queue",
		},
	)

	// PluginHandledTotal counts shreds handed to each output plugin
	PluginHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shredtap_plugin_handled_total",
			Help: "Total number of shreds handled by output plugins",
		},
		[]string{"plugin"},
	)

	// PluginErrorsTotal counts output plugin failures by kind
	PluginErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shredtap_plugin_errors_total",
			Help: "Total number of output plugin errors",
		},
		[]string{"plugin", "error_type"},
	)

	// PluginHandleSeconds measures Handle latency per plugin
	PluginHandleSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shredtap_plugin_handle_seconds",
			Help:    "Latency of output plugin Handle calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
		[]string{"plugin"},
	)

	// FECSetsTotal counts FEC sets by outcome once they stop receiving shreds
	FECSetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shredtap_fecset_total",
			Help: "Total number of FEC sets tracked, by outcome",
		},
		[]string{"outcome"},
	)

	// DiscoveryPeers tracks the last observed peer counts
	DiscoveryPeers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "shredtap_discovery_peers",
			Help: "Number of peers seen in the last discovery poll",
		},
		[]string{"kind"},
	)

	// DiscoveryReady is 1 once the peer threshold was exceeded
	DiscoveryReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shredtap_discovery_ready",
			Help: "Whether peer discovery reached its readiness threshold",
		},
	)
)

// Error type label values for PluginErrorsTotal
const (
	ErrorTypeStart  = "start"
	ErrorTypeHandle = "handle"
	ErrorTypePanic  = "panic"
	ErrorTypeStop   = "stop"
)
