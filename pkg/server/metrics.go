package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the control and audio planes update.
// Registered against a Prometheus registry so /metrics (see
// StartMetricsHTTP) can expose them through promhttp without any
// hand-rolled exposition-format writer.
type Metrics struct {
	ConnectionsTotal  prometheus.Counter
	ConnectionsActive prometheus.Gauge
	AuthSuccessTotal  prometheus.Counter
	AuthFailedTotal   prometheus.Counter
	DisconnectsTotal  prometheus.Counter

	VoicePacketsIn      prometheus.Counter
	VoicePacketsOut     prometheus.Counter
	VoicePacketsDropped *prometheus.CounterVec
	VoiceBytesIn        prometheus.Counter
	VoiceBytesOut       prometheus.Counter
	VoiceRateLimited    prometheus.Counter

	ChatMessagesTotal prometheus.Counter

	ChannelsCreatedTotal prometheus.Counter
	ChannelsDeletedTotal prometheus.Counter

	TokensCreatedTotal prometheus.Counter
	KicksTotal         prometheus.Counter
	BansTotal          prometheus.Counter

	PermissionDeniedTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers every metric against reg. Pass a
// fresh prometheus.NewRegistry() in tests to avoid collisions with the
// default registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_connections_total",
			Help: "Lifetime TLS control connections accepted.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "whispr_connections_active",
			Help: "Current active control connections.",
		}),
		AuthSuccessTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_auth_success_total",
			Help: "Successful authentication attempts.",
		}),
		AuthFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_auth_failed_total",
			Help: "Failed authentication attempts.",
		}),
		DisconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_disconnects_total",
			Help: "Total client disconnects.",
		}),
		VoicePacketsIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_voice_packets_in_total",
			Help: "Total UDP audio packets received.",
		}),
		VoicePacketsOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_voice_packets_out_total",
			Help: "Total UDP audio packets forwarded.",
		}),
		VoicePacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whispr_voice_packets_dropped_total",
			Help: "Dropped audio packets by reason.",
		}, []string{"reason"}),
		VoiceBytesIn: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_voice_bytes_in_total",
			Help: "Total audio bytes received.",
		}),
		VoiceBytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_voice_bytes_out_total",
			Help: "Total audio bytes forwarded.",
		}),
		VoiceRateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_voice_rate_limited_total",
			Help: "Audio packets dropped by the per-sender rate limiter.",
		}),
		ChatMessagesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_chat_messages_total",
			Help: "Total chat messages relayed.",
		}),
		ChannelsCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_channels_created_total",
			Help: "Channels created during this run.",
		}),
		ChannelsDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_channels_deleted_total",
			Help: "Channels deleted during this run.",
		}),
		TokensCreatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_tokens_created_total",
			Help: "Bearer tokens issued.",
		}),
		KicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_kicks_total",
			Help: "Users kicked.",
		}),
		BansTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "whispr_bans_total",
			Help: "Users banned.",
		}),
		PermissionDeniedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "whispr_permission_denied_total",
			Help: "Requests rejected by the permission evaluator, by permission id.",
		}, []string{"permission"}),
	}
}
