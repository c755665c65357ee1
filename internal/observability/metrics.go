package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReactionToggles counts reaction writes by kind and outcome (applied or removed).
	ReactionToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_reaction_toggles_total",
		Help: "Total reaction toggles by kind and result",
	}, []string{"subject", "kind", "result"})

	// CommentWrites counts committed comment mutations by operation.
	CommentWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_comment_writes_total",
		Help: "Total committed comment writes by operation",
	}, []string{"operation"})

	// TxRetries counts transaction attempts that were retried after a conflict.
	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campusfeed_tx_retries_total",
		Help: "Total transaction retries after serialization conflicts",
	})

	// TxFailures counts transactions abandoned by reason.
	TxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_tx_failures_total",
		Help: "Total transactions that failed to commit",
	}, []string{"reason"})

	// ActiveSubscriptions is the number of live subscriptions per topic.
	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "campusfeed_active_subscriptions",
		Help: "Number of live change subscriptions by topic",
	}, []string{"topic"})

	// SubscriptionReconnects counts re-subscribe attempts after a broker failure.
	SubscriptionReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_subscription_reconnects_total",
		Help: "Total live subscription reconnect attempts",
	}, []string{"topic"})

	// LiveConnections is the number of open /ws/live connections.
	LiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campusfeed_live_connections",
		Help: "Number of open live websocket connections",
	})

	// ReconcileRepairs counts rows fixed by the reconciliation sweep.
	ReconcileRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_reconcile_repairs_total",
		Help: "Rows repaired by the reconciliation sweep by kind",
	}, []string{"kind"})

	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campusfeed_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campusfeed_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
