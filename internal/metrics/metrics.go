// Package metrics exposes the gateway's Prometheus series in /metrics
// (text exposition format), package-level vars registered once in init()
// and incremented/set at call sites — the same shape as the trading bot's
// metrics.go.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// BusMessages is a per-topic-kind bus message counter. It is registered
	// but no code path in this repository increments it.
	BusMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_bus_messages_total",
			Help: "Messages published on the bus, by topic kind.",
		},
		[]string{"topic"},
	)

	// SubscriptionRefCount is a per-(symbol,exchange) ref-count gauge. It
	// is registered but no code path in this repository sets it.
	SubscriptionRefCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_subscription_ref_count",
			Help: "Reference count per subscription key.",
		},
		[]string{"symbol", "exchange"},
	)

	// EngineCycleSeconds observes wall-clock duration of one ExecutionEngine
	// poll cycle, for watching check_interval_ms headroom under load.
	EngineCycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_engine_cycle_seconds",
			Help:    "Duration of one ExecutionEngine poll cycle.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// FillsTotal counts committed fills by pricetype, for distinguishing
	// MARKET/LIMIT/SL/SL-M fill volume.
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_fills_total",
			Help: "SimOrder fills committed, by price type.",
		},
		[]string{"price_type"},
	)

	// FundsInvariantViolations is a canary: it should never increment. Any
	// non-zero value means available+used_margin drifted from
	// capital+realized_pnl_today (spec.md §4.5's funds invariant) and wants
	// an operator page, not a debugging session.
	FundsInvariantViolations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_funds_invariant_violations_total",
			Help: "Times a funds row failed its available+used=capital+pnl invariant check.",
		},
		[]string{"user_id"},
	)

	// SquareOffPositionsClosed counts synthetic square-off fills, by
	// exchange, for confirming the 15:15/16:45/23:30/17:00 jobs actually ran.
	SquareOffPositionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_squareoff_positions_closed_total",
			Help: "Positions force-closed by the square-off job, by exchange.",
		},
		[]string{"exchange"},
	)
)

func init() {
	prometheus.MustRegister(
		BusMessages,
		SubscriptionRefCount,
		EngineCycleSeconds,
		FillsTotal,
		FundsInvariantViolations,
		SquareOffPositionsClosed,
	)
}

// CheckFundsInvariant increments the violation canary if f fails its
// invariant, returning whether it held. Callers typically call this right
// after store.GetFunds in the MTM sweep or after a fill commits.
func CheckFundsInvariant(userID string, holds bool) bool {
	if !holds {
		FundsInvariantViolations.WithLabelValues(userID).Inc()
	}
	return holds
}
