// Package observability hosts the Prometheus registries shared by the loan
// engine, the oracle module, and the HTTP gateway.
package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LoanMetrics records settlement lifecycle activity.
type LoanMetrics struct {
	expirations *prometheus.CounterVec
	refinances  *prometheus.CounterVec
	settlements *prometheus.CounterVec
	claims      *prometheus.CounterVec
}

// OracleMetrics records price feed activity.
type OracleMetrics struct {
	rounds   *prometheus.CounterVec
	rejected *prometheus.CounterVec
}

// GatewayMetrics records HTTP handler activity.
type GatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	loanMetricsOnce sync.Once
	loanRegistry    *LoanMetrics

	oracleMetricsOnce sync.Once
	oracleRegistry    *OracleMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *GatewayMetrics
)

// Loans returns the lazily-initialised loan lifecycle metrics.
func Loans() *LoanMetrics {
	loanMetricsOnce.Do(func() {
		loanRegistry = &LoanMetrics{
			expirations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "loan",
				Name:      "expirations_total",
				Help:      "Loans moved past maturity, segmented by refinance eligibility.",
			}, []string{"refi_eligible"}),
			refinances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "loan",
				Name:      "refinance_attempts_total",
				Help:      "Refinance attempts segmented by outcome.",
			}, []string{"outcome"}),
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "loan",
				Name:      "settlements_total",
				Help:      "Loans settled, segmented by payoff region.",
			}, []string{"region"}),
			claims: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "loan",
				Name:      "claims_total",
				Help:      "Collateral claims paid out, segmented by party.",
			}, []string{"party"}),
		}
		prometheus.MustRegister(
			loanRegistry.expirations,
			loanRegistry.refinances,
			loanRegistry.settlements,
			loanRegistry.claims,
		)
	})
	return loanRegistry
}

// RecordExpiration counts a fixed settlement price.
func (m *LoanMetrics) RecordExpiration(refiEligible bool) {
	if m == nil {
		return
	}
	m.expirations.WithLabelValues(fmt.Sprintf("%t", refiEligible)).Inc()
}

// RecordRefinance counts a refinance attempt outcome.
func (m *LoanMetrics) RecordRefinance(success bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "succeeded"
	}
	m.refinances.WithLabelValues(outcome).Inc()
}

// RecordSettlement counts a settlement in the given payoff region. Regions
// should be the stable strings "downside", "middle", or "upside".
func (m *LoanMetrics) RecordSettlement(region string) {
	if m == nil {
		return
	}
	if region == "" {
		region = "unknown"
	}
	m.settlements.WithLabelValues(region).Inc()
}

// RecordClaim counts a paid-out claim for "borrower" or "lender".
func (m *LoanMetrics) RecordClaim(party string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(party).Inc()
}

// Oracle returns the lazily-initialised price feed metrics.
func Oracle() *OracleMetrics {
	oracleMetricsOnce.Do(func() {
		oracleRegistry = &OracleMetrics{
			rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "oracle",
				Name:      "rounds_total",
				Help:      "Accepted oracle rounds segmented by pair.",
			}, []string{"pair"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "oracle",
				Name:      "rounds_rejected_total",
				Help:      "Rejected oracle rounds segmented by pair.",
			}, []string{"pair"}),
		}
		prometheus.MustRegister(oracleRegistry.rounds, oracleRegistry.rejected)
	})
	return oracleRegistry
}

// RecordRound counts an accepted or rejected round for a pair.
func (m *OracleMetrics) RecordRound(pair string, accepted bool) {
	if m == nil {
		return
	}
	if pair == "" {
		pair = "unknown"
	}
	if accepted {
		m.rounds.WithLabelValues(pair).Inc()
		return
	}
	m.rejected.WithLabelValues(pair).Inc()
}

// Gateway returns the lazily-initialised gateway metrics.
func Gateway() *GatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total gateway requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total gateway errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "strikelend",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "strikelend",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a gateway request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *GatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route.
func (m *GatewayMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}
