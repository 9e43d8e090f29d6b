package observability

import (
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics records JSON-RPC activity on the node.
type RPCMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// LedgerMetrics records farming engine outcomes as observed at the host.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	harvested  prometheus.Counter
	drained    prometheus.Counter
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *RPCMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// RPC returns the lazily-initialised JSON-RPC metrics registry.
func RPC() *RPCMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farmnet",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farmnet",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "farmnet",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
		)
	})
	return rpcRegistry
}

// Observe records one completed request.
func (m *RPCMetrics) Observe(method, outcome string, code string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	if outcome == "error" {
		m.errors.WithLabelValues(method, code).Inc()
	}
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}

// Ledger returns the lazily-initialised farming ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "farmnet",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total farming operations segmented by kind and outcome.",
			}, []string{"operation", "outcome"}),
			harvested: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "farmnet",
				Subsystem: "ledger",
				Name:      "harvested_units_total",
				Help:      "Gross reward units settled to stakers across all farms.",
			}),
			drained: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "farmnet",
				Subsystem: "ledger",
				Name:      "drained_units_total",
				Help:      "Reward units swept through the administrative drain.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.harvested,
			ledgerRegistry.drained,
		)
	})
	return ledgerRegistry
}

// RecordOperation counts one farming operation attempt.
func (m *LedgerMetrics) RecordOperation(operation string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordHarvest adds a settled gross amount to the harvest counter. Amounts
// beyond float precision saturate rather than fail; the counter is a gauge of
// activity, not an accounting source of truth.
func (m *LedgerMetrics) RecordHarvest(gross *big.Int) {
	if m == nil || gross == nil || gross.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(gross).Float64()
	m.harvested.Add(value)
}

// RecordDrain adds a swept amount to the drain counter.
func (m *LedgerMetrics) RecordDrain(amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	value, _ := new(big.Float).SetInt(amount).Float64()
	m.drained.Add(value)
}
