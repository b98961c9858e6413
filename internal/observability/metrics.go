// Package observability provides Prometheus metrics and OpenTelemetry tracing.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Runtime metrics
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
	InstructionsTotal   *prometheus.CounterVec
	InstructionDuration *prometheus.HistogramVec

	// Token metrics
	TokensMinted    prometheus.Counter
	MintsCreated    prometheus.Counter
	AccountsCreated *prometheus.CounterVec

	// RPC metrics
	RPCRequestsTotal  *prometheus.CounterVec
	RPCRequestLatency *prometheus.HistogramVec
	WSSubscribers     prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	CurrentSlot prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pda_mint"
	}

	return &Metrics{
		TransactionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "transactions_total",
			Help:      "Total number of transactions by outcome",
		}, []string{"status"}),
		TransactionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "transaction_duration_seconds",
			Help:      "Transaction execution time in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		InstructionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "instructions_total",
			Help:      "Total number of instructions by program and outcome, including nested invocations",
		}, []string{"program", "status"}),
		InstructionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "instruction_duration_seconds",
			Help:      "Instruction execution time in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"program"}),

		TokensMinted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "minted_units_total",
			Help:      "Total base units minted across all mints",
		}),
		MintsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "mints_created_total",
			Help:      "Total number of mints initialized",
		}),
		AccountsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "accounts_created_total",
			Help:      "Total number of accounts created by owner program",
		}, []string{"owner"}),

		RPCRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of JSON-RPC requests by method and outcome",
		}, []string{"method", "status"}),
		RPCRequestLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_latency_seconds",
			Help:      "JSON-RPC request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		WSSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "ws_subscriptions",
			Help:      "Current number of active logs subscriptions",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		CurrentSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "current_slot",
			Help:      "Slot of the last executed transaction",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTransaction records a transaction outcome ("success", "failed", "rejected").
func RecordTransaction(status string, seconds float64) {
	DefaultMetrics.TransactionsTotal.WithLabelValues(status).Inc()
	if status != "rejected" {
		DefaultMetrics.TransactionDuration.Observe(seconds)
	}
}

// RecordInstruction records one instruction, top-level or nested.
func RecordInstruction(program, status string, seconds float64) {
	DefaultMetrics.InstructionsTotal.WithLabelValues(program, status).Inc()
	DefaultMetrics.InstructionDuration.WithLabelValues(program).Observe(seconds)
}

// RecordTokensMinted adds amount to the minted units counter.
func RecordTokensMinted(amount uint64) {
	DefaultMetrics.TokensMinted.Add(float64(amount))
}

// RecordMintCreated increments the mints created counter.
func RecordMintCreated() {
	DefaultMetrics.MintsCreated.Inc()
}

// RecordAccountCreated increments the accounts created counter.
func RecordAccountCreated(owner string) {
	DefaultMetrics.AccountsCreated.WithLabelValues(owner).Inc()
}

// RecordRPCRequest records a JSON-RPC request.
func RecordRPCRequest(method, status string, seconds float64) {
	DefaultMetrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	DefaultMetrics.RPCRequestLatency.WithLabelValues(method).Observe(seconds)
}

// AddWSSubscribers adjusts the subscription gauge by delta.
func AddWSSubscribers(delta int) {
	DefaultMetrics.WSSubscribers.Add(float64(delta))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// UpdateSlot updates the current slot gauge.
func UpdateSlot(slot int64) {
	DefaultMetrics.CurrentSlot.Set(float64(slot))
}
