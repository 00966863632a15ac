package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner pipeline counters, gauges and histograms.

var (
	// Window
	WindowSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokenscan",
		Subsystem: "window",
		Name:      "size_blocks",
		Help:      "Current adaptive window size in blocks",
	})

	NextBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokenscan",
		Subsystem: "window",
		Name:      "next_block",
		Help:      "First block of the next window",
	})

	WindowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "window",
		Name:      "processed_total",
		Help:      "Total windows fully processed",
	})

	WindowLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tokenscan",
		Subsystem: "window",
		Name:      "duration_seconds",
		Help:      "Window processing duration including bisection and classification",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})

	// Fetcher
	LogQueries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "fetcher",
		Name:      "log_queries_total",
		Help:      "Total eth_getLogs queries by outcome",
	}, []string{"result"})

	Bisections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "fetcher",
		Name:      "bisections_total",
		Help:      "Total range splits caused by too-many-results responses",
	})

	MatchedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "fetcher",
		Name:      "matched_events_total",
		Help:      "Total transfer events returned by log queries",
	})

	// Classifier
	ProbeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "erc165",
		Name:      "probe_calls_total",
		Help:      "Total supportsInterface probes by outcome",
	}, []string{"result"})

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "classifier",
		Name:      "contracts_total",
		Help:      "Total newly stored contract classifications by type",
	}, []string{"type"})

	// Token URIs
	TokenURIs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "erc721",
		Name:      "token_uris_total",
		Help:      "Token URI handling by outcome",
	}, []string{"result"})

	// Cache
	SnapshotLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tokenscan",
		Subsystem: "cache",
		Name:      "snapshot_duration_seconds",
		Help:      "Snapshot load and persist duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"})

	CachedContracts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokenscan",
		Subsystem: "cache",
		Name:      "contracts",
		Help:      "Number of classified contracts in the last persisted snapshot",
	})

	// RPC
	RPCCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "rpc",
		Name:      "calls_total",
		Help:      "Total RPC calls by method and status",
	}, []string{"method", "status"})

	RPCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tokenscan",
		Subsystem: "rpc",
		Name:      "call_duration_seconds",
		Help:      "RPC call duration",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method"})

	RPCRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "rpc",
		Name:      "rate_limit_waits_total",
		Help:      "Total RPC calls delayed by the client-side rate limiter",
	})

	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "rpc",
		Name:      "retries_total",
		Help:      "Total retried attempts by operation",
	}, []string{"operation"})

	// Output
	OutputRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "output",
		Name:      "records_total",
		Help:      "Total records written by kind and sink",
	}, []string{"kind", "sink"})

	OutputErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenscan",
		Subsystem: "output",
		Name:      "errors_total",
		Help:      "Total output write errors by sink",
	}, []string{"sink"})
)
