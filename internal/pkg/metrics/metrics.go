package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voltlink"

// Analysis cycle outcomes.
const (
	OutcomeOK              = "ok"
	OutcomeFailed          = "failed"
	OutcomeSkippedInFlight = "skipped_inflight"
	OutcomeSkippedNoData   = "skipped_nodata"
	OutcomeDiscarded       = "discarded"
)

var (
	// Registry holds every voltlink collector plus the Go and process collectors.
	Registry = prometheus.NewRegistry()

	// ConnectionState is 0 = disconnected, 1 = connecting, 2 = connected.
	ConnectionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current link state (0=disconnected, 1=connecting, 2=connected).",
		},
	)

	ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Connect attempts by transport kind and result.",
		},
		[]string{"kind", "result"}, // result: success or an error kind
	)

	RecordsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_decoded_total",
			Help:      "Telemetry records accepted, by transport kind.",
		},
		[]string{"kind"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Inbound messages discarded because they could not be decoded.",
		},
		[]string{"reason"},
	)

	HistoryLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_length",
			Help:      "Number of records currently retained in the history window.",
		},
	)

	AnalysisCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_cycles_total",
			Help:      "Analysis scheduler ticks by outcome.",
		},
		[]string{"outcome"},
	)

	AnalysisLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_latency_seconds",
			Help:      "Latency of calls to the remote analysis service.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	RelayPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_published_total",
			Help:      "Relay publishes by topic class and result (ok, error, dropped).",
		},
		[]string{"class", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ConnectionState,
		ConnectAttempts,
		RecordsDecoded,
		MessagesDropped,
		HistoryLength,
		AnalysisCycles,
		AnalysisLatency,
		RelayPublished,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
