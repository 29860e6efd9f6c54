package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ledgerq"

// Metrics collects query processor instrumentation.
type Metrics struct {
	queries           *prometheus.CounterVec
	blocksQueries     *prometheus.CounterVec
	activeStreams     prometheus.Gauge
	streamResponses   prometheus.Counter
	anomalies         prometheus.Counter
	duplicatesDropped prometheus.Counter
	catchupRestarts   prometheus.Counter
}

// NewMetrics registers the processor metrics with reg. A nil registerer
// yields working but unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "queries_total",
			Help:      "Point queries handled, by result (ok, error_response, unavailable).",
		}, []string{"result"}),
		blocksQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "blocks_queries_total",
			Help:      "Blocks-queries handled, by admission outcome (rejected, live_only, catchup).",
		}, []string{"outcome"}),
		activeStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "active_block_streams",
			Help:      "Admitted blocks-query streams not yet closed.",
		}),
		streamResponses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "block_stream_responses_total",
			Help:      "Block responses delivered on blocks-query streams.",
		}),
		anomalies: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "block_stream_anomalies_total",
			Help:      "Error-shaped entries dropped from the live commit feed.",
		}),
		duplicatesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "block_stream_duplicates_dropped_total",
			Help:      "Buffered or live blocks dropped because their height was already delivered.",
		}),
		catchupRestarts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "block_stream_catchup_restarts_total",
			Help:      "Streams that fell behind the commit feed and resumed from storage.",
		}),
	}
}
