package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	BatchesIngested *prometheus.CounterVec
	EventsIngested  *prometheus.CounterVec
	IngestRejected  *prometheus.CounterVec
	BatchBytes      *prometheus.HistogramVec

	DispatchesTotal  *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	ModulesSkipped   *prometheus.CounterVec

	FindingsTotal *prometheus.CounterVec
)

var initOnce sync.Once

// Init registers all Prometheus collectors. Idempotent; called at startup
// before the first request is served.
func Init() {
	initOnce.Do(register)
}

func register() {
	BatchesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packetwatch",
			Name:      "batches_ingested_total",
			Help:      "Total number of accepted telemetry batches.",
		},
		[]string{"server"},
	)
	EventsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packetwatch",
			Name:      "events_ingested_total",
			Help:      "Total number of telemetry events across accepted batches.",
		},
		[]string{"server"},
	)
	IngestRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packetwatch",
			Name:      "ingest_rejected_total",
			Help:      "Ingest requests rejected before indexing, by reason.",
		},
		[]string{"reason"},
	)
	BatchBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "packetwatch",
			Name:      "batch_payload_bytes",
			Help:      "Compressed payload size of accepted batches.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		},
		[]string{"server"},
	)

	DispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packetwatch",
			Name:      "dispatches_total",
			Help:      "Batch deliveries attempted per module, by outcome.",
		},
		[]string{"module", "status"},
	)
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "packetwatch",
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of one batch delivery to one module.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"module"},
	)
	ModulesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packetwatch",
			Name:      "modules_skipped_total",
			Help:      "Deliveries skipped because the module was marked unhealthy.",
		},
		[]string{"module"},
	)

	FindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "packetwatch",
			Name:      "findings_total",
			Help:      "Findings reported by detection modules, by detector.",
		},
		[]string{"detector"},
	)

	prometheus.MustRegister(
		BatchesIngested, EventsIngested, IngestRejected, BatchBytes,
		DispatchesTotal, DispatchDuration, ModulesSkipped,
		FindingsTotal,
	)
}
