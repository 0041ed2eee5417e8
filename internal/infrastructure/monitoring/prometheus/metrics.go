package prometheus

import (
	"strconv"
	"time"
)

// EngineMetrics holds every metric family emitted by the similarity engine
// and the adapters around it.
type EngineMetrics struct {
	// Runs
	RunsTotal       CounterVec
	RunDuration     HistogramVec
	ActiveWorkers   GaugeVec
	ChunkDuration   HistogramVec
	ChunkRetries    CounterVec
	RecordsTotal    CounterVec
	RecordsSkipped  CounterVec
	MatchesPerQuery HistogramVec

	// Engine internals
	SubgraphsEnumerated CounterVec
	LibrarySize         GaugeVec
	LibraryClasses      GaugeVec

	// Adapters
	CacheHitsTotal      CounterVec
	CacheMissesTotal    CounterVec
	MessageProcessed    CounterVec
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec
	StorageOpDuration   HistogramVec
}

// Default buckets
var (
	DefaultHTTPDurationBuckets  = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	DefaultChunkDurationBuckets = []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 900}
	DefaultRunDurationBuckets   = []float64{.1, 1, 5, 10, 30, 60, 300, 900, 1800, 3600}
	DefaultMatchCountBuckets    = []float64{0, 1, 2, 5, 10, 25, 50, 100, 500, 1000}
)

// NewEngineMetrics registers all engine metrics on collector.  A nil
// collector yields metrics that discard every observation.
func NewEngineMetrics(collector MetricsCollector) *EngineMetrics {
	if collector == nil {
		return NewNoopEngineMetrics()
	}
	m := &EngineMetrics{}

	m.RunsTotal = collector.RegisterCounter("runs_total", "Similarity runs by outcome", "status")
	m.RunDuration = collector.RegisterHistogram("run_duration_seconds", "Similarity run duration", DefaultRunDurationBuckets, "mode")
	m.ActiveWorkers = collector.RegisterGauge("active_workers", "Workers currently processing a chunk", "pool")
	m.ChunkDuration = collector.RegisterHistogram("chunk_duration_seconds", "Per-chunk processing duration", DefaultChunkDurationBuckets, "pool")
	m.ChunkRetries = collector.RegisterCounter("chunk_retries_total", "Chunk retry attempts", "pool")
	m.RecordsTotal = collector.RegisterCounter("records_total", "Records processed by outcome", "outcome")
	m.RecordsSkipped = collector.RegisterCounter("records_skipped_total", "Records skipped by reason", "reason")
	m.MatchesPerQuery = collector.RegisterHistogram("matches_per_record", "Library matches per query record", DefaultMatchCountBuckets, "mode")

	m.SubgraphsEnumerated = collector.RegisterCounter("subgraphs_enumerated_total", "Connected subgraphs enumerated", "source")
	m.LibrarySize = collector.RegisterGauge("library_entries", "Reference library entries", "version")
	m.LibraryClasses = collector.RegisterGauge("library_subgraph_classes", "Distinct isomorphism classes indexed", "version")

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.MessageProcessed = collector.RegisterCounter("messages_processed_total", "Messages processed", "topic", "status")
	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultHTTPDurationBuckets, "method", "path")
	m.StorageOpDuration = collector.RegisterHistogram("storage_op_duration_seconds", "Storage operation duration", DefaultHTTPDurationBuckets, "backend", "operation")

	return m
}

// NewNoopEngineMetrics returns EngineMetrics whose series discard values.
func NewNoopEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		RunsTotal:           noopCounterVec{},
		RunDuration:         noopHistogramVec{},
		ActiveWorkers:       noopGaugeVec{},
		ChunkDuration:       noopHistogramVec{},
		ChunkRetries:        noopCounterVec{},
		RecordsTotal:        noopCounterVec{},
		RecordsSkipped:      noopCounterVec{},
		MatchesPerQuery:     noopHistogramVec{},
		SubgraphsEnumerated: noopCounterVec{},
		LibrarySize:         noopGaugeVec{},
		LibraryClasses:      noopGaugeVec{},
		CacheHitsTotal:      noopCounterVec{},
		CacheMissesTotal:    noopCounterVec{},
		MessageProcessed:    noopCounterVec{},
		HTTPRequestsTotal:   noopCounterVec{},
		HTTPRequestDuration: noopHistogramVec{},
		StorageOpDuration:   noopHistogramVec{},
	}
}

// Helpers

// RecordRun records the outcome and duration of a similarity run.
func RecordRun(m *EngineMetrics, mode string, success bool, d time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// RecordCacheAccess records a cache hit or miss.
func RecordCacheAccess(m *EngineMetrics, cache string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

// RecordHTTPRequest records an HTTP request served by the API.
func RecordHTTPRequest(m *EngineMetrics, method, path string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
