package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conveyor_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)

	// Ingest metrics
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_ingest_messages_total",
			Help: "Total number of messages received over HTTP ingest",
		},
		[]string{"status"}, // status: accepted, rejected
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conveyor_ingest_batch_size",
			Help:    "Size of message batches received",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	// Worker metrics
	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyor_worker_queue_size",
			Help: "Current size of the outbound envelope queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyor_worker_queue_capacity",
			Help: "Capacity of the outbound envelope queue",
		},
	)

	WorkerProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyor_worker_processed_total",
			Help: "Total number of envelopes sent by workers",
		},
	)

	WorkerFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyor_worker_failed_total",
			Help: "Total number of envelopes workers failed to send",
		},
	)

	WorkerBatchSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conveyor_worker_batch_send_duration_seconds",
			Help:    "Time taken to send a batch through the bus",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Bus metrics
	BusSendTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_bus_send_total",
			Help: "Total number of envelopes sent to the transport",
		},
		[]string{"status"}, // status: success, failed
	)

	BusSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conveyor_bus_send_duration_seconds",
			Help:    "Time taken to send to the transport",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	BusBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyor_bus_bytes_written_total",
			Help: "Total bytes written to the transport",
		},
	)

	// Engine metrics
	EngineRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_engine_records_total",
			Help: "Total number of records processed by the engine",
		},
		[]string{"result"}, // result: handled, deserialize_error, handler_error, duplicate
	)

	EngineDispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conveyor_engine_dispatch_duration_seconds",
			Help:    "Time taken to dispatch a record to its handler",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	EngineCheckpointsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyor_engine_checkpoints_total",
			Help: "Total number of checkpoints persisted",
		},
	)

	EngineCheckpointFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyor_engine_checkpoint_failures_total",
			Help: "Total number of checkpoint attempts that failed",
		},
	)

	EngineExceptionHandlerFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyor_engine_exception_handler_failures_total",
			Help: "Total number of exception handler invocations that failed",
		},
	)

	EngineRebalances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conveyor_engine_rebalances_total",
			Help: "Total number of consumer group generations joined",
		},
	)

	EnginePartitionsAssigned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conveyor_engine_partitions_assigned",
			Help: "Number of partitions currently owned by this instance",
		},
	)

	// Dead-letter metrics
	DeadLettersPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_dead_letters_published_total",
			Help: "Total number of failed records republished to the dead-letter topic",
		},
		[]string{"status"}, // status: success, failed
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conveyor_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
