package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsListed tracks ids returned by the listing API per owner
	ItemsListed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_items_listed_total",
			Help: "Total number of item ids returned by listing",
		},
		[]string{"owner"},
	)

	// ItemsEnqueued tracks ids newly added to the queue
	ItemsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_items_enqueued_total",
			Help: "Total number of items newly added to the queue",
		},
		[]string{"owner"},
	)

	// ItemsSynced tracks items fetched and persisted
	ItemsSynced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_items_synced_total",
			Help: "Total number of items fetched and persisted",
		},
		[]string{"owner"},
	)

	// ItemsFailed tracks failed item attempts; dropped is "true" when the
	// item exhausted its queue retries
	ItemsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_items_failed_total",
			Help: "Total number of failed item attempts",
		},
		[]string{"owner", "dropped"},
	)

	// ItemsClassified tracks classification outcomes
	ItemsClassified = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_items_classified_total",
			Help: "Total number of items classified",
		},
		[]string{"result"},
	)

	// RemoteCallsTotal tracks calls to external services
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_remote_calls_total",
			Help: "Total number of remote API calls",
		},
		[]string{"service", "method"},
	)

	// RemoteErrorsTotal tracks remote call errors
	RemoteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_remote_errors_total",
			Help: "Total number of remote API errors",
		},
		[]string{"service", "error_type"},
	)

	// RemoteLatency tracks remote call latency
	RemoteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inboxsync_remote_latency_seconds",
			Help:    "Remote call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method"},
	)

	// RetriesTotal tracks retry attempts scheduled by the retry executor
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inboxsync_retries_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"pipeline", "rate_limited"},
	)

	// AdmissionLevel tracks the current admission controller concurrency
	AdmissionLevel = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inboxsync_admission_concurrency",
			Help: "Current admitted concurrency per pipeline",
		},
		[]string{"pipeline"},
	)

	// QueueDepth tracks queue rows per owner and status
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "inboxsync_queue_items",
			Help: "Number of queue items per status",
		},
		[]string{"owner", "status"},
	)

	// MessagesPruned tracks messages removed by retention
	MessagesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inboxsync_messages_pruned_total",
			Help: "Total number of stored messages removed by retention",
		},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of max
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inboxsync_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// DBBatchSize tracks rows written per batched statement
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inboxsync_db_batch_size",
			Help:    "Rows per batched database write",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"operation"},
	)
)
