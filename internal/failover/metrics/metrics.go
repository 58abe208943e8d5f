package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreRequests tracks data-access calls per operation and serving backend
	StoreRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_store_requests_total",
			Help: "Total number of data-access calls by operation and serving backend",
		},
		[]string{"op", "source"},
	)

	// Failovers tracks calls redirected from the primary to the local mirror
	Failovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_failovers_total",
			Help: "Total number of calls that failed over to the local mirror",
		},
		[]string{"op"},
	)

	// PrimaryErrors tracks primary store errors by class
	PrimaryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_primary_errors_total",
			Help: "Total number of primary store errors",
		},
		[]string{"op", "class"},
	)

	// PrimaryLatency tracks primary store call latency
	PrimaryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cafepos_primary_latency_seconds",
			Help:    "Primary store call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// PrimaryPreferred is 1 while calls are routed to the primary
	PrimaryPreferred = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cafepos_primary_preferred",
			Help: "Whether the primary store is currently preferred (1) or in cooldown (0)",
		},
	)

	// ConsecutiveFailures tracks the current primary failure streak
	ConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cafepos_primary_consecutive_failures",
			Help: "Number of consecutive network failures against the primary store",
		},
	)

	// PendingOperations tracks queued write intents per group
	PendingOperations = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cafepos_oplog_pending",
			Help: "Number of operations waiting to be replayed to the primary",
		},
		[]string{"group"},
	)

	// OldestPendingAge tracks how long the oldest queued operation has waited
	OldestPendingAge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cafepos_oplog_oldest_age_seconds",
			Help: "Age of the oldest pending operation in seconds",
		},
	)

	// StaleLog is 1 while the pending log exceeds its size or age threshold
	StaleLog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cafepos_oplog_stale",
			Help: "Whether the pending operation log exceeds its alert thresholds",
		},
	)

	// ReplayedOperations tracks replay outcomes per group
	ReplayedOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_replay_operations_total",
			Help: "Total number of replayed operations by outcome",
		},
		[]string{"group", "outcome"},
	)

	// ReplayPasses tracks drain passes by result
	ReplayPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_replay_passes_total",
			Help: "Total number of replay drain passes",
		},
		[]string{"result"},
	)

	// DeadLetters tracks operations dropped from replay
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_dead_letters_total",
			Help: "Total number of operations dropped from replay",
		},
		[]string{"group"},
	)

	// MirrorWriteErrors tracks failed write-through or refresh writes to the local mirror
	MirrorWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_mirror_write_errors_total",
			Help: "Total number of failed writes to the local mirror outside the failover path",
		},
		[]string{"table", "reason"},
	)

	// MirrorRefreshedRows tracks rows pulled from the primary into the mirror
	MirrorRefreshedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cafepos_mirror_refreshed_rows_total",
			Help: "Total number of rows copied from the primary into the local mirror",
		},
		[]string{"table"},
	)

	// DBConnectionPoolUsage tracks primary connection pool usage in percent
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cafepos_db_connection_pool_usage_percent",
			Help: "Primary store connection pool usage in percent",
		},
	)
)
