package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	UnitClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_unit_claims_total",
			Help: "Total number of build unit reservations granted by worker.",
		},
		[]string{"worker_id"},
	)

	UnitClaimConflictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_unit_claim_conflicts_total",
			Help: "Total number of claim attempts that lost to another worker or found the unit ineligible.",
		},
		[]string{"worker_id"},
	)

	UnitReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_unit_releases_total",
			Help: "Total number of reservations released by stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)

	UnitStageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crucible_unit_stage_duration_seconds",
			Help:    "Duration of dry-run and build stages in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
		[]string{"stage", "outcome"},
	)

	UnitRetriesExhaustedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_unit_retries_exhausted_total",
			Help: "Total number of units that reached the retry ceiling by stage.",
		},
		[]string{"stage"},
	)

	ReservationsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_reservations_swept_total",
			Help: "Total number of stale reservations removed by the sweeper.",
		},
	)

	ReservationHeartbeatFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_reservation_heartbeat_failures_total",
			Help: "Total number of failed reservation heartbeats by worker.",
		},
		[]string{"worker_id"},
	)

	CachePushJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crucible_cache_push_jobs_total",
			Help: "Total number of cache push job transitions by destination and status.",
		},
		[]string{"destination", "status"},
	)

	CachePushRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crucible_cache_push_requeued_total",
			Help: "Total number of failed cache push jobs returned to pending after backoff.",
		},
	)

	WorkersBusy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "crucible_workers_busy",
			Help: "Number of in-flight executions by worker role.",
		},
		[]string{"role"},
	)
)

// Register registers all custom crucible metrics with the default Prometheus registry.
func Register() {
	prometheus.MustRegister(Collectors()...)
}

// Collectors returns every crucible collector.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		UnitClaimsTotal,
		UnitClaimConflictsTotal,
		UnitReleasesTotal,
		UnitStageDurationSeconds,
		UnitRetriesExhaustedTotal,
		ReservationsSweptTotal,
		ReservationHeartbeatFailuresTotal,
		CachePushJobsTotal,
		CachePushRequeuedTotal,
		WorkersBusy,
	}
}
