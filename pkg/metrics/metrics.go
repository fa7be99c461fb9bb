// Package metrics holds the prometheus collectors of the ANI engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ani_submissions_total",
		Help: "The number of job submissions, by result",
	}, []string{"result"}) // result: created, duplicate, rejected, error

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ani_pending_jobs",
		Help: "The number of ready jobs that have not completed",
	})

	RunnablePairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ani_runnable_pairs",
		Help: "The number of per-pair comparisons waiting for an attempt",
	})

	PairRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ani_pair_runs_total",
		Help: "The number of per-pair tool attempts, by tool family and result",
	}, []string{"family", "result"}) // result: ok, failed

	PairDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ani_pair_run_duration_seconds",
		Help:    "Wall clock of per-pair tool attempts",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
	}, []string{"family"})

	LeasesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ani_pair_leases_expired_total",
		Help: "The number of running pairs whose lease lapsed and were recorded as failed attempts",
	})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ani_jobs_completed_total",
		Help: "The number of jobs completed, by result",
	}, []string{"result"}) // result: ok, error

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ani_notifications_total",
		Help: "The number of completion e-mail attempts, by result",
	}, []string{"result"}) // result: sent, failed

	MirrorDownloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ani_mirror_downloads_total",
		Help: "The number of genomes fetched into the local mirror, by result",
	}, []string{"result"}) // result: ok, error

	RetentionActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ani_retention_actions_total",
		Help: "The number of rows affected by retention passes, by action",
	}, []string{"action"}) // action: expired, stale, uploads_purged, pairs_deleted, results_dropped

	TaxonomyCache = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ani_taxonomy_cache",
		Help: "The statistics of the taxonomy lookup cache",
	}, []string{"type"}) // type: hits, misses, insertions, evictions
)
