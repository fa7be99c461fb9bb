package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/config"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/events"
	"github.com/gtdb/ani-engine/pkg/metrics"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/repositories"
	"github.com/gtdb/ani-engine/pkg/retry"
	"github.com/gtdb/ani-engine/pkg/services/workqueue"
)

// recordTimeout bounds writing a pair outcome after the tool has exited.
const recordTimeout = 30 * time.Second

// PairRunner executes one attempt of a per-pair task.
type PairRunner interface {
	Run(ctx context.Context, task models.PairTask) models.PairOutcome
}

// DispatcherConfig holds the execution policy of a dispatcher replica.
type DispatcherConfig struct {
	Concurrency    int
	PerPairTimeout time.Duration
	LeaseGrace     time.Duration
	RetryBudget    int
	PollInterval   time.Duration
	BatchSize      int
}

// NewDispatcherConfig derives the dispatcher policy from configuration.
func NewDispatcherConfig(ani *config.ANIConfig, worker *config.WorkerConfig) DispatcherConfig {
	return DispatcherConfig{
		Concurrency:    worker.Concurrency,
		PerPairTimeout: ani.PerPairTimeout(),
		LeaseGrace:     time.Duration(worker.LeaseGraceSeconds) * time.Second,
		RetryBudget:    ani.PerPairRetryBudget,
		PollInterval:   worker.PollInterval(),
		BatchSize:      100,
	}
}

// PassReport summarises one dispatcher pass.
type PassReport struct {
	LeasesExpired int64
	JobsExpanded  int
	PairsQueued   int64
	PairsClaimed  int
	JobsFinalised int
}

// Dispatcher drives jobs from READY to COMPLETED. Any number of replicas may
// run against the same database; coordination is through row locks and
// per-pair leases owned by the replica's id.
type Dispatcher struct {
	db      database.Handle
	jobs    repositories.JobRepository
	pairs   repositories.PairRepository
	results repositories.ResultRepository
	genomes repositories.GenomeRepository
	params  repositories.ParamRepository
	runner  PairRunner
	bus     *events.Bus
	cfg     DispatcherConfig
	owner   uuid.UUID
	logger  *zap.Logger
}

func NewDispatcher(
	db database.Handle,
	jobs repositories.JobRepository,
	pairs repositories.PairRepository,
	results repositories.ResultRepository,
	genomes repositories.GenomeRepository,
	paramRepo repositories.ParamRepository,
	runner PairRunner,
	bus *events.Bus,
	cfg DispatcherConfig,
	logger *zap.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	owner := uuid.New()
	return &Dispatcher{
		db:      db,
		jobs:    jobs,
		pairs:   pairs,
		results: results,
		genomes: genomes,
		params:  paramRepo,
		runner:  runner,
		bus:     bus,
		cfg:     cfg,
		owner:   owner,
		logger:  logger.Named("dispatcher").With(zap.String("owner", owner.String())),
	}
}

// Owner returns the lease owner id of this replica.
func (d *Dispatcher) Owner() uuid.UUID {
	return d.owner
}

// Run executes passes until ctx is cancelled. A pass that claimed work is
// followed immediately by another; otherwise the next pass waits for the poll
// interval or a pairs_queued event.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Dispatcher started",
		zap.Int("concurrency", d.cfg.Concurrency),
		zap.Duration("per_pair_timeout", d.cfg.PerPairTimeout),
		zap.Duration("poll_interval", d.cfg.PollInterval))

	wake := d.bus.Subscribe(ctx, events.PairsQueued)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		report, err := d.RunOnce(ctx)
		if ctx.Err() != nil {
			d.logger.Info("Dispatcher stopped")
			return nil
		}
		if err != nil {
			d.logger.Error("Dispatcher pass failed", zap.Error(err))
		}
		if report != nil && report.PairsClaimed > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped")
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		}
	}
}

// RunOnce performs one pass: refresh gauges, recover expired leases, expand
// new jobs, run one batch of claimed pairs and finalise finished jobs.
func (d *Dispatcher) RunOnce(ctx context.Context) (*PassReport, error) {
	report := &PassReport{}
	q := d.db.Q()

	if err := d.refreshGauges(ctx, q); err != nil {
		return report, err
	}

	expired, err := d.pairs.SweepExpired(ctx, q)
	if err != nil {
		return report, err
	}
	if expired > 0 {
		metrics.LeasesExpired.Add(float64(expired))
		d.logger.Warn("Recovered expired pair leases", zap.Int64("count", expired))
	}
	report.LeasesExpired = expired

	if err := d.expand(ctx, report); err != nil {
		return report, err
	}

	if err := d.runClaims(ctx, report); err != nil {
		return report, err
	}

	if err := d.finaliseReady(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

func (d *Dispatcher) refreshGauges(ctx context.Context, q database.Querier) error {
	pending, err := d.jobs.CountPending(ctx, q)
	if err != nil {
		return err
	}
	runnable, err := d.pairs.CountRunnable(ctx, q, d.cfg.RetryBudget)
	if err != nil {
		return err
	}
	metrics.QueueDepth.Set(float64(pending))
	metrics.RunnablePairs.Set(float64(runnable))
	return nil
}

// expand creates the per-pair tasks of READY jobs, oldest first.
func (d *Dispatcher) expand(ctx context.Context, report *PassReport) error {
	jobs, err := d.jobs.ListUnexpanded(ctx, d.db.Q(), d.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		var added int64
		err := d.db.WithTx(ctx, func(tx database.Querier) error {
			n, err := d.pairs.Expand(ctx, tx, job, d.cfg.RetryBudget)
			if err != nil {
				return err
			}
			added = n
			return d.jobs.MarkExpanded(ctx, tx, job.ID)
		})
		if err != nil {
			return fmt.Errorf("failed to expand job %s: %w", job.Name, err)
		}
		report.JobsExpanded++
		report.PairsQueued += added
		d.logger.Debug("Expanded job",
			zap.String("job", job.Name),
			zap.Int64("pairs_linked", added))
	}
	return nil
}

// runClaims claims up to Concurrency runnable pairs and runs them to completion.
func (d *Dispatcher) runClaims(ctx context.Context, report *PassReport) error {
	lease := d.cfg.PerPairTimeout + d.cfg.LeaseGrace
	claims, err := d.pairs.Claim(ctx, d.db.Q(), d.owner, lease, d.cfg.RetryBudget, d.cfg.Concurrency)
	if err != nil {
		return err
	}
	report.PairsClaimed = len(claims)
	if len(claims) == 0 {
		return nil
	}

	pool := workqueue.NewPool(d.logger, d.cfg.Concurrency, workqueue.WithTaskTimeout(d.cfg.PerPairTimeout))
	tasks := make([]workqueue.Task, len(claims))
	for i, claim := range claims {
		tasks[i] = workqueue.NewFuncTask(
			fmt.Sprintf("pair-%d", claim.ID),
			pairKeyString(claim.Key),
			func(taskCtx context.Context) error {
				return d.runPair(taskCtx, claim)
			})
	}
	summary := pool.Run(ctx, tasks)
	progress := summary.Progress()
	d.logger.Debug("Pair batch finished",
		zap.Int("claimed", progress.Total),
		zap.Int("completed", progress.Completed),
		zap.Int("failed", progress.Failed),
		zap.Int("cancelled", progress.Cancelled),
		zap.Int("skipped", progress.Skipped),
		zap.Int("percent_done", progress.Percentage()))
	if err := ctx.Err(); err != nil {
		return err
	}
	return summary.Err()
}

// runPair executes one claimed attempt and records its outcome under the lease.
func (d *Dispatcher) runPair(ctx context.Context, claim *repositories.ClaimedPair) error {
	var outcome models.PairOutcome
	task, err := d.buildTask(ctx, claim)
	if err != nil {
		outcome = models.PairOutcome{Err: err}
	} else {
		outcome = d.runner.Run(ctx, task)
	}

	// Shutdown: leave the attempt to lease recovery.
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	q := d.db.Q()

	var recorded bool
	err = retry.DoIfRetryable(recordCtx, retry.DefaultConfig(), func() error {
		var err error
		if outcome.Failed() {
			stderr := outcome.Stderr
			if stderr != "" {
				stderr += "\n"
			}
			stderr += outcome.Err.Error()
			recorded, err = d.pairs.Fail(recordCtx, q, claim.ID, d.owner, outcome.Stdout, stderr)
		} else {
			recorded, err = d.pairs.Complete(recordCtx, q, claim.ID, d.owner, outcome.Values, outcome.Stdout, outcome.Stderr)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to record pair %d: %w", claim.ID, err)
	}
	if !recorded {
		d.logger.Warn("Pair lease lost before outcome was recorded",
			zap.Int64("pair_id", claim.ID),
			zap.Int("attempt", claim.Attempts))
	}

	// Every job needing this pair may have been deleted meanwhile.
	referenced, err := d.pairs.Referenced(recordCtx, q, claim.ID)
	if err != nil {
		return err
	}
	if !referenced {
		d.logger.Debug("Discarding result for unreferenced pair", zap.Int64("pair_id", claim.ID))
		return d.pairs.Discard(recordCtx, q, claim.ID)
	}
	return nil
}

func (d *Dispatcher) buildTask(ctx context.Context, claim *repositories.ClaimedPair) (models.PairTask, error) {
	q := d.db.Q()
	refs, err := d.genomes.GetRefs(ctx, q, []int64{claim.Key.QryID, claim.Key.RefID})
	if err != nil {
		return models.PairTask{}, err
	}
	qry, ref := refs[claim.Key.QryID], refs[claim.Key.RefID]
	if qry == nil || ref == nil {
		return models.PairTask{}, fmt.Errorf("genome of pair %d no longer exists", claim.ID)
	}

	rec, err := d.params.Get(ctx, q, claim.Key.ParamID)
	if err != nil {
		return models.PairTask{}, err
	}
	if rec == nil {
		return models.PairTask{}, fmt.Errorf("parameter record %d not found", claim.Key.ParamID)
	}

	return models.PairTask{
		PairID:  claim.ID,
		Key:     claim.Key,
		Attempt: claim.Attempts,
		Version: models.ToolVersion(rec.Version),
		Params:  rec.Params,
		Query:   *qry,
		Ref:     *ref,
		Owner:   d.owner,
	}, nil
}

// finaliseReady completes every job whose pairs are all terminal.
func (d *Dispatcher) finaliseReady(ctx context.Context, report *PassReport) error {
	ids, err := d.jobs.ListFinalisable(ctx, d.db.Q(), d.cfg.RetryBudget, d.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		done, err := d.finalise(ctx, id)
		if err != nil {
			return err
		}
		if done {
			report.JobsFinalised++
		}
	}
	return nil
}

// finalise packs the results of a job and completes it in one transaction.
// It reports false when another replica holds or already finished the job.
func (d *Dispatcher) finalise(ctx context.Context, jobID int64) (bool, error) {
	var job *models.Job
	var failed bool
	err := d.db.WithTx(ctx, func(tx database.Querier) error {
		var err error
		job, err = d.jobs.LockForCompletion(ctx, tx, jobID)
		if err != nil || job == nil {
			return err
		}

		queryIDs, refIDs, err := d.jobs.Members(ctx, tx, job)
		if err != nil {
			return err
		}
		pairs, err := d.pairs.ForJob(ctx, tx, jobID)
		if err != nil {
			return err
		}

		packed, lastFailure, err := packResult(jobID, queryIDs, refIDs, pairs, d.cfg.RetryBudget)
		if err != nil {
			return err
		}
		if err := d.results.Insert(ctx, tx, packed); err != nil {
			return err
		}

		var stdout, stderr string
		if lastFailure != nil {
			failed = true
			stdout, stderr = deref(lastFailure.Stdout), deref(lastFailure.Stderr)
		}
		return d.jobs.Complete(ctx, tx, jobID, failed, stdout, stderr)
	})
	if errors.Is(err, errPairsUnfinished) {
		d.logger.Debug("Job has pairs back in the queue, skipping finalisation", zap.Int64("job_id", jobID), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to finalise job %d: %w", jobID, err)
	}
	if job == nil {
		return false, nil
	}

	result := "ok"
	if failed {
		result = "error"
	}
	metrics.JobsCompleted.WithLabelValues(result).Inc()
	d.logger.Info("Job completed",
		zap.String("job", job.Name),
		zap.Bool("error", failed))

	if err := d.bus.Publish(ctx, events.JobCompleted, job.Name); err != nil {
		d.logger.Warn("Failed to publish completion", zap.String("job", job.Name), zap.Error(err))
	}
	return true, nil
}

// errPairsUnfinished reports that a pair of the job went back to the queue
// after the job was listed as finalisable, typically revived by another job.
var errPairsUnfinished = errors.New("job has unfinished pairs")

// packResult lays the pair values out row-major over (query, reference) and
// returns the most recently finished exhausted pair, if any.
func packResult(jobID int64, queryIDs, refIDs []int64, pairs []*models.Pair, budget int) (*models.PackedResult, *models.Pair, error) {
	byCell := make(map[[2]int64]*models.Pair, len(pairs))
	for _, p := range pairs {
		byCell[[2]int64{p.Key.QryID, p.Key.RefID}] = p
	}

	n := len(queryIDs) * len(refIDs)
	packed := &models.PackedResult{
		JobID: jobID,
		ANI:   make([]*int32, n),
		AFQry: make([]*int32, n),
		AFRef: make([]*int32, n),
	}

	var lastFailure *models.Pair
	for i, qry := range queryIDs {
		for j, ref := range refIDs {
			p := byCell[[2]int64{qry, ref}]
			if p == nil {
				return nil, nil, fmt.Errorf("job %d has no pair for genomes %d vs %d", jobID, qry, ref)
			}
			if !p.Terminal(budget) {
				return nil, nil, fmt.Errorf("pair %d: %w", p.ID, errPairsUnfinished)
			}
			if p.Exhausted(budget) {
				if lastFailure == nil || finishedAfter(p, lastFailure) {
					lastFailure = p
				}
				continue
			}
			k := i*len(refIDs) + j
			packed.ANI[k] = p.Values.ANI
			packed.AFQry[k] = p.Values.AFQry
			packed.AFRef[k] = p.Values.AFRef
		}
	}
	if err := packed.CheckShape(len(queryIDs), len(refIDs)); err != nil {
		return nil, nil, err
	}
	return packed, lastFailure, nil
}

func finishedAfter(a, b *models.Pair) bool {
	if a.FinishedAt == nil {
		return false
	}
	if b.FinishedAt == nil {
		return true
	}
	return a.FinishedAt.After(*b.FinishedAt)
}

func pairKeyString(k models.PairKey) string {
	return fmt.Sprintf("%d:%d:%d", k.ParamID, k.QryID, k.RefID)
}
