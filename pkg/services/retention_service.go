package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/config"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/metrics"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

// RetentionReport counts the rows touched by one retention pass.
type RetentionReport struct {
	Expired        int64
	Stale          int64
	UploadsPurged  int64
	PairsDeleted   int64
	ResultsDropped int64
}

func (r *RetentionReport) total() int64 {
	return r.Expired + r.Stale + r.UploadsPurged + r.PairsDeleted + r.ResultsDropped
}

// RetentionService deletes expired jobs and the payloads they own.
type RetentionService interface {
	// RunOnce performs one idempotent retention pass.
	RunOnce(ctx context.Context) (*RetentionReport, error)

	// RunScheduler starts a background goroutine running a pass on the given interval.
	// It runs immediately on startup, then repeats every interval.
	// Cancel the context to stop the scheduler.
	RunScheduler(ctx context.Context, interval time.Duration)
}

type retentionService struct {
	db      database.Handle
	jobs    repositories.JobRepository
	genomes repositories.GenomeRepository
	pairs   repositories.PairRepository
	results repositories.ResultRepository
	cfg     *config.RetentionConfig
	now     func() time.Time
	logger  *zap.Logger
}

func NewRetentionService(
	db database.Handle,
	jobs repositories.JobRepository,
	genomes repositories.GenomeRepository,
	pairs repositories.PairRepository,
	results repositories.ResultRepository,
	cfg *config.RetentionConfig,
	logger *zap.Logger,
) RetentionService {
	return &retentionService{
		db:      db,
		jobs:    jobs,
		genomes: genomes,
		pairs:   pairs,
		results: results,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.Named("retention-service"),
	}
}

var _ RetentionService = (*retentionService)(nil)

func (s *retentionService) RunOnce(ctx context.Context) (*RetentionReport, error) {
	now := s.now().UTC()
	report := &RetentionReport{}

	err := s.db.WithTx(ctx, func(q database.Querier) error {
		var err error
		if report.Expired, err = s.jobs.ExpireDue(ctx, q, now); err != nil {
			return err
		}
		if s.cfg.StaleSubmissionMinutes > 0 {
			cutoff := now.Add(-time.Duration(s.cfg.StaleSubmissionMinutes) * time.Minute)
			if report.Stale, err = s.jobs.SweepStale(ctx, q, cutoff); err != nil {
				return err
			}
		}
		if report.UploadsPurged, err = s.genomes.PurgeDeletedUploads(ctx, q); err != nil {
			return err
		}
		if report.PairsDeleted, err = s.pairs.DeleteForDeletedUploads(ctx, q); err != nil {
			return err
		}
		if s.cfg.DropResults {
			if report.ResultsDropped, err = s.results.DeleteForDeletedJobs(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Retention pass failed", zap.Error(err))
		return nil, err
	}

	metrics.RetentionActions.WithLabelValues("expired").Add(float64(report.Expired))
	metrics.RetentionActions.WithLabelValues("stale").Add(float64(report.Stale))
	metrics.RetentionActions.WithLabelValues("uploads_purged").Add(float64(report.UploadsPurged))
	metrics.RetentionActions.WithLabelValues("pairs_deleted").Add(float64(report.PairsDeleted))
	metrics.RetentionActions.WithLabelValues("results_dropped").Add(float64(report.ResultsDropped))

	if report.total() > 0 {
		s.logger.Info("Retention cleanup completed",
			zap.Int64("expired", report.Expired),
			zap.Int64("stale", report.Stale),
			zap.Int64("uploads_purged", report.UploadsPurged),
			zap.Int64("pairs_deleted", report.PairsDeleted),
			zap.Int64("results_dropped", report.ResultsDropped))
	}
	return report, nil
}

// RunScheduler starts a background loop that runs retention passes.
func (s *retentionService) RunScheduler(ctx context.Context, interval time.Duration) {
	go func() {
		s.logger.Info("Retention scheduler started",
			zap.Duration("interval", interval),
			zap.Bool("drop_results", s.cfg.DropResults))

		// Run immediately on startup, then at each interval
		s.runLogged(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Retention scheduler stopped")
				return
			case <-ticker.C:
				s.runLogged(ctx)
			}
		}
	}()
}

func (s *retentionService) runLogged(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Retention scheduler: pass failed", zap.Error(err))
	}
}
