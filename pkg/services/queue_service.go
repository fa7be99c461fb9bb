package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

// QueueService reports job status and queue position.
type QueueService interface {
	Status(ctx context.Context, name string) (*models.JobStatus, error)
}

type queueService struct {
	db     database.Handle
	jobs   repositories.JobRepository
	logger *zap.Logger
}

func NewQueueService(db database.Handle, jobs repositories.JobRepository, logger *zap.Logger) QueueService {
	return &queueService{
		db:     db,
		jobs:   jobs,
		logger: logger.Named("queue-service"),
	}
}

var _ QueueService = (*queueService)(nil)

func (s *queueService) Status(ctx context.Context, name string) (*models.JobStatus, error) {
	job, err := lookupJob(ctx, s.db.Q(), s.jobs, name)
	if err != nil {
		return nil, err
	}

	status := &models.JobStatus{
		JobID:        job.Name,
		CreatedEpoch: job.Created.Unix(),
		Error:        job.Error,
		Stdout:       deref(job.Stdout),
		Stderr:       deref(job.Stderr),
	}
	if job.DeletePolicy != models.DeleteDisabled {
		policy := job.DeletePolicy
		status.DeleteAfter = &policy
	}
	if job.Completed != nil {
		epoch := job.Completed.Unix()
		status.CompletedEpoch = &epoch
		return status, nil
	}

	// Position is only meaningful while the job waits in the queue.
	q := s.db.Q()
	ahead, err := s.jobs.CountAhead(ctx, q, job)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to read queue")
	}
	total, err := s.jobs.CountPending(ctx, q)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to read queue")
	}
	status.TotalPendingJobs = &total
	// A job still being submitted is not counted as pending yet.
	if job.Ready {
		position := ahead + 1
		status.PositionInQueue = &position
	}
	return status, nil
}

// lookupJob resolves a live job by name, mapping absent, malformed and
// deleted names to NotFound.
func lookupJob(ctx context.Context, q database.Querier, jobs repositories.JobRepository, name string) (*models.Job, error) {
	if _, ok := models.ParseJobName(name); !ok {
		return nil, apperrors.NotFound("job %q not found", name)
	}
	job, err := jobs.GetByName(ctx, q, name)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load job")
	}
	if job == nil || job.Deleted {
		return nil, apperrors.NotFound("job %q not found", name)
	}
	return job, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
