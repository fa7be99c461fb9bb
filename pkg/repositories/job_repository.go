package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
)

var (
	// ErrJobNameTaken is returned by Insert when the minted name already exists.
	ErrJobNameTaken = errors.New("job name already taken")
	// ErrDuplicateFingerprint is returned by Insert when a live job has the same fingerprint.
	ErrDuplicateFingerprint = errors.New("live job with identical fingerprint exists")
)

const (
	jobNameConstraint        = "ani_job_name_key"
	jobFingerprintConstraint = "ani_job_fingerprint_live_idx"
)

// Notification is a completed job claimed for its completion e-mail.
type Notification struct {
	JobID     int64
	Name      string
	Email     string
	Completed time.Time
	Error     *bool
	Attempts  int
}

// JobRepository provides data access for jobs and their memberships.
type JobRepository interface {
	Insert(ctx context.Context, q database.Querier, job *models.NewJob) (int64, error)
	AddMembers(ctx context.Context, q database.Querier, jobID int64, queryIDs, referenceIDs []int64) error
	MarkReady(ctx context.Context, q database.Querier, jobID int64) error
	GetByName(ctx context.Context, q database.Querier, name string) (*models.Job, error)
	GetByID(ctx context.Context, q database.Querier, id int64) (*models.Job, error)
	FindByFingerprint(ctx context.Context, q database.Querier, fingerprint string) (string, error)
	CountPending(ctx context.Context, q database.Querier) (int, error)
	CountAhead(ctx context.Context, q database.Querier, job *models.Job) (int, error)
	Members(ctx context.Context, q database.Querier, job *models.Job) (queryIDs, referenceIDs []int64, err error)

	ListUnexpanded(ctx context.Context, q database.Querier, limit int) ([]*models.Job, error)
	MarkExpanded(ctx context.Context, q database.Querier, jobID int64) error
	ListFinalisable(ctx context.Context, q database.Querier, budget, limit int) ([]int64, error)
	LockForCompletion(ctx context.Context, q database.Querier, jobID int64) (*models.Job, error)
	Complete(ctx context.Context, q database.Querier, jobID int64, failed bool, stdout, stderr string) error

	ClaimNotifications(ctx context.Context, q database.Querier, maxAttempts, limit int) ([]*Notification, error)
	MarkNotified(ctx context.Context, q database.Querier, jobID int64) error
	ReleaseNotification(ctx context.Context, q database.Querier, jobID int64, nextAt time.Time) error

	ExpireDue(ctx context.Context, q database.Querier, now time.Time) (int64, error)
	SweepStale(ctx context.Context, q database.Querier, createdBefore time.Time) (int64, error)
}

type jobRepository struct{}

func NewJobRepository() JobRepository {
	return &jobRepository{}
}

var _ JobRepository = (*jobRepository)(nil)

const jobColumns = `
	id, name, param_id, mode, email, delete_policy, fingerprint, created,
	ready, expanded, deleted, completed, error, stdout, stderr, delete_after`

func scanJob(row pgx.Row) (*models.Job, error) {
	j := &models.Job{}
	err := row.Scan(
		&j.ID, &j.Name, &j.ParamID, &j.Mode, &j.Email, &j.DeletePolicy, &j.Fingerprint, &j.Created,
		&j.Ready, &j.Expanded, &j.Deleted, &j.Completed, &j.Error, &j.Stdout, &j.Stderr, &j.DeleteAfter,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Insert creates a job row with ready=false. Unique violations map to
// ErrJobNameTaken or ErrDuplicateFingerprint.
func (r *jobRepository) Insert(ctx context.Context, q database.Querier, job *models.NewJob) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO ani_job (name, param_id, mode, email, delete_policy, fingerprint, created, delete_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		job.Name, job.ParamID, job.Mode, job.Email, job.DeletePolicy, job.Fingerprint, job.Created, job.DeleteAfter,
	).Scan(&id)
	if err != nil {
		if constraint, ok := database.UniqueViolation(err); ok {
			switch constraint {
			case jobNameConstraint:
				return 0, ErrJobNameTaken
			case jobFingerprintConstraint:
				return 0, ErrDuplicateFingerprint
			}
		}
		return 0, fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

// AddMembers inserts the query and reference memberships of a job.
// referenceIDs is empty for triangle jobs.
func (r *jobRepository) AddMembers(ctx context.Context, q database.Querier, jobID int64, queryIDs, referenceIDs []int64) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO ani_job_query (job_id, genome_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, jobID, queryIDs); err != nil {
		return fmt.Errorf("failed to insert query membership: %w", err)
	}

	if len(referenceIDs) == 0 {
		return nil
	}
	if _, err := q.Exec(ctx, `
		INSERT INTO ani_job_reference (job_id, genome_id)
		SELECT $1, unnest($2::bigint[])
		ON CONFLICT DO NOTHING`, jobID, referenceIDs); err != nil {
		return fmt.Errorf("failed to insert reference membership: %w", err)
	}
	return nil
}

func (r *jobRepository) MarkReady(ctx context.Context, q database.Querier, jobID int64) error {
	tag, err := q.Exec(ctx, `UPDATE ani_job SET ready = true WHERE id = $1 AND NOT deleted`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark job ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %d not found", jobID)
	}
	return nil
}

// GetByName returns a live job by its external name, or nil if absent or deleted.
func (r *jobRepository) GetByName(ctx context.Context, q database.Querier, name string) (*models.Job, error) {
	row := q.QueryRow(ctx, `SELECT `+jobColumns+` FROM ani_job WHERE name = $1 AND NOT deleted`, name)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (r *jobRepository) GetByID(ctx context.Context, q database.Querier, id int64) (*models.Job, error) {
	row := q.QueryRow(ctx, `SELECT `+jobColumns+` FROM ani_job WHERE id = $1`, id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// FindByFingerprint returns the name of the live job with the fingerprint, or "".
func (r *jobRepository) FindByFingerprint(ctx context.Context, q database.Querier, fingerprint string) (string, error) {
	var name string
	err := q.QueryRow(ctx, `
		SELECT name FROM ani_job WHERE fingerprint = $1 AND NOT deleted`, fingerprint,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to look up job fingerprint: %w", err)
	}
	return name, nil
}

func (r *jobRepository) CountPending(ctx context.Context, q database.Querier) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM ani_job
		WHERE ready AND NOT deleted AND completed IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return n, nil
}

// CountAhead returns the number of pending jobs ordered before job by (created, id).
func (r *jobRepository) CountAhead(ctx context.Context, q database.Querier, job *models.Job) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM ani_job
		WHERE ready AND NOT deleted AND completed IS NULL
		  AND (created, id) < ($1, $2)`, job.Created, job.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to rank job: %w", err)
	}
	return n, nil
}

// Members returns the ascending query and reference genome ids of a job.
// For triangle jobs the reference ids equal the query ids.
func (r *jobRepository) Members(ctx context.Context, q database.Querier, job *models.Job) ([]int64, []int64, error) {
	queryIDs, err := collectIDs(ctx, q, `
		SELECT genome_id FROM ani_job_query WHERE job_id = $1 ORDER BY genome_id`, job.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load query membership: %w", err)
	}

	if job.Mode == models.ModeTriangle {
		return queryIDs, queryIDs, nil
	}

	referenceIDs, err := collectIDs(ctx, q, `
		SELECT genome_id FROM ani_job_reference WHERE job_id = $1 ORDER BY genome_id`, job.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load reference membership: %w", err)
	}
	return queryIDs, referenceIDs, nil
}

func collectIDs(ctx context.Context, q database.Querier, sql string, args ...any) ([]int64, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListUnexpanded returns ready jobs whose pairs have not been expanded, oldest first.
func (r *jobRepository) ListUnexpanded(ctx context.Context, q database.Querier, limit int) ([]*models.Job, error) {
	rows, err := q.Query(ctx, `
		SELECT `+jobColumns+` FROM ani_job
		WHERE ready AND NOT expanded AND NOT deleted AND completed IS NULL
		ORDER BY created, id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unexpanded jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) MarkExpanded(ctx context.Context, q database.Querier, jobID int64) error {
	if _, err := q.Exec(ctx, `UPDATE ani_job SET expanded = true WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to mark job expanded: %w", err)
	}
	return nil
}

// ListFinalisable returns ids of expanded jobs whose pairs are all terminal
// under the retry budget.
func (r *jobRepository) ListFinalisable(ctx context.Context, q database.Querier, budget, limit int) ([]int64, error) {
	ids, err := collectIDs(ctx, q, `
		SELECT j.id FROM ani_job j
		WHERE j.ready AND j.expanded AND NOT j.deleted AND j.completed IS NULL
		  AND NOT EXISTS (
		      SELECT 1 FROM ani_job_pair jp
		      JOIN ani_pair p ON p.id = jp.pair_id
		      WHERE jp.job_id = j.id
		        AND NOT (p.status = 'done' OR (p.status = 'failed' AND p.attempts >= $1))
		  )
		ORDER BY j.created, j.id
		LIMIT $2`, budget, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list finalisable jobs: %w", err)
	}
	return ids, nil
}

// LockForCompletion locks a live, incomplete job row for the completion
// transaction. It returns nil if another replica completed it or it was deleted.
func (r *jobRepository) LockForCompletion(ctx context.Context, q database.Querier, jobID int64) (*models.Job, error) {
	row := q.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM ani_job
		WHERE id = $1 AND NOT deleted AND completed IS NULL
		FOR UPDATE SKIP LOCKED`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}
	return j, nil
}

func (r *jobRepository) Complete(ctx context.Context, q database.Querier, jobID int64, failed bool, stdout, stderr string) error {
	_, err := q.Exec(ctx, `
		UPDATE ani_job
		SET completed = now(), error = $2, stdout = $3, stderr = $4
		WHERE id = $1`, jobID, failed, stdout, stderr)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// ClaimNotifications marks completed jobs with an unsent e-mail as claimed and
// returns them. A claim is taken before the mail relay is called so no other
// replica sends the same e-mail.
func (r *jobRepository) ClaimNotifications(ctx context.Context, q database.Querier, maxAttempts, limit int) ([]*Notification, error) {
	rows, err := q.Query(ctx, `
		UPDATE ani_job j
		SET email_claimed_at = now()
		FROM (
		    SELECT id FROM ani_job
		    WHERE email IS NOT NULL AND completed IS NOT NULL AND NOT deleted
		      AND email_sent_at IS NULL AND email_claimed_at IS NULL
		      AND email_attempts < $1
		      AND (email_next_at IS NULL OR email_next_at <= now())
		    ORDER BY completed, id
		    LIMIT $2
		    FOR UPDATE SKIP LOCKED
		) c
		WHERE j.id = c.id
		RETURNING j.id, j.name, j.email, j.completed, j.error, j.email_attempts`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim notifications: %w", err)
	}
	defer rows.Close()

	var claimed []*Notification
	for rows.Next() {
		n := &Notification{}
		if err := rows.Scan(&n.JobID, &n.Name, &n.Email, &n.Completed, &n.Error, &n.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		claimed = append(claimed, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return claimed, nil
}

func (r *jobRepository) MarkNotified(ctx context.Context, q database.Querier, jobID int64) error {
	_, err := q.Exec(ctx, `
		UPDATE ani_job
		SET email_sent_at = now(), email_attempts = email_attempts + 1
		WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}
	return nil
}

// ReleaseNotification clears a failed claim and schedules the next attempt.
func (r *jobRepository) ReleaseNotification(ctx context.Context, q database.Querier, jobID int64, nextAt time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE ani_job
		SET email_claimed_at = NULL, email_attempts = email_attempts + 1, email_next_at = $2
		WHERE id = $1 AND email_sent_at IS NULL`, jobID, nextAt)
	if err != nil {
		return fmt.Errorf("failed to release notification: %w", err)
	}
	return nil
}

// ExpireDue marks jobs past their delete-after timestamp as deleted.
func (r *jobRepository) ExpireDue(ctx context.Context, q database.Querier, now time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE ani_job SET deleted = true
		WHERE NOT deleted AND delete_after IS NOT NULL AND delete_after <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepStale marks submissions that never became ready as deleted.
func (r *jobRepository) SweepStale(ctx context.Context, q database.Querier, createdBefore time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE ani_job SET deleted = true
		WHERE NOT deleted AND NOT ready AND created < $1`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}
