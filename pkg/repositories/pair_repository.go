package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
)

// ClaimedPair is a pair row taken under a lease by a dispatcher.
type ClaimedPair struct {
	ID       int64
	Key      models.PairKey
	Attempts int
}

// PairRepository provides data access for the global per-pair dedup table.
type PairRepository interface {
	Expand(ctx context.Context, q database.Querier, job *models.Job, budget int) (int64, error)
	Claim(ctx context.Context, q database.Querier, owner uuid.UUID, lease time.Duration, budget, limit int) ([]*ClaimedPair, error)
	Complete(ctx context.Context, q database.Querier, pairID int64, owner uuid.UUID, values models.PairValues, stdout, stderr string) (bool, error)
	Fail(ctx context.Context, q database.Querier, pairID int64, owner uuid.UUID, stdout, stderr string) (bool, error)
	SweepExpired(ctx context.Context, q database.Querier) (int64, error)
	Referenced(ctx context.Context, q database.Querier, pairID int64) (bool, error)
	Discard(ctx context.Context, q database.Querier, pairID int64) error
	ForJob(ctx context.Context, q database.Querier, jobID int64) ([]*models.Pair, error)
	CountRunnable(ctx context.Context, q database.Querier, budget int) (int, error)
	DeleteForDeletedUploads(ctx context.Context, q database.Querier) (int64, error)
}

type pairRepository struct{}

func NewPairRepository() PairRepository {
	return &pairRepository{}
}

var _ PairRepository = (*pairRepository)(nil)

// Expand links a job to the pair rows of its query x reference product,
// creating missing rows. Existing rows keep their outcome, except pairs that
// exhausted their retry budget, which are re-queued with a fresh budget.
// The earliest queued_at wins so pairs inherit the oldest job's position.
func (r *pairRepository) Expand(ctx context.Context, q database.Querier, job *models.Job, budget int) (int64, error) {
	tag, err := q.Exec(ctx, `
		WITH refs AS (
		    SELECT genome_id FROM ani_job_reference WHERE job_id = $1 AND NOT $4::boolean
		    UNION
		    SELECT genome_id FROM ani_job_query WHERE job_id = $1 AND $4
		), pairs AS (
		    INSERT INTO ani_pair (param_id, qry_id, ref_id, queued_at)
		    SELECT $2, jq.genome_id, refs.genome_id, $3
		    FROM ani_job_query jq CROSS JOIN refs
		    WHERE jq.job_id = $1
		    ON CONFLICT ON CONSTRAINT ani_pair_key DO UPDATE SET
		        queued_at = LEAST(ani_pair.queued_at, EXCLUDED.queued_at),
		        status = CASE WHEN ani_pair.status = 'failed' AND ani_pair.attempts >= $5
		                      THEN 'queued' ELSE ani_pair.status END,
		        attempts = CASE WHEN ani_pair.status = 'failed' AND ani_pair.attempts >= $5
		                        THEN 0 ELSE ani_pair.attempts END
		    RETURNING id
		)
		INSERT INTO ani_job_pair (job_id, pair_id)
		SELECT $1, id FROM pairs
		ON CONFLICT DO NOTHING`,
		job.ID, job.ParamID, job.Created, job.Mode == models.ModeTriangle, budget)
	if err != nil {
		return 0, fmt.Errorf("failed to expand job pairs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Claim leases up to limit runnable pairs that an incomplete live job still
// needs, oldest first. Each claim counts as an attempt.
func (r *pairRepository) Claim(ctx context.Context, q database.Querier, owner uuid.UUID, lease time.Duration, budget, limit int) ([]*ClaimedPair, error) {
	rows, err := q.Query(ctx, `
		WITH c AS (
		    SELECT p.id FROM ani_pair p
		    WHERE p.status IN ('queued', 'failed') AND p.attempts < $1
		      AND EXISTS (
		          SELECT 1 FROM ani_job_pair jp
		          JOIN ani_job j ON j.id = jp.job_id
		          WHERE jp.pair_id = p.id AND NOT j.deleted AND j.completed IS NULL
		      )
		    ORDER BY p.queued_at, p.id
		    LIMIT $2
		    FOR UPDATE SKIP LOCKED
		)
		UPDATE ani_pair p
		SET status = 'running', attempts = p.attempts + 1,
		    lease_owner = $3, lease_until = now() + make_interval(secs => $4),
		    started_at = now(), finished_at = NULL
		FROM c WHERE p.id = c.id
		RETURNING p.id, p.param_id, p.qry_id, p.ref_id, p.attempts`,
		budget, limit, owner, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to claim pairs: %w", err)
	}
	defer rows.Close()

	var claimed []*ClaimedPair
	for rows.Next() {
		c := &ClaimedPair{}
		if err := rows.Scan(&c.ID, &c.Key.ParamID, &c.Key.QryID, &c.Key.RefID, &c.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan claimed pair: %w", err)
		}
		claimed = append(claimed, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claimed pairs: %w", err)
	}
	return claimed, nil
}

// Complete records a successful attempt. It returns false if the lease was lost.
func (r *pairRepository) Complete(ctx context.Context, q database.Querier, pairID int64, owner uuid.UUID, values models.PairValues, stdout, stderr string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE ani_pair
		SET status = 'done', ani = $3, af_qry = $4, af_ref = $5, stdout = $6, stderr = $7,
		    finished_at = now(), lease_owner = NULL, lease_until = NULL
		WHERE id = $1 AND lease_owner = $2 AND status = 'running'`,
		pairID, owner, values.ANI, values.AFQry, values.AFRef, stdout, stderr)
	if err != nil {
		return false, fmt.Errorf("failed to complete pair: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Fail records a failed attempt. It returns false if the lease was lost.
func (r *pairRepository) Fail(ctx context.Context, q database.Querier, pairID int64, owner uuid.UUID, stdout, stderr string) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE ani_pair
		SET status = 'failed', stdout = $3, stderr = $4,
		    finished_at = now(), lease_owner = NULL, lease_until = NULL
		WHERE id = $1 AND lease_owner = $2 AND status = 'running'`,
		pairID, owner, stdout, stderr)
	if err != nil {
		return false, fmt.Errorf("failed to record pair failure: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SweepExpired turns running pairs whose lease lapsed into failed attempts.
func (r *pairRepository) SweepExpired(ctx context.Context, q database.Querier) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE ani_pair
		SET status = 'failed', stderr = 'lease expired', finished_at = now(),
		    lease_owner = NULL, lease_until = NULL
		WHERE status = 'running' AND lease_until < now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired leases: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Referenced reports whether any non-deleted job links the pair.
func (r *pairRepository) Referenced(ctx context.Context, q database.Querier, pairID int64) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
		    SELECT 1 FROM ani_job_pair jp
		    JOIN ani_job j ON j.id = jp.job_id
		    WHERE jp.pair_id = $1 AND NOT j.deleted
		)`, pairID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check pair references: %w", err)
	}
	return ok, nil
}

// Discard deletes a pair row that no live job references.
func (r *pairRepository) Discard(ctx context.Context, q database.Querier, pairID int64) error {
	_, err := q.Exec(ctx, `
		DELETE FROM ani_pair p
		WHERE p.id = $1 AND NOT EXISTS (
		    SELECT 1 FROM ani_job_pair jp
		    JOIN ani_job j ON j.id = jp.job_id
		    WHERE jp.pair_id = p.id AND NOT j.deleted
		)`, pairID)
	if err != nil {
		return fmt.Errorf("failed to discard pair: %w", err)
	}
	return nil
}

// ForJob returns every pair linked to a job.
func (r *pairRepository) ForJob(ctx context.Context, q database.Querier, jobID int64) ([]*models.Pair, error) {
	rows, err := q.Query(ctx, `
		SELECT p.id, p.param_id, p.qry_id, p.ref_id, p.status, p.attempts, p.queued_at,
		       p.lease_owner, p.lease_until, p.started_at, p.finished_at,
		       p.ani, p.af_qry, p.af_ref, p.stdout, p.stderr
		FROM ani_job_pair jp
		JOIN ani_pair p ON p.id = jp.pair_id
		WHERE jp.job_id = $1
		ORDER BY p.qry_id, p.ref_id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job pairs: %w", err)
	}
	defer rows.Close()

	var pairs []*models.Pair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pairs: %w", err)
	}
	return pairs, nil
}

func scanPair(row pgx.Row) (*models.Pair, error) {
	p := &models.Pair{}
	err := row.Scan(
		&p.ID, &p.Key.ParamID, &p.Key.QryID, &p.Key.RefID, &p.Status, &p.Attempts, &p.QueuedAt,
		&p.LeaseOwner, &p.LeaseUntil, &p.StartedAt, &p.FinishedAt,
		&p.Values.ANI, &p.Values.AFQry, &p.Values.AFRef, &p.Stdout, &p.Stderr,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// CountRunnable returns the number of pairs waiting for an attempt.
func (r *pairRepository) CountRunnable(ctx context.Context, q database.Querier, budget int) (int, error) {
	var n int
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM ani_pair
		WHERE status IN ('queued', 'failed') AND attempts < $1`, budget).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count runnable pairs: %w", err)
	}
	return n, nil
}

// DeleteForDeletedUploads removes pair rows that involve an uploaded genome of a deleted job.
func (r *pairRepository) DeleteForDeletedUploads(ctx context.Context, q database.Querier) (int64, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM ani_pair p
		USING ani_genome g
		JOIN ani_user_upload u ON u.id = g.user_upload_id
		JOIN ani_job j ON j.id = u.job_id
		WHERE j.deleted AND (p.qry_id = g.id OR p.ref_id = g.id)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete upload pairs: %w", err)
	}
	return tag.RowsAffected(), nil
}
