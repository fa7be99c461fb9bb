package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
)

// ResultRepository provides data access for packed job results.
type ResultRepository interface {
	Insert(ctx context.Context, q database.Querier, result *models.PackedResult) error
	Get(ctx context.Context, q database.Querier, jobID int64) (*models.PackedResult, error)
	DeleteForDeletedJobs(ctx context.Context, q database.Querier) (int64, error)
}

type resultRepository struct{}

func NewResultRepository() ResultRepository {
	return &resultRepository{}
}

var _ ResultRepository = (*resultRepository)(nil)

func (r *resultRepository) Insert(ctx context.Context, q database.Querier, result *models.PackedResult) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ani_job_result (job_id, ani, af_qry, af_ref)
		VALUES ($1, $2, $3, $4)`,
		result.JobID, result.ANI, result.AFQry, result.AFRef)
	if err != nil {
		return fmt.Errorf("failed to insert job result: %w", err)
	}
	return nil
}

func (r *resultRepository) Get(ctx context.Context, q database.Querier, jobID int64) (*models.PackedResult, error) {
	res := &models.PackedResult{JobID: jobID}
	err := q.QueryRow(ctx, `
		SELECT ani, af_qry, af_ref FROM ani_job_result WHERE job_id = $1`, jobID,
	).Scan(&res.ANI, &res.AFQry, &res.AFRef)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job result: %w", err)
	}
	return res, nil
}

func (r *resultRepository) DeleteForDeletedJobs(ctx context.Context, q database.Querier) (int64, error) {
	tag, err := q.Exec(ctx, `
		DELETE FROM ani_job_result r
		USING ani_job j
		WHERE j.id = r.job_id AND j.deleted`)
	if err != nil {
		return 0, fmt.Errorf("failed to drop deleted job results: %w", err)
	}
	return tag.RowsAffected(), nil
}
