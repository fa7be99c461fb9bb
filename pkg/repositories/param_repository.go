package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gtdb/ani-engine/pkg/database"
)

// ParamRecord is an interned canonical parameter set.
type ParamRecord struct {
	ID      int64
	Version string
	Params  []byte
}

// ParamRepository provides data access for the parameter intern table.
type ParamRepository interface {
	Intern(ctx context.Context, q database.Querier, version string, params []byte) (int64, error)
	Get(ctx context.Context, q database.Querier, id int64) (*ParamRecord, error)
	GetMany(ctx context.Context, q database.Querier, ids []int64) (map[int64]*ParamRecord, error)
}

type paramRepository struct{}

func NewParamRepository() ParamRepository {
	return &paramRepository{}
}

var _ ParamRepository = (*paramRepository)(nil)

// Intern returns the id of the (version, params) record, inserting it if needed.
// params must be canonical JSON; jsonb equality makes key order irrelevant.
func (r *paramRepository) Intern(ctx context.Context, q database.Querier, version string, params []byte) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, `
		INSERT INTO ani_param (version, params)
		VALUES ($1, $2::jsonb)
		ON CONFLICT ON CONSTRAINT ani_param_version_params_key DO NOTHING
		RETURNING id`, version, string(params),
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to insert parameter record: %w", err)
	}

	// Lost the race or already present; the conflicting row is committed.
	err = q.QueryRow(ctx, `
		SELECT id FROM ani_param WHERE version = $1 AND params = $2::jsonb`,
		version, string(params),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to look up parameter record: %w", err)
	}
	return id, nil
}

func (r *paramRepository) Get(ctx context.Context, q database.Querier, id int64) (*ParamRecord, error) {
	rec := &ParamRecord{}
	err := q.QueryRow(ctx, `
		SELECT id, version, params::text FROM ani_param WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Version, &rec.Params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get parameter record: %w", err)
	}
	return rec, nil
}

func (r *paramRepository) GetMany(ctx context.Context, q database.Querier, ids []int64) (map[int64]*ParamRecord, error) {
	result := make(map[int64]*ParamRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := q.Query(ctx, `
		SELECT id, version, params::text FROM ani_param WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query parameter records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec := &ParamRecord{}
		if err := rows.Scan(&rec.ID, &rec.Version, &rec.Params); err != nil {
			return nil, fmt.Errorf("failed to scan parameter record: %w", err)
		}
		result[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating parameter records: %w", err)
	}
	return result, nil
}
