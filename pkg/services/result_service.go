package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

// ResultService assembles the packed result of a job into matrices and tables.
type ResultService interface {
	Matrix(ctx context.Context, name string) (*models.ResultMatrix, error)
	Table(ctx context.Context, name string, opts models.TableOptions) (*models.TableResult, error)
}

type resultService struct {
	db      database.Handle
	jobs    repositories.JobRepository
	results repositories.ResultRepository
	genomes repositories.GenomeRepository
	logger  *zap.Logger
}

func NewResultService(
	db database.Handle,
	jobs repositories.JobRepository,
	results repositories.ResultRepository,
	genomes repositories.GenomeRepository,
	logger *zap.Logger,
) ResultService {
	return &resultService{
		db:      db,
		jobs:    jobs,
		results: results,
		genomes: genomes,
		logger:  logger.Named("result-service"),
	}
}

var _ ResultService = (*resultService)(nil)

func (s *resultService) Matrix(ctx context.Context, name string) (*models.ResultMatrix, error) {
	q := s.db.Q()
	job, err := lookupJob(ctx, q, s.jobs, name)
	if err != nil {
		return nil, err
	}

	queryIDs, refIDs, err := s.jobs.Members(ctx, q, job)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load job genomes")
	}
	labels, err := s.labels(ctx, q, append(append([]int64{}, queryIDs...), refIDs...))
	if err != nil {
		return nil, err
	}

	m := &models.ResultMatrix{
		JobName:    job.Name,
		Mode:       job.Mode,
		Completed:  job.Completed != nil,
		Error:      job.Error,
		Queries:    pick(labels, queryIDs),
		References: pick(labels, refIDs),
	}
	if !m.Completed {
		return m, nil
	}

	packed, err := s.results.Get(ctx, q, job.ID)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load job result")
	}
	if packed == nil {
		return nil, apperrors.Internal(nil, "result of job %s is missing", job.Name)
	}
	rows, cols := len(queryIDs), len(refIDs)
	if err := packed.CheckShape(rows, cols); err != nil {
		s.logger.Error("Packed result shape mismatch", zap.String("job", job.Name), zap.Error(err))
		return nil, apperrors.Internal(err, "result of job %s is corrupt", job.Name)
	}

	m.ANI = models.Unpack(packed.ANI, rows, cols)
	m.AFQry = models.Unpack(packed.AFQry, rows, cols)
	m.AFRef = models.Unpack(packed.AFRef, rows, cols)
	if job.Mode == models.ModeTriangle {
		m.AFQry, m.AFRef = symmetricAF(m.AFQry, m.AFRef), symmetricAF(m.AFRef, m.AFQry)
	}
	return m, nil
}

func (s *resultService) Table(ctx context.Context, name string, opts models.TableOptions) (*models.TableResult, error) {
	m, err := s.Matrix(ctx, name)
	if err != nil {
		return nil, err
	}

	table := &models.TableResult{
		JobID:     m.JobName,
		Completed: m.Completed,
		Error:     m.Error,
		Rows:      []models.TableRow{},
	}
	if !m.Completed {
		return table, nil
	}

	for i, qry := range m.Queries {
		for j, ref := range m.References {
			if opts.DropSelf && qry.ID == ref.ID {
				continue
			}
			ani, afQry, afRef := m.ANI[i][j], m.AFQry[i][j], m.AFRef[i][j]
			if opts.DropZero && isZero(ani) && isZero(afQry) && isZero(afRef) {
				continue
			}
			table.Rows = append(table.Rows, models.TableRow{
				Qry:   qry.Name,
				Ref:   ref.Name,
				ANI:   tableValue(ani, opts.NullsAsZero),
				AFQry: tableValue(afQry, opts.NullsAsZero),
				AFRef: tableValue(afRef, opts.NullsAsZero),
			})
		}
	}
	return table, nil
}

func (s *resultService) labels(ctx context.Context, q database.Querier, ids []int64) (map[int64]models.GenomeLabel, error) {
	refs, err := s.genomes.GetRefs(ctx, q, ids)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to load genome names")
	}
	labels := make(map[int64]models.GenomeLabel, len(refs))
	for id, ref := range refs {
		label := models.GenomeLabel{ID: id, Name: ref.Name}
		if ref.Mirror != nil {
			acc := ref.Mirror.Accession
			label.Accession = &acc
		}
		labels[id] = label
	}
	return labels, nil
}

func pick(labels map[int64]models.GenomeLabel, ids []int64) []models.GenomeLabel {
	out := make([]models.GenomeLabel, len(ids))
	for i, id := range ids {
		if l, ok := labels[id]; ok {
			out[i] = l
		} else {
			out[i] = models.GenomeLabel{ID: id}
		}
	}
	return out
}

// symmetricAF returns the view of a square AF matrix in which cell (i,j)
// is the larger of a[i][j] and its transposed counterpart b[j][i].
func symmetricAF(a, b models.Matrix) models.Matrix {
	n := len(a)
	out := models.NewMatrix(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i][j] = maxOf(a[i][j], b[j][i])
		}
	}
	return out
}

func maxOf(x, y *float64) *float64 {
	switch {
	case x == nil:
		return y
	case y == nil:
		return x
	case *y > *x:
		return y
	}
	return x
}

func isZero(v *float64) bool {
	return v == nil || *v == 0
}

func tableValue(v *float64, nullsAsZero bool) *float64 {
	if v == nil {
		if nullsAsZero {
			zero := 0.0
			return &zero
		}
		return nil
	}
	r := models.Round2(*v)
	return &r
}
