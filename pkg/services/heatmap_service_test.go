package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/models"
)

type stubResultService struct {
	matrix *models.ResultMatrix
	err    error
}

func (s *stubResultService) Matrix(ctx context.Context, name string) (*models.ResultMatrix, error) {
	return s.matrix, s.err
}

func (s *stubResultService) Table(ctx context.Context, name string, opts models.TableOptions) (*models.TableResult, error) {
	return nil, nil
}

func label(id int64, name string, ncbi bool) models.GenomeLabel {
	l := models.GenomeLabel{ID: id, Name: name}
	if ncbi {
		l.Accession = &name
	}
	return l
}

func matrixOf(rows ...[]float64) models.Matrix {
	m := models.NewMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		for j, v := range row {
			if v >= 0 {
				x := v
				m[i][j] = &x
			}
		}
	}
	return m
}

func newHeatmapService(m *models.ResultMatrix, taxa map[string]*models.Taxonomy) HeatmapService {
	return NewHeatmapService(&stubResultService{matrix: m}, &mockTaxonomyService{taxa: taxa}, zap.NewNop())
}

func TestHeatmapService_RejectsUnknownMethod(t *testing.T) {
	svc := newHeatmapService(&models.ResultMatrix{}, nil)
	_, err := svc.Heatmap(context.Background(), "00000001", "euclid")
	assert.Equal(t, apperrors.KindBadRequest, apperrors.KindOf(err))
}

func TestHeatmapService_IncompleteJobIsEmpty(t *testing.T) {
	svc := newHeatmapService(&models.ResultMatrix{JobName: "00000001"}, nil)

	hm, err := svc.Heatmap(context.Background(), "00000001", models.MethodANI)
	require.NoError(t, err)
	assert.False(t, hm.Completed)
	assert.Empty(t, hm.ANI)
	assert.NotNil(t, hm.XLabels)
	assert.NotNil(t, hm.Dendrogram)
}

func TestHeatmapService_QvRSymmetrisation(t *testing.T) {
	m := &models.ResultMatrix{
		JobName:    "00000001",
		Mode:       models.ModeQvR,
		Completed:  true,
		Queries:    []models.GenomeLabel{label(1, "q1", true), label(2, "q2", true)},
		References: []models.GenomeLabel{label(3, "r1", true), label(4, "r2", false)},
		ANI:        matrixOf([]float64{95, 80}, []float64{82, 97}),
		AFQry:      matrixOf([]float64{0, 40}, []float64{55, 0}),
		AFRef:      matrixOf([]float64{60, 0}, []float64{0, 70}),
	}
	taxa := map[string]*models.Taxonomy{
		"q1": {Species: strp("s__Escherichia coli"), Representative: true},
		"r1": {Species: strp("s__Shigella flexneri")},
	}
	svc := newHeatmapService(m, taxa)

	hm, err := svc.Heatmap(context.Background(), "00000001", models.MethodANI)
	require.NoError(t, err)
	require.True(t, hm.Completed)
	require.Len(t, hm.YLabels, 2)
	require.Len(t, hm.XLabels, 2)

	wantAF := map[[2]string]float64{
		{"q1", "r1"}: 60, {"q1", "r2"}: 40,
		{"q2", "r1"}: 55, {"q2", "r2"}: 70,
	}
	wantANI := map[[2]string]float64{
		{"q1", "r1"}: 95, {"q1", "r2"}: 80,
		{"q2", "r1"}: 82, {"q2", "r2"}: 97,
	}
	for i, y := range hm.YLabels {
		for j, x := range hm.XLabels {
			assert.Equal(t, wantAF[[2]string{y, x}], hm.AF[i][j], "af %s/%s", y, x)
			assert.Equal(t, wantANI[[2]string{y, x}], hm.ANI[i][j], "ani %s/%s", y, x)
		}
	}

	assert.Len(t, hm.Dendrogram, 3, "four genomes merge three times")
	assert.ElementsMatch(t, []string{"q1", "q2", "r1", "r2"}, hm.LeafOrder)
	assert.Equal(t, []string{"q1"}, hm.SpReps)

	species := map[string]string{}
	for i, y := range hm.YLabels {
		species[y] = hm.YSpecies[i]
	}
	for j, x := range hm.XLabels {
		species[x] = hm.XSpecies[j]
	}
	assert.Equal(t, "s__Escherichia coli", species["q1"])
	assert.Equal(t, "s__Shigella flexneri", species["r1"])
	assert.Equal(t, "", species["r2"], "uploads carry no species")
}

func TestHeatmapService_TriangleIsSymmetric(t *testing.T) {
	genomes := []models.GenomeLabel{label(1, "a", true), label(2, "b", true), label(3, "c", true)}
	m := &models.ResultMatrix{
		JobName:    "00000001",
		Mode:       models.ModeTriangle,
		Completed:  true,
		Queries:    genomes,
		References: genomes,
		ANI:        matrixOf([]float64{100, 80, 99}, []float64{81, 100, 79}, []float64{98, 78, 100}),
		AFQry:      matrixOf([]float64{100, 30, 90}, []float64{35, 100, 20}, []float64{91, 25, 100}),
		AFRef:      matrixOf([]float64{100, 35, 91}, []float64{30, 100, 25}, []float64{90, 20, 100}),
	}
	svc := newHeatmapService(m, nil)

	hm, err := svc.Heatmap(context.Background(), "00000001", models.MethodAF)
	require.NoError(t, err)

	for i := range hm.AF {
		for j := range hm.AF {
			assert.Equal(t, hm.AF[i][j], hm.AF[j][i])
			assert.Equal(t, hm.ANI[i][j], hm.ANI[j][i])
		}
	}
	assert.Equal(t, hm.YLabels, hm.XLabels)

	// a and c are closest and must be adjacent in the leaf order.
	pos := map[string]int{}
	for i, name := range hm.LeafOrder {
		pos[name] = i
	}
	diff := pos["a"] - pos["c"]
	assert.True(t, diff == 1 || diff == -1, "leaf order %v", hm.LeafOrder)
}

func TestHeatmapService_DegenerateKeepsStorageOrder(t *testing.T) {
	tests := []struct {
		name string
		m    *models.ResultMatrix
	}{
		{
			name: "single query",
			m: &models.ResultMatrix{
				Completed:  true,
				Queries:    []models.GenomeLabel{label(1, "q1", false)},
				References: []models.GenomeLabel{label(2, "r1", false), label(3, "r2", false)},
				ANI:        matrixOf([]float64{90, 80}),
				AFQry:      matrixOf([]float64{50, 40}),
				AFRef:      matrixOf([]float64{50, 40}),
			},
		},
		{
			name: "constant values",
			m: &models.ResultMatrix{
				Completed:  true,
				Queries:    []models.GenomeLabel{label(1, "q1", false), label(2, "q2", false)},
				References: []models.GenomeLabel{label(3, "r1", false), label(4, "r2", false)},
				ANI:        matrixOf([]float64{0, 0}, []float64{0, 0}),
				AFQry:      matrixOf([]float64{0, 0}, []float64{0, 0}),
				AFRef:      matrixOf([]float64{0, 0}, []float64{0, 0}),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hm, err := newHeatmapService(tt.m, nil).Heatmap(context.Background(), "00000001", models.MethodANI)
			require.NoError(t, err)
			assert.Empty(t, hm.Dendrogram)
			for i, q := range tt.m.Queries {
				assert.Equal(t, q.Name, hm.YLabels[i])
			}
			for j, r := range tt.m.References {
				assert.Equal(t, r.Name, hm.XLabels[j])
			}
		})
	}
}
