package services

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/services/cluster"
)

// HeatmapService clusters a completed job's matrix for display.
type HeatmapService interface {
	Heatmap(ctx context.Context, name string, method models.HeatmapMethod) (*models.Heatmap, error)
}

type heatmapService struct {
	results  ResultService
	taxonomy TaxonomyService
	logger   *zap.Logger
}

func NewHeatmapService(results ResultService, taxonomy TaxonomyService, logger *zap.Logger) HeatmapService {
	return &heatmapService{
		results:  results,
		taxonomy: taxonomy,
		logger:   logger.Named("heatmap-service"),
	}
}

var _ HeatmapService = (*heatmapService)(nil)

func (s *heatmapService) Heatmap(ctx context.Context, name string, method models.HeatmapMethod) (*models.Heatmap, error) {
	if _, ok := models.ParseHeatmapMethod(string(method)); !ok {
		return nil, apperrors.BadRequest("invalid clustering method %q", method)
	}

	m, err := s.results.Matrix(ctx, name)
	if err != nil {
		return nil, err
	}

	hm := &models.Heatmap{
		JobID:      m.JobName,
		Completed:  m.Completed,
		Method:     method,
		ANI:        [][]float64{},
		AF:         [][]float64{},
		XLabels:    []string{},
		YLabels:    []string{},
		XSpecies:   []string{},
		YSpecies:   []string{},
		SpReps:     []string{},
		Dendrogram: []models.DendrogramNode{},
		LeafOrder:  []string{},
	}
	if !m.Completed {
		return hm, nil
	}

	layout := buildHeatmapLayout(m, method)
	rows, cols, nodes, leaves := layout.order()

	hm.ANI = layout.project(layout.ani, rows, cols)
	hm.AF = layout.project(layout.af, rows, cols)
	hm.Dendrogram = nodes
	for _, i := range rows {
		hm.YLabels = append(hm.YLabels, layout.labels[i].Name)
	}
	for _, j := range cols {
		hm.XLabels = append(hm.XLabels, layout.labels[j].Name)
	}
	for _, leaf := range leaves {
		hm.LeafOrder = append(hm.LeafOrder, layout.labels[leaf].Name)
	}

	if err := s.decorate(ctx, hm, layout, rows, cols); err != nil {
		return nil, err
	}
	return hm, nil
}

// decorate adds species names and representatives for NCBI-sourced genomes.
func (s *heatmapService) decorate(ctx context.Context, hm *models.Heatmap, layout *heatmapLayout, rows, cols []int) error {
	var accessions []string
	for _, l := range layout.labels {
		if l.Accession != nil {
			accessions = append(accessions, *l.Accession)
		}
	}
	taxa, err := s.taxonomy.Lookup(ctx, accessions)
	if err != nil {
		return apperrors.Internal(err, "failed to look up taxonomy")
	}

	species := func(idx int) string {
		l := layout.labels[idx]
		if l.Accession == nil {
			return ""
		}
		if tax := taxa[*l.Accession]; tax != nil && tax.Species != nil {
			return *tax.Species
		}
		return ""
	}
	for _, i := range rows {
		hm.YSpecies = append(hm.YSpecies, species(i))
	}
	for _, j := range cols {
		hm.XSpecies = append(hm.XSpecies, species(j))
	}
	for _, l := range layout.labels {
		if l.Accession == nil {
			continue
		}
		if tax := taxa[*l.Accession]; tax != nil && tax.Representative {
			hm.SpReps = append(hm.SpReps, l.Name)
		}
	}
	return nil
}

// heatmapLayout indexes every genome of a job once, queries first, with
// symmetric value matrices over that union.
type heatmapLayout struct {
	labels   []models.GenomeLabel
	rowIdx   []int // union index of each query
	colIdx   []int // union index of each reference
	ani      [][]float64
	af       [][]float64
	axis     [][]float64
	constant bool
}

func buildHeatmapLayout(m *models.ResultMatrix, method models.HeatmapMethod) *heatmapLayout {
	l := &heatmapLayout{}
	index := make(map[int64]int)
	add := func(g models.GenomeLabel) int {
		if i, ok := index[g.ID]; ok {
			return i
		}
		index[g.ID] = len(l.labels)
		l.labels = append(l.labels, g)
		return index[g.ID]
	}
	for _, g := range m.Queries {
		l.rowIdx = append(l.rowIdx, add(g))
	}
	for _, g := range m.References {
		l.colIdx = append(l.colIdx, add(g))
	}

	n := len(l.labels)
	l.ani, l.af = square(n), square(n)
	first, seen := 0.0, false
	l.constant = true
	for i, a := range l.rowIdx {
		for j, b := range l.colIdx {
			ani := m.ANI.Value(i, j)
			af := max(m.AFQry.Value(i, j), m.AFRef.Value(i, j))
			l.ani[a][b], l.ani[b][a] = max(l.ani[a][b], ani), max(l.ani[b][a], ani)
			l.af[a][b], l.af[b][a] = max(l.af[a][b], af), max(l.af[b][a], af)

			v := ani
			if method == models.MethodAF {
				v = af
			}
			if !seen {
				first, seen = v, true
			} else if v != first {
				l.constant = false
			}
		}
	}

	l.axis = l.ani
	if method == models.MethodAF {
		l.axis = l.af
	}
	return l
}

// order returns row and column orders (as union indices), the dendrogram and
// the full leaf order. Degenerate inputs keep storage order.
func (l *heatmapLayout) order() (rows, cols []int, nodes []models.DendrogramNode, leaves []int) {
	n := len(l.labels)
	if len(l.rowIdx) <= 1 || len(l.colIdx) <= 1 || l.constant {
		leaves = make([]int, n)
		for i := range leaves {
			leaves[i] = i
		}
		return slices.Clone(l.rowIdx), slices.Clone(l.colIdx), []models.DendrogramNode{}, leaves
	}

	dist := square(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				dist[i][j] = 100 - l.axis[i][j]
			}
		}
	}
	merges := cluster.AverageLinkage(dist)
	leaves = cluster.OptimalLeafOrder(dist, merges)

	position := make([]int, n)
	for pos, leaf := range leaves {
		position[leaf] = pos
	}
	byPosition := func(idx []int) []int {
		out := slices.Clone(idx)
		slices.SortStableFunc(out, func(a, b int) int { return position[a] - position[b] })
		return out
	}

	nodes = make([]models.DendrogramNode, len(merges))
	for k, mg := range merges {
		nodes[k] = models.DendrogramNode{Left: mg.Left, Right: mg.Right, Distance: mg.Distance, Size: mg.Size}
	}
	return byPosition(l.rowIdx), byPosition(l.colIdx), nodes, leaves
}

func (l *heatmapLayout) project(values [][]float64, rows, cols []int) [][]float64 {
	out := make([][]float64, len(rows))
	for i, a := range rows {
		out[i] = make([]float64, len(cols))
		for j, b := range cols {
			out[i][j] = values[a][b]
		}
	}
	return out
}

func square(n int) [][]float64 {
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	return m
}
