package handlers

import (
	"context"
	"io"

	"github.com/gtdb/ani-engine/pkg/models"
)

// mockSubmissionService records the request it was given. Upload bodies are
// drained into contents so tests can inspect them after the handler returns.
type mockSubmissionService struct {
	name     string
	err      error
	req      *models.JobRequest
	contents map[string]string
}

func (m *mockSubmissionService) CreateJob(_ context.Context, req models.JobRequest) (string, error) {
	m.req = &req
	m.contents = make(map[string]string, len(req.Files))
	for _, f := range req.Files {
		data, err := io.ReadAll(f.Body)
		if err != nil {
			return "", err
		}
		m.contents[f.FileName] = string(data)
	}
	return m.name, m.err
}

type mockQueueService struct {
	status *models.JobStatus
	err    error
	name   string
}

func (m *mockQueueService) Status(_ context.Context, name string) (*models.JobStatus, error) {
	m.name = name
	return m.status, m.err
}

type mockResultService struct {
	table *models.TableResult
	err   error
	name  string
	opts  models.TableOptions
}

func (m *mockResultService) Matrix(context.Context, string) (*models.ResultMatrix, error) {
	return nil, m.err
}

func (m *mockResultService) Table(_ context.Context, name string, opts models.TableOptions) (*models.TableResult, error) {
	m.name = name
	m.opts = opts
	return m.table, m.err
}

type mockHeatmapService struct {
	heatmap *models.Heatmap
	err     error
	method  models.HeatmapMethod
}

func (m *mockHeatmapService) Heatmap(_ context.Context, _ string, method models.HeatmapMethod) (*models.Heatmap, error) {
	m.method = method
	return m.heatmap, m.err
}

type mockValidationService struct {
	out        []models.GenomeValidation
	err        error
	accessions []string
}

func (m *mockValidationService) ValidateGenomes(_ context.Context, accessions []string) ([]models.GenomeValidation, error) {
	m.accessions = accessions
	return m.out, m.err
}
