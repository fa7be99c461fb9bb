package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/config"
)

type retentionFixture struct {
	db      *fakeDB
	jobs    *mockJobRepo
	genomes *mockGenomeRepo
	pairs   *mockPairRepo
	results *mockResultRepo
	now     time.Time
}

func newRetentionFixture() *retentionFixture {
	return &retentionFixture{
		db:      &fakeDB{},
		jobs:    newMockJobRepo(),
		genomes: newMockGenomeRepo(),
		pairs:   newMockPairRepo(),
		results: newMockResultRepo(),
		now:     time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *retentionFixture) service(cfg *config.RetentionConfig) *retentionService {
	svc := NewRetentionService(f.db, f.jobs, f.genomes, f.pairs, f.results, cfg, zap.NewNop()).(*retentionService)
	svc.now = func() time.Time { return f.now }
	return svc
}

func TestRetentionService_RunOnce(t *testing.T) {
	f := newRetentionFixture()
	f.jobs.expireN = 2
	f.jobs.staleN = 1
	f.genomes.purgeN = 3
	f.pairs.deleteN = 4
	f.results.deleteN = 2

	svc := f.service(&config.RetentionConfig{StaleSubmissionMinutes: 30, DropResults: true})
	report, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &RetentionReport{Expired: 2, Stale: 1, UploadsPurged: 3, PairsDeleted: 4, ResultsDropped: 2}, report)
	assert.Equal(t, f.now, f.jobs.expireAt)
	assert.Equal(t, f.now.Add(-30*time.Minute), f.jobs.staleCutoff)
	assert.Equal(t, 1, f.db.txCalls, "a pass runs in one transaction")
}

func TestRetentionService_RunOnce_KeepsResultsByDefault(t *testing.T) {
	f := newRetentionFixture()
	f.results.deleteN = 5

	report, err := f.service(&config.RetentionConfig{}).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.ResultsDropped)
	assert.True(t, f.jobs.staleCutoff.IsZero(), "stale sweep disabled")
}

func TestRetentionService_RunOnce_Error(t *testing.T) {
	f := newRetentionFixture()
	f.jobs.retentionErr = assert.AnError

	_, err := f.service(&config.RetentionConfig{}).RunOnce(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRetentionService_RunScheduler_RunsImmediately(t *testing.T) {
	f := newRetentionFixture()
	svc := f.service(&config.RetentionConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.RunScheduler(ctx, time.Hour)

	assert.Eventually(t, func() bool {
		f.jobs.mu.Lock()
		defer f.jobs.mu.Unlock()
		return !f.jobs.expireAt.IsZero()
	}, time.Second, 10*time.Millisecond)
}
