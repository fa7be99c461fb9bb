package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/models"
)

func TestTaxonomyService_Lookup_FoldsAccessions(t *testing.T) {
	repo := &mockTaxonomyRepo{taxa: map[string]*models.Taxonomy{
		"000005845.2": {CanonicalAccession: "000005845.2", Species: strp("s__Escherichia coli"), Representative: true},
	}}
	svc := NewTaxonomyService(&fakeDB{}, repo, time.Hour, zap.NewNop())
	defer svc.Close()

	got, err := svc.Lookup(context.Background(), []string{"GCA_000005845.2", "RS_GCF_000005845.2", "mine.fna"})
	require.NoError(t, err)

	require.Contains(t, got, "GCA_000005845.2")
	require.Contains(t, got, "RS_GCF_000005845.2")
	assert.NotContains(t, got, "mine.fna")
	assert.Equal(t, "s__Escherichia coli", *got["GCA_000005845.2"].Species)

	require.Len(t, repo.calls, 1)
	assert.ElementsMatch(t, []string{"000005845.2", "mine.fna"}, repo.calls[0])
}

func TestTaxonomyService_Lookup_CachesHitsAndMisses(t *testing.T) {
	repo := &mockTaxonomyRepo{taxa: map[string]*models.Taxonomy{
		"000000001.1": {CanonicalAccession: "000000001.1"},
	}}
	svc := NewTaxonomyService(&fakeDB{}, repo, time.Hour, zap.NewNop())
	defer svc.Close()

	_, err := svc.Lookup(context.Background(), []string{"GCA_000000001.1", "GCA_000000404.1"})
	require.NoError(t, err)
	got, err := svc.Lookup(context.Background(), []string{"GCF_000000001.1", "GCA_000000404.1"})
	require.NoError(t, err)

	assert.Len(t, repo.calls, 1, "second lookup is served from the cache")
	assert.Contains(t, got, "GCF_000000001.1")
	assert.NotContains(t, got, "GCA_000000404.1")
}

func TestTaxonomyService_Lookup_ErrorIsNotCached(t *testing.T) {
	repo := &mockTaxonomyRepo{err: assert.AnError}
	svc := NewTaxonomyService(&fakeDB{}, repo, time.Hour, zap.NewNop())
	defer svc.Close()

	_, err := svc.Lookup(context.Background(), []string{"GCA_000000001.1"})
	require.Error(t, err)

	repo.err = nil
	_, err = svc.Lookup(context.Background(), []string{"GCA_000000001.1"})
	require.NoError(t, err)
	assert.Len(t, repo.calls, 2)
}
