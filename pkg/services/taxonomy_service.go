package services

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/metrics"
	"github.com/gtdb/ani-engine/pkg/mirror"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

// TaxonomyService decorates genomes with GTDB taxonomy. Lookups fold
// accessions to their canonical form and are cached, including misses.
type TaxonomyService interface {
	// Lookup returns the taxonomy of every accession the store knows, keyed
	// by the accession as given.
	Lookup(ctx context.Context, accessions []string) (map[string]*models.Taxonomy, error)
	Close()
}

// taxonomyEntry wraps a cached lookup; a nil Taxonomy records a miss.
type taxonomyEntry struct {
	tax *models.Taxonomy
}

type taxonomyService struct {
	db     database.Handle
	repo   repositories.TaxonomyRepository
	cache  *ttlcache.Cache[string, taxonomyEntry]
	logger *zap.Logger
}

func NewTaxonomyService(db database.Handle, repo repositories.TaxonomyRepository, ttl time.Duration, logger *zap.Logger) TaxonomyService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	cache := ttlcache.New[string, taxonomyEntry](
		ttlcache.WithTTL[string, taxonomyEntry](ttl),
		ttlcache.WithDisableTouchOnHit[string, taxonomyEntry](),
	)
	go cache.Start()

	return &taxonomyService{
		db:     db,
		repo:   repo,
		cache:  cache,
		logger: logger.Named("taxonomy-service"),
	}
}

var _ TaxonomyService = (*taxonomyService)(nil)

func (s *taxonomyService) Lookup(ctx context.Context, accessions []string) (map[string]*models.Taxonomy, error) {
	byCanonical := make(map[string]*models.Taxonomy, len(accessions))
	var misses []string
	for _, canonical := range unique(canonicalAll(accessions)) {
		if item := s.cache.Get(canonical); item != nil {
			byCanonical[canonical] = item.Value().tax
			continue
		}
		misses = append(misses, canonical)
	}

	if len(misses) > 0 {
		found, err := s.repo.Lookup(ctx, s.db.Q(), misses)
		if err != nil {
			return nil, err
		}
		for _, canonical := range misses {
			tax := found[canonical]
			s.cache.Set(canonical, taxonomyEntry{tax: tax}, ttlcache.DefaultTTL)
			byCanonical[canonical] = tax
		}
	}
	s.recordMetrics()

	out := make(map[string]*models.Taxonomy, len(accessions))
	for _, acc := range accessions {
		if tax := byCanonical[mirror.CanonicalAccession(acc)]; tax != nil {
			out[acc] = tax
		}
	}
	return out, nil
}

func (s *taxonomyService) recordMetrics() {
	m := s.cache.Metrics()
	metrics.TaxonomyCache.WithLabelValues("hits").Set(float64(m.Hits))
	metrics.TaxonomyCache.WithLabelValues("misses").Set(float64(m.Misses))
	metrics.TaxonomyCache.WithLabelValues("insertions").Set(float64(m.Insertions))
	metrics.TaxonomyCache.WithLabelValues("evictions").Set(float64(m.Evictions))
}

func (s *taxonomyService) Close() {
	s.cache.Stop()
	s.cache.DeleteAll()
}

func canonicalAll(accessions []string) []string {
	out := make([]string, len(accessions))
	for i, acc := range accessions {
		out[i] = mirror.CanonicalAccession(acc)
	}
	return out
}
