package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/models"
)

// ValidationService reports how submitted accessions would be interpreted.
type ValidationService interface {
	ValidateGenomes(ctx context.Context, accessions []string) ([]models.GenomeValidation, error)
}

type validationService struct {
	registry GenomeRegistry
	taxonomy TaxonomyService
	maxCount int
	logger   *zap.Logger
}

// NewValidationService creates a validation service accepting at most
// maxCount accessions per call.
func NewValidationService(registry GenomeRegistry, taxonomy TaxonomyService, maxCount int, logger *zap.Logger) ValidationService {
	return &validationService{
		registry: registry,
		taxonomy: taxonomy,
		maxCount: maxCount,
		logger:   logger.Named("validation-service"),
	}
}

var _ ValidationService = (*validationService)(nil)

func (s *validationService) ValidateGenomes(ctx context.Context, accessions []string) ([]models.GenomeValidation, error) {
	accessions = unique(trimAll(accessions))
	if s.maxCount > 0 && len(accessions) > s.maxCount {
		return nil, apperrors.BadRequest("too many genomes (%d), the maximum is %d", len(accessions), s.maxCount)
	}

	mirrored, err := s.registry.FindMirror(ctx, accessions)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to look up genomes")
	}
	taxa, err := s.taxonomy.Lookup(ctx, accessions)
	if err != nil {
		return nil, apperrors.Internal(err, "failed to look up taxonomy")
	}

	out := make([]models.GenomeValidation, len(accessions))
	for i, acc := range accessions {
		v := models.GenomeValidation{
			Accession: acc,
			IsUser:    mirrored[acc] == nil,
		}
		if tax := taxa[acc]; tax != nil {
			rep := tax.Representative
			v.IsSpRep = &rep
			v.GtdbDomain = tax.Domain
			v.GtdbPhylum = tax.Phylum
			v.GtdbClass = tax.Class
			v.GtdbOrder = tax.Order
			v.GtdbFamily = tax.Family
			v.GtdbGenus = tax.Genus
			v.GtdbSpecies = tax.Species
		}
		out[i] = v
	}
	return out, nil
}
