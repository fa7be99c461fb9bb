package repositories

import (
	"context"
	"fmt"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
)

// TaxonomyRepository reads the website taxonomy by canonical accession.
type TaxonomyRepository interface {
	Lookup(ctx context.Context, q database.Querier, canonical []string) (map[string]*models.Taxonomy, error)
}

type taxonomyRepository struct{}

func NewTaxonomyRepository() TaxonomyRepository {
	return &taxonomyRepository{}
}

var _ TaxonomyRepository = (*taxonomyRepository)(nil)

func (r *taxonomyRepository) Lookup(ctx context.Context, q database.Querier, canonical []string) (map[string]*models.Taxonomy, error) {
	result := make(map[string]*models.Taxonomy, len(canonical))
	if len(canonical) == 0 {
		return result, nil
	}

	rows, err := q.Query(ctx, `
		SELECT canonical_accession, accession, gtdb_domain, gtdb_phylum, gtdb_class,
		       gtdb_order, gtdb_family, gtdb_genus, gtdb_species, gtdb_representative
		FROM gtdb_taxonomy
		WHERE canonical_accession = ANY($1)`, canonical)
	if err != nil {
		return nil, fmt.Errorf("failed to query taxonomy: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t := &models.Taxonomy{}
		if err := rows.Scan(
			&t.CanonicalAccession, &t.Accession, &t.Domain, &t.Phylum, &t.Class,
			&t.Order, &t.Family, &t.Genus, &t.Species, &t.Representative,
		); err != nil {
			return nil, fmt.Errorf("failed to scan taxonomy: %w", err)
		}
		result[t.CanonicalAccession] = t
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating taxonomy: %w", err)
	}
	return result, nil
}
