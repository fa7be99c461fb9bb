package models

// Taxonomy is the GTDB classification of one genome.
type Taxonomy struct {
	CanonicalAccession string
	Accession          string
	Domain             *string
	Phylum             *string
	Class              *string
	Order              *string
	Family             *string
	Genus              *string
	Species            *string
	Representative     bool
}

// GenomeValidation is one entry of the validation projection.
type GenomeValidation struct {
	Accession   string  `json:"accession"`
	IsUser      bool    `json:"isUser"`
	IsSpRep     *bool   `json:"isSpRep,omitempty"`
	GtdbDomain  *string `json:"gtdbDomain,omitempty"`
	GtdbPhylum  *string `json:"gtdbPhylum,omitempty"`
	GtdbClass   *string `json:"gtdbClass,omitempty"`
	GtdbOrder   *string `json:"gtdbOrder,omitempty"`
	GtdbFamily  *string `json:"gtdbFamily,omitempty"`
	GtdbGenus   *string `json:"gtdbGenus,omitempty"`
	GtdbSpecies *string `json:"gtdbSpecies,omitempty"`
}
