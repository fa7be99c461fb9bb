// Package mirror resolves genome accessions against the local NCBI mirror.
//
// The mirror stores one gzipped FASTA per accession under a four-level prefix
// split of the accession, e.g. GCA_000005845.2 lives at
// GCA/000/005/845/GCA_000005845.2.fna.gz beneath the mirror root.
package mirror

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// minAccessionLength is the shortest accession the prefix split can address.
const minAccessionLength = 13

// RelPath returns the mirror-relative path of an accession.
func RelPath(accession string) (string, error) {
	if len(accession) < minAccessionLength {
		return "", fmt.Errorf("accession %q is too short for the mirror layout", accession)
	}
	if strings.ContainsAny(accession, `/\`) || strings.Contains(accession, "..") {
		return "", fmt.Errorf("accession %q contains path separators", accession)
	}
	return filepath.Join(
		accession[0:3],
		accession[4:7],
		accession[7:10],
		accession[10:13],
		accession+".fna.gz",
	), nil
}

// Path returns the absolute path of an accession beneath root.
func Path(root, accession string) (string, error) {
	rel, err := RelPath(accession)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

var (
	sourceTag      = regexp.MustCompile(`^(?i)(RS|GB)_`)
	archiveAccnPat = regexp.MustCompile(`^(?i)GC[AF]_(\d+(?:\.\d+)?)$`)
)

// CanonicalAccession folds an accession for metadata matching: source tags
// (RS_, GB_) and the archive prefix (GCA_, GCF_) are stripped, keeping the
// accession number and version. Unrecognised strings are returned trimmed.
// The result is never used to identify genomes for comparison.
func CanonicalAccession(s string) string {
	s = strings.TrimSpace(s)
	s = sourceTag.ReplaceAllString(s, "")
	if m := archiveAccnPat.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}
