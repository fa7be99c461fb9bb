package models

import "time"

// MirrorEntry is a row of the NCBI mirror index.
type MirrorEntry struct {
	ID        int64     `json:"id"`
	Accession string    `json:"accession"`
	MD5       string    `json:"md5"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// UploadFile is an uploaded genome as received from a submitter.
// Content holds decompressed FASTA bytes.
type UploadFile struct {
	FileName string
	Content  []byte
	MD5      string
}

// GenomeRef locates the FASTA source of a genome id. Exactly one of
// Mirror and UploadID is set.
type GenomeRef struct {
	ID       int64
	Name     string
	Mirror   *MirrorEntry
	UploadID *int64
}

// IsUpload reports whether the genome was uploaded by a user.
func (g GenomeRef) IsUpload() bool {
	return g.UploadID != nil
}
