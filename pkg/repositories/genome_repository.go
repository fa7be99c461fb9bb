package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
)

// StoredUpload is the persisted payload of a user upload.
type StoredUpload struct {
	ID       int64
	JobID    int64
	FileName string
	MD5      string
	Size     int64
	Content  []byte
	Purged   bool
}

// GenomeRepository provides data access for the mirror index, genomes and uploads.
type GenomeRepository interface {
	ImportMirror(ctx context.Context, q database.Querier, entries []models.MirrorEntry) (int64, error)
	FindMirror(ctx context.Context, q database.Querier, accessions []string) (map[string]*models.MirrorEntry, error)
	ResolveNCBI(ctx context.Context, q database.Querier, accessions []string) (map[string]int64, error)
	CreateUpload(ctx context.Context, q database.Querier, upload *StoredUpload) (int64, error)
	GetRefs(ctx context.Context, q database.Querier, ids []int64) (map[int64]*models.GenomeRef, error)
	GetUpload(ctx context.Context, q database.Querier, uploadID int64) (*StoredUpload, error)
	PurgeDeletedUploads(ctx context.Context, q database.Querier) (int64, error)
}

type genomeRepository struct{}

func NewGenomeRepository() GenomeRepository {
	return &genomeRepository{}
}

var _ GenomeRepository = (*genomeRepository)(nil)

// ImportMirror inserts new mirror index rows. Existing accessions are left untouched.
func (r *genomeRepository) ImportMirror(ctx context.Context, q database.Querier, entries []models.MirrorEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`
			INSERT INTO ncbi_mirror (accession, md5, url)
			VALUES ($1, $2, $3)
			ON CONFLICT ON CONSTRAINT ncbi_mirror_accession_key DO NOTHING`,
			e.Accession, e.MD5, e.URL)
	}

	br := q.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range entries {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to import mirror entry: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (r *genomeRepository) FindMirror(ctx context.Context, q database.Querier, accessions []string) (map[string]*models.MirrorEntry, error) {
	result := make(map[string]*models.MirrorEntry, len(accessions))
	if len(accessions) == 0 {
		return result, nil
	}

	rows, err := q.Query(ctx, `
		SELECT id, accession, md5, url, created_at
		FROM ncbi_mirror
		WHERE accession = ANY($1)`, accessions)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirror index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &models.MirrorEntry{}
		if err := rows.Scan(&e.ID, &e.Accession, &e.MD5, &e.URL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mirror entry: %w", err)
		}
		result[e.Accession] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mirror entries: %w", err)
	}
	return result, nil
}

// ResolveNCBI returns genome ids for every accession in the mirror index,
// creating genome rows on first reference. Concurrent callers converge on the
// unique mirror reference.
func (r *genomeRepository) ResolveNCBI(ctx context.Context, q database.Querier, accessions []string) (map[string]int64, error) {
	result := make(map[string]int64, len(accessions))
	if len(accessions) == 0 {
		return result, nil
	}

	_, err := q.Exec(ctx, `
		INSERT INTO ani_genome (ncbi_mirror_id)
		SELECT id FROM ncbi_mirror WHERE accession = ANY($1)
		ON CONFLICT (ncbi_mirror_id) DO NOTHING`, accessions)
	if err != nil {
		return nil, fmt.Errorf("failed to create genome records: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT m.accession, g.id
		FROM ani_genome g
		JOIN ncbi_mirror m ON m.id = g.ncbi_mirror_id
		WHERE m.accession = ANY($1)`, accessions)
	if err != nil {
		return nil, fmt.Errorf("failed to query genome records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var accession string
		var id int64
		if err := rows.Scan(&accession, &id); err != nil {
			return nil, fmt.Errorf("failed to scan genome record: %w", err)
		}
		result[accession] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating genome records: %w", err)
	}
	return result, nil
}

// CreateUpload stores an upload and its genome record, returning the genome id.
func (r *genomeRepository) CreateUpload(ctx context.Context, q database.Querier, upload *StoredUpload) (int64, error) {
	err := q.QueryRow(ctx, `
		INSERT INTO ani_user_upload (job_id, file_name, md5, size_bytes, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		upload.JobID, upload.FileName, upload.MD5, upload.Size, upload.Content,
	).Scan(&upload.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert upload %q: %w", upload.FileName, err)
	}

	var genomeID int64
	err = q.QueryRow(ctx, `
		INSERT INTO ani_genome (user_upload_id) VALUES ($1) RETURNING id`,
		upload.ID,
	).Scan(&genomeID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert genome for upload %q: %w", upload.FileName, err)
	}
	return genomeID, nil
}

// GetRefs resolves genome ids to their origin. Unknown ids are absent from the result.
func (r *genomeRepository) GetRefs(ctx context.Context, q database.Querier, ids []int64) (map[int64]*models.GenomeRef, error) {
	result := make(map[int64]*models.GenomeRef, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := q.Query(ctx, `
		SELECT g.id, m.id, m.accession, m.md5, m.url, u.id, u.file_name
		FROM ani_genome g
		LEFT JOIN ncbi_mirror m ON m.id = g.ncbi_mirror_id
		LEFT JOIN ani_user_upload u ON u.id = g.user_upload_id
		WHERE g.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query genomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                         int64
			mirrorID, uploadID         *int64
			accession, md5, url, fname *string
		)
		if err := rows.Scan(&id, &mirrorID, &accession, &md5, &url, &uploadID, &fname); err != nil {
			return nil, fmt.Errorf("failed to scan genome: %w", err)
		}

		ref := &models.GenomeRef{ID: id}
		if mirrorID != nil {
			ref.Name = *accession
			ref.Mirror = &models.MirrorEntry{ID: *mirrorID, Accession: *accession, MD5: *md5, URL: *url}
		} else {
			ref.Name = *fname
			ref.UploadID = uploadID
		}
		result[id] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating genomes: %w", err)
	}
	return result, nil
}

func (r *genomeRepository) GetUpload(ctx context.Context, q database.Querier, uploadID int64) (*StoredUpload, error) {
	u := &StoredUpload{}
	err := q.QueryRow(ctx, `
		SELECT id, job_id, file_name, md5, size_bytes, content, purged_at IS NOT NULL
		FROM ani_user_upload
		WHERE id = $1`, uploadID,
	).Scan(&u.ID, &u.JobID, &u.FileName, &u.MD5, &u.Size, &u.Content, &u.Purged)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get upload: %w", err)
	}
	return u, nil
}

// PurgeDeletedUploads clears the payload of every upload owned by a deleted job.
func (r *genomeRepository) PurgeDeletedUploads(ctx context.Context, q database.Querier) (int64, error) {
	tag, err := q.Exec(ctx, `
		UPDATE ani_user_upload u
		SET content = NULL, purged_at = now()
		FROM ani_job j
		WHERE j.id = u.job_id AND j.deleted AND u.purged_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge uploads: %w", err)
	}
	return tag.RowsAffected(), nil
}
