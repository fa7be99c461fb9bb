package services

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

// GenomeRegistry maps accessions and uploads to genome ids.
type GenomeRegistry interface {
	// ResolveNCBI returns the genome id of every name present in the mirror
	// index, creating ids on first use. Unknown names are absent.
	ResolveNCBI(ctx context.Context, names []string) (map[string]int64, error)

	// CreateUserUploads stores files for jobID and returns filename -> genome id.
	// It runs on the caller's transaction.
	CreateUserUploads(ctx context.Context, q database.Querier, jobID int64, files []models.UploadFile) (map[string]int64, error)

	// LoadUpload returns the decompressed FASTA of an upload.
	LoadUpload(ctx context.Context, uploadID int64) ([]byte, error)

	// FindMirror returns the mirror index entries of the known accessions.
	FindMirror(ctx context.Context, accessions []string) (map[string]*models.MirrorEntry, error)

	// ImportMirror appends entries to the mirror index, returning the number added.
	ImportMirror(ctx context.Context, entries []models.MirrorEntry) (int64, error)
}

type genomeRegistry struct {
	db      database.Handle
	repo    repositories.GenomeRepository
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	logger  *zap.Logger
}

// NewGenomeRegistry creates a registry storing upload payloads zstd-compressed.
func NewGenomeRegistry(db database.Handle, repo repositories.GenomeRepository, logger *zap.Logger) (GenomeRegistry, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &genomeRegistry{
		db:      db,
		repo:    repo,
		encoder: encoder,
		decoder: decoder,
		logger:  logger.Named("genome-registry"),
	}, nil
}

var _ GenomeRegistry = (*genomeRegistry)(nil)

func (s *genomeRegistry) ResolveNCBI(ctx context.Context, names []string) (map[string]int64, error) {
	if len(names) == 0 {
		return map[string]int64{}, nil
	}
	ids, err := s.repo.ResolveNCBI(ctx, s.db.Q(), unique(names))
	if err != nil {
		return nil, err
	}
	if dropped := len(unique(names)) - len(ids); dropped > 0 {
		s.logger.Debug("Dropped accessions absent from the mirror index",
			zap.Int("requested", len(names)),
			zap.Int("dropped", dropped))
	}
	return ids, nil
}

func (s *genomeRegistry) CreateUserUploads(ctx context.Context, q database.Querier, jobID int64, files []models.UploadFile) (map[string]int64, error) {
	ids := make(map[string]int64, len(files))
	for _, f := range files {
		upload := &repositories.StoredUpload{
			JobID:    jobID,
			FileName: f.FileName,
			MD5:      f.MD5,
			Size:     int64(len(f.Content)),
			Content:  s.encoder.EncodeAll(f.Content, nil),
		}
		genomeID, err := s.repo.CreateUpload(ctx, q, upload)
		if err != nil {
			return nil, err
		}
		ids[f.FileName] = genomeID
	}
	return ids, nil
}

func (s *genomeRegistry) LoadUpload(ctx context.Context, uploadID int64) ([]byte, error) {
	upload, err := s.repo.GetUpload(ctx, s.db.Q(), uploadID)
	if err != nil {
		return nil, apperrors.Internal(err, "upload unreadable")
	}
	if upload == nil || upload.Purged || upload.Content == nil {
		return nil, apperrors.Internal(nil, "upload unreadable")
	}

	content, err := s.decoder.DecodeAll(upload.Content, nil)
	if err != nil {
		return nil, apperrors.Internal(err, "upload unreadable")
	}
	return content, nil
}

func (s *genomeRegistry) FindMirror(ctx context.Context, accessions []string) (map[string]*models.MirrorEntry, error) {
	return s.repo.FindMirror(ctx, s.db.Q(), unique(accessions))
}

func (s *genomeRegistry) ImportMirror(ctx context.Context, entries []models.MirrorEntry) (int64, error) {
	var added int64
	err := s.db.WithTx(ctx, func(q database.Querier) error {
		n, err := s.repo.ImportMirror(ctx, q, entries)
		added = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("Imported mirror index",
		zap.Int("rows", len(entries)),
		zap.Int64("added", added))
	return added, nil
}

// unique returns names without duplicates, keeping first occurrences in order.
func unique(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
