package mirror

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cavaliercoder/grab"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gtdb/ani-engine/pkg/metrics"
	"github.com/gtdb/ani-engine/pkg/models"
)

// ErrMissing is returned when a mirrored genome is absent and fetching is disabled.
var ErrMissing = errors.New("genome missing from mirror")

// Store locates mirrored FASTA files, optionally fetching absent ones from
// the mirror index source URL.
type Store struct {
	root    string
	fetch   bool
	client  *grab.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewStore creates a Store rooted at root. With fetch enabled, missing files are
// downloaded at most downloadsPerSecond at a time.
func NewStore(root string, fetch bool, downloadsPerSecond float64, logger *zap.Logger) *Store {
	limit := rate.Limit(downloadsPerSecond)
	if downloadsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Store{
		root:    root,
		fetch:   fetch,
		client:  grab.NewClient(),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.Named("mirror"),
	}
}

// Root returns the mirror root directory.
func (s *Store) Root() string {
	return s.root
}

// Locate returns the local path of a mirrored genome.
func (s *Store) Locate(ctx context.Context, entry *models.MirrorEntry) (string, error) {
	path, err := Path(s.root, entry.Accession)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if !s.fetch {
		return "", fmt.Errorf("%w: %s", ErrMissing, entry.Accession)
	}

	if err := s.download(ctx, entry, path); err != nil {
		metrics.MirrorDownloads.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.MirrorDownloads.WithLabelValues("ok").Inc()
	return path, nil
}

// download fetches entry into path through a temporary file, verifying the md5
// recorded in the mirror index before moving it into place.
func (s *Store) download(ctx context.Context, entry *models.MirrorEntry, path string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mirror download throttled: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	sum, err := hex.DecodeString(entry.MD5)
	if err != nil {
		return fmt.Errorf("mirror index md5 for %s is malformed: %w", entry.Accession, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+entry.Accession+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temporary mirror file: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	// Reserve the name only; grab creates the file itself.
	_ = os.Remove(tmpName)
	defer os.Remove(tmpName)

	req, err := grab.NewRequest(tmpName, entry.URL)
	if err != nil {
		return fmt.Errorf("invalid source URL for %s: %w", entry.Accession, err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true
	req.SetChecksum(md5.New(), sum, true)

	s.logger.Info("Fetching genome into mirror",
		zap.String("accession", entry.Accession),
		zap.String("url", entry.URL))

	resp := s.client.Do(req)
	if err := resp.Err(); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", entry.Accession, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move %s into mirror: %w", entry.Accession, err)
	}
	return nil
}
