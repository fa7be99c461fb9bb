package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gtdb/ani-engine/pkg/apperrors"
	"github.com/gtdb/ani-engine/pkg/config"
	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/events"
	"github.com/gtdb/ani-engine/pkg/logging"
	"github.com/gtdb/ani-engine/pkg/metrics"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+\-]+@[a-zA-Z0-9\-]+\.[a-zA-Z0-9\-.]+$`)

// JobIDSource draws a candidate job id from [0, space).
type JobIDSource func(space int64) uint32

func randomJobID(space int64) uint32 {
	return uint32(rand.Int64N(space))
}

// SubmissionService admits ANI jobs.
type SubmissionService interface {
	// CreateJob validates req, persists it and returns the job name. A request
	// equivalent to a live job returns that job's name.
	CreateJob(ctx context.Context, req models.JobRequest) (string, error)
}

type SubmissionOption func(*submissionService)

// WithJobIDSource replaces the random job id source.
func WithJobIDSource(src JobIDSource) SubmissionOption {
	return func(s *submissionService) { s.newID = src }
}

// WithClock replaces the submission timestamp source.
func WithClock(now func() time.Time) SubmissionOption {
	return func(s *submissionService) { s.now = now }
}

type submissionService struct {
	db       database.Handle
	jobs     repositories.JobRepository
	registry GenomeRegistry
	params   ParamService
	bus      *events.Bus
	cfg      *config.ANIConfig
	newID    JobIDSource
	now      func() time.Time
	logger   *zap.Logger
}

func NewSubmissionService(
	db database.Handle,
	jobs repositories.JobRepository,
	registry GenomeRegistry,
	paramService ParamService,
	bus *events.Bus,
	cfg *config.ANIConfig,
	logger *zap.Logger,
	opts ...SubmissionOption,
) SubmissionService {
	s := &submissionService{
		db:       db,
		jobs:     jobs,
		registry: registry,
		params:   paramService,
		bus:      bus,
		cfg:      cfg,
		newID:    randomJobID,
		now:      time.Now,
		logger:   logger.Named("submission-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ SubmissionService = (*submissionService)(nil)

// side is one axis of a submission after resolution.
type side struct {
	genomeIDs []int64
	uploads   []models.UploadFile
}

func (s *submissionService) CreateJob(ctx context.Context, req models.JobRequest) (string, error) {
	name, result, err := s.createJob(ctx, req)
	switch {
	case err == nil:
		metrics.Submissions.WithLabelValues(result).Inc()
	case apperrors.KindOf(err) == apperrors.KindInternal:
		metrics.Submissions.WithLabelValues("error").Inc()
		s.logger.Error("Submission failed", zap.Error(err))
	default:
		metrics.Submissions.WithLabelValues("rejected").Inc()
		s.logger.Debug("Submission rejected", zap.String("reason", apperrors.MessageOf(err)))
	}
	return name, err
}

func (s *submissionService) createJob(ctx context.Context, req models.JobRequest) (string, string, error) {
	// 1. Admission ceiling.
	pending, err := s.jobs.CountPending(ctx, s.db.Q())
	if err != nil {
		return "", "", apperrors.Internal(err, "failed to read queue")
	}
	if pending > s.cfg.MaxQueuePendingJobs {
		return "", "", apperrors.QueueFull("the queue is full (%d pending jobs), please try again later", pending)
	}

	// 2. Notification address.
	var email *string
	if addr := strings.TrimSpace(req.Email); addr != "" {
		if len(addr) > 254 || !emailPattern.MatchString(addr) {
			return "", "", apperrors.BadRequest("invalid email address")
		}
		email = &addr
	}

	// 3. Parameters.
	version := models.ToolVersion(req.Version)
	if !slices.Contains(s.cfg.SupportedVersions, req.Version) {
		return "", "", apperrors.BadRequest("unsupported version %q", req.Version)
	}
	mode, ok := models.ParseCalcMode(req.CalcMode)
	if !ok {
		return "", "", apperrors.BadRequest("invalid calculation mode %q", req.CalcMode)
	}
	canonical, err := s.params.Canonicalize(version, mode, req.Params)
	if err != nil {
		return "", "", err
	}

	// 4. Triangle mode compares the query set against itself.
	queryNames := unique(trimAll(req.Query))
	refNames := unique(trimAll(req.Reference))
	if mode == models.ModeTriangle {
		refNames = queryNames
	}

	// 5. Pairwise ceiling.
	pairwise := len(queryNames) * len(refNames)
	if pairwise <= 0 {
		return "", "", apperrors.BadRequest("no comparisons requested")
	}
	if pairwise > s.cfg.MaxPairwise {
		return "", "", apperrors.BadRequest("too many pairwise comparisons (%d), the maximum is %d", pairwise, s.cfg.MaxPairwise)
	}

	// 6. Uploads.
	uploads, policy, err := s.readUploads(req)
	if err != nil {
		return "", "", err
	}

	// 7. Resolution. Names matching an upload refer to it; the rest are accessions.
	var accessions []string
	for _, n := range append(slices.Clone(queryNames), refNames...) {
		if _, isUpload := uploads[n]; !isUpload {
			accessions = append(accessions, n)
		}
	}
	resolved, err := s.registry.ResolveNCBI(ctx, accessions)
	if err != nil {
		return "", "", apperrors.Internal(err, "failed to resolve genomes")
	}
	query := resolveSide(queryNames, uploads, resolved)
	reference := resolveSide(refNames, uploads, resolved)
	if mode == models.ModeTriangle {
		reference = query
	}
	if query.empty() || reference.empty() {
		return "", "", apperrors.BadRequest("no comparisons possible, none of the genomes on one side are known")
	}

	// 8. Intern parameters.
	paramID, err := s.params.Intern(ctx, version, canonical)
	if err != nil {
		return "", "", err
	}

	// 9. Deduplicate.
	fingerprint := jobFingerprint(version, mode, paramID, query, reference)
	if existing, err := s.jobs.FindByFingerprint(ctx, s.db.Q(), fingerprint); err != nil {
		return "", "", apperrors.Internal(err, "failed to check for duplicate jobs")
	} else if existing != "" {
		s.logger.Info("Duplicate submission", zap.String("job", existing))
		return existing, "duplicate", nil
	}

	// 10-11. Mint a name and persist with ready=false.
	created := s.now().UTC()
	job := &models.NewJob{
		ParamID:      paramID,
		Mode:         mode,
		Email:        email,
		DeletePolicy: policy,
		Fingerprint:  fingerprint,
		DeleteAfter:  policy.DeleteAfter(created),
		Created:      created,
	}
	jobID, err := s.persist(ctx, job, mode, query, reference)
	if errors.Is(err, repositories.ErrDuplicateFingerprint) {
		existing, findErr := s.jobs.FindByFingerprint(ctx, s.db.Q(), fingerprint)
		if findErr != nil || existing == "" {
			return "", "", apperrors.Internal(errors.Join(err, findErr), "failed to create job")
		}
		s.logger.Info("Duplicate submission raced", zap.String("job", existing))
		return existing, "duplicate", nil
	}
	if err != nil {
		return "", "", err
	}

	if err := s.jobs.MarkReady(ctx, s.db.Q(), jobID); err != nil {
		return "", "", apperrors.Internal(err, "failed to queue job")
	}

	fields := []zap.Field{
		zap.String("job", job.Name),
		zap.String("version", string(version)),
		zap.String("mode", string(mode)),
		zap.Int("pairwise", query.size()*reference.size()),
		zap.Int("uploads", len(mergeUploads(query.uploads, reference.uploads))),
	}
	if email != nil {
		fields = append(fields, zap.String("email", logging.MaskEmail(*email)))
	}
	s.logger.Info("Job created", fields...)

	if err := s.bus.Publish(ctx, events.PairsQueued, job.Name); err != nil {
		s.logger.Warn("Failed to publish wake-up", zap.String("job", job.Name), zap.Error(err))
	}
	return job.Name, "created", nil
}

// persist runs the first submission transaction, retrying on job name
// collisions up to the configured number of attempts.
func (s *submissionService) persist(ctx context.Context, job *models.NewJob, mode models.CalcMode, query, reference side) (int64, error) {
	attempts := max(s.cfg.JobIDMintAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		job.Name = models.JobName(s.newID(s.cfg.JobIDSpace)).String()

		var jobID int64
		err := s.db.WithTx(ctx, func(q database.Querier) error {
			id, err := s.jobs.Insert(ctx, q, job)
			if err != nil {
				return err
			}
			jobID = id

			files := mergeUploads(query.uploads, reference.uploads)
			uploaded, err := s.registry.CreateUserUploads(ctx, q, id, files)
			if err != nil {
				return err
			}

			queryIDs := query.ids(uploaded)
			var refIDs []int64
			if mode == models.ModeQvR {
				refIDs = reference.ids(uploaded)
			}
			return s.jobs.AddMembers(ctx, q, id, queryIDs, refIDs)
		})
		switch {
		case err == nil:
			return jobID, nil
		case errors.Is(err, repositories.ErrJobNameTaken):
			s.logger.Debug("Job name collision", zap.String("job", job.Name), zap.Int("attempt", attempt))
			continue
		case errors.Is(err, repositories.ErrDuplicateFingerprint):
			return 0, err
		default:
			return 0, apperrors.Internal(err, "failed to create job")
		}
	}
	return 0, apperrors.Internal(nil, "failed to allocate a job id after %d attempts", attempts)
}

// readUploads reads attached files under the configured ceilings and returns
// them by name together with the retention policy.
func (s *submissionService) readUploads(req models.JobRequest) (map[string]models.UploadFile, models.DeletePolicy, error) {
	policy := models.DeleteDisabled
	if len(req.Files) == 0 {
		return map[string]models.UploadFile{}, policy, nil
	}

	names := make([]string, len(req.Files))
	for i, f := range req.Files {
		names[i] = f.FileName
	}
	if meta := req.UploadMetadata; meta != nil {
		if len(meta.FileNames) > 0 {
			if len(meta.FileNames) != len(req.Files) {
				return nil, "", apperrors.BadRequest("uploadMetadata lists %d files but %d were attached", len(meta.FileNames), len(req.Files))
			}
			names = meta.FileNames
		}
		if meta.DeleteAfter != "" {
			if !meta.DeleteAfter.Valid() {
				return nil, "", apperrors.BadRequest("invalid deleteAfter %q", meta.DeleteAfter)
			}
			policy = meta.DeleteAfter
		}
	}

	if len(req.Files) > s.cfg.MaxUserFileCount {
		return nil, "", apperrors.BadRequest("too many uploaded files (%d), the maximum is %d", len(req.Files), s.cfg.MaxUserFileCount)
	}

	limit := s.cfg.MaxUploadBytes()
	out := make(map[string]models.UploadFile, len(req.Files))
	for i, f := range req.Files {
		name := strings.TrimSpace(names[i])
		if name == "" {
			return nil, "", apperrors.BadRequest("uploaded file %d has no name", i+1)
		}
		if len(name) > s.cfg.MaxUserFileNameLength {
			return nil, "", apperrors.BadRequest("file name %q is too long, the maximum is %d characters", name, s.cfg.MaxUserFileNameLength)
		}
		if _, dup := out[name]; dup {
			return nil, "", apperrors.BadRequest("file name %q was uploaded twice", name)
		}
		if f.Body == nil {
			return nil, "", apperrors.BadRequest("uploaded file %q is empty", name)
		}

		raw, err := ReadBounded(f.Body, limit)
		if errors.Is(err, errTooLarge) {
			return nil, "", apperrors.BadRequest("file %q is larger than %d MB", name, s.cfg.MaxUserFileSizeMbEach)
		}
		if err != nil {
			return nil, "", apperrors.BadRequest("failed to read file %q", name)
		}

		upload, err := PrepareUpload(name, raw, limit)
		if err != nil {
			return nil, "", err
		}
		out[name] = upload
	}
	return out, policy, nil
}

func resolveSide(names []string, uploads map[string]models.UploadFile, resolved map[string]int64) side {
	var sd side
	for _, n := range names {
		if u, ok := uploads[n]; ok {
			sd.uploads = append(sd.uploads, u)
		} else if id, ok := resolved[n]; ok {
			sd.genomeIDs = append(sd.genomeIDs, id)
		}
	}
	return sd
}

func (sd side) empty() bool {
	return len(sd.genomeIDs) == 0 && len(sd.uploads) == 0
}

// ids returns the side's genome ids once its uploads have been stored.
func (sd side) ids(uploaded map[string]int64) []int64 {
	ids := slices.Clone(sd.genomeIDs)
	for _, u := range sd.uploads {
		ids = append(ids, uploaded[u.FileName])
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (sd side) ncbiIDs() []int64 {
	ids := slices.Clone(sd.genomeIDs)
	slices.Sort(ids)
	return ids
}

func (sd side) size() int {
	return len(sd.genomeIDs) + len(sd.uploads)
}

func (sd side) md5s() []string {
	sums := make([]string, len(sd.uploads))
	for i, u := range sd.uploads {
		sums[i] = u.MD5
	}
	slices.Sort(sums)
	return sums
}

func mergeUploads(a, b []models.UploadFile) []models.UploadFile {
	seen := make(map[string]bool, len(a)+len(b))
	var out []models.UploadFile
	for _, u := range append(slices.Clone(a), b...) {
		if !seen[u.FileName] {
			seen[u.FileName] = true
			out = append(out, u)
		}
	}
	return out
}

// jobFingerprint identifies a submission independently of genome and file order.
// Upload hashes are tagged by side so swapping uploads between sides differs.
func jobFingerprint(version models.ToolVersion, mode models.CalcMode, paramID int64, query, reference side) string {
	if mode == models.ModeTriangle {
		reference = query
	}
	canonical := fmt.Sprintf("%s|%s|%d|q:%s|r:%s|uq:%s|ur:%s",
		version, mode, paramID,
		joinIDs(query.ncbiIDs()), joinIDs(reference.ncbiIDs()),
		strings.Join(query.md5s(), ","), strings.Join(reference.md5s(), ","))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

func trimAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}
