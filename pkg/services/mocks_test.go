package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gtdb/ani-engine/pkg/database"
	"github.com/gtdb/ani-engine/pkg/mail"
	"github.com/gtdb/ani-engine/pkg/models"
	"github.com/gtdb/ani-engine/pkg/repositories"
)

// fakeDB runs transactions inline; mocks ignore the querier.
type fakeDB struct {
	txCalls int
}

func (f *fakeDB) Q() database.Querier { return nil }

func (f *fakeDB) WithTx(ctx context.Context, fn func(q database.Querier) error) error {
	f.txCalls++
	return fn(nil)
}

var _ database.Handle = (*fakeDB)(nil)

type jobCompletion struct {
	failed         bool
	stdout, stderr string
}

type mockJobRepo struct {
	mu sync.Mutex

	nextID       int64
	jobs         map[int64]*models.Job
	members      map[int64][2][]int64
	fingerprints map[string]string

	// insertErrs are returned by successive Insert calls before succeeding.
	insertErrs   []error
	insertCalls  int
	insertedAs   []string
	// raceWinner is registered under the fingerprint when Insert reports a
	// fingerprint conflict, as a concurrent submission would have.
	raceWinner   string
	findErr      error
	findCalls    int
	pending      int
	ahead        int
	pendingErr   error
	ready        []int64
	unexpanded   []*models.Job
	expanded     []int64
	finalisable  []int64
	completions  map[int64]jobCompletion
	notifyQueue  []*repositories.Notification
	claimArgs    [2]int
	notified     []int64
	released     map[int64]time.Time
	expireN      int64
	expireAt     time.Time
	staleN       int64
	staleCutoff  time.Time
	retentionErr error
}

func newMockJobRepo() *mockJobRepo {
	return &mockJobRepo{
		nextID:       1,
		jobs:         make(map[int64]*models.Job),
		members:      make(map[int64][2][]int64),
		fingerprints: make(map[string]string),
		completions:  make(map[int64]jobCompletion),
		released:     make(map[int64]time.Time),
	}
}

// add stores a ready job with its members and returns it.
func (m *mockJobRepo) add(name string, mode models.CalcMode, queryIDs, refIDs []int64) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := &models.Job{
		ID:           m.nextID,
		Name:         name,
		Mode:         mode,
		DeletePolicy: models.DeleteDisabled,
		Created:      time.Unix(1700000000, 0).UTC(),
		Ready:        true,
	}
	m.nextID++
	m.jobs[job.ID] = job
	m.members[job.ID] = [2][]int64{queryIDs, refIDs}
	return job
}

func (m *mockJobRepo) Insert(ctx context.Context, q database.Querier, job *models.NewJob) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertCalls++
	m.insertedAs = append(m.insertedAs, job.Name)
	if len(m.insertErrs) > 0 {
		err := m.insertErrs[0]
		m.insertErrs = m.insertErrs[1:]
		if errors.Is(err, repositories.ErrDuplicateFingerprint) && m.raceWinner != "" {
			m.fingerprints[job.Fingerprint] = m.raceWinner
		}
		return 0, err
	}
	m.fingerprints[job.Fingerprint] = job.Name
	id := m.nextID
	m.nextID++
	m.jobs[id] = &models.Job{
		ID:           id,
		Name:         job.Name,
		ParamID:      job.ParamID,
		Mode:         job.Mode,
		Email:        job.Email,
		DeletePolicy: job.DeletePolicy,
		Fingerprint:  job.Fingerprint,
		Created:      job.Created,
		DeleteAfter:  job.DeleteAfter,
	}
	return id, nil
}

func (m *mockJobRepo) AddMembers(ctx context.Context, q database.Querier, jobID int64, queryIDs, referenceIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[jobID] = [2][]int64{queryIDs, referenceIDs}
	return nil
}

func (m *mockJobRepo) MarkReady(ctx context.Context, q database.Querier, jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = append(m.ready, jobID)
	if job := m.jobs[jobID]; job != nil {
		job.Ready = true
	}
	return nil
}

func (m *mockJobRepo) GetByName(ctx context.Context, q database.Querier, name string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.Name == name {
			return job, nil
		}
	}
	return nil, nil
}

func (m *mockJobRepo) GetByID(ctx context.Context, q database.Querier, id int64) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id], nil
}

func (m *mockJobRepo) FindByFingerprint(ctx context.Context, q database.Querier, fingerprint string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++
	if m.findErr != nil {
		return "", m.findErr
	}
	return m.fingerprints[fingerprint], nil
}

func (m *mockJobRepo) CountPending(ctx context.Context, q database.Querier) (int, error) {
	return m.pending, m.pendingErr
}

func (m *mockJobRepo) CountAhead(ctx context.Context, q database.Querier, job *models.Job) (int, error) {
	return m.ahead, nil
}

func (m *mockJobRepo) Members(ctx context.Context, q database.Querier, job *models.Job) ([]int64, []int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem := m.members[job.ID]
	if job.Mode == models.ModeTriangle {
		return mem[0], mem[0], nil
	}
	return mem[0], mem[1], nil
}

func (m *mockJobRepo) ListUnexpanded(ctx context.Context, q database.Querier, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.unexpanded
	m.unexpanded = nil
	return out, nil
}

func (m *mockJobRepo) MarkExpanded(ctx context.Context, q database.Querier, jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expanded = append(m.expanded, jobID)
	return nil
}

func (m *mockJobRepo) ListFinalisable(ctx context.Context, q database.Querier, budget, limit int) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalisable, nil
}

func (m *mockJobRepo) LockForCompletion(ctx context.Context, q database.Querier, jobID int64) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job := m.jobs[jobID]
	if job == nil || job.Completed != nil {
		return nil, nil
	}
	return job, nil
}

func (m *mockJobRepo) Complete(ctx context.Context, q database.Querier, jobID int64, failed bool, stdout, stderr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions[jobID] = jobCompletion{failed: failed, stdout: stdout, stderr: stderr}
	if job := m.jobs[jobID]; job != nil {
		now := time.Now()
		job.Completed = &now
		job.Error = &failed
	}
	return nil
}

func (m *mockJobRepo) ClaimNotifications(ctx context.Context, q database.Querier, maxAttempts, limit int) ([]*repositories.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimArgs = [2]int{maxAttempts, limit}
	out := m.notifyQueue
	m.notifyQueue = nil
	return out, nil
}

func (m *mockJobRepo) MarkNotified(ctx context.Context, q database.Querier, jobID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, jobID)
	return nil
}

func (m *mockJobRepo) ReleaseNotification(ctx context.Context, q database.Querier, jobID int64, nextAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released[jobID] = nextAt
	return nil
}

func (m *mockJobRepo) ExpireDue(ctx context.Context, q database.Querier, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireAt = now
	return m.expireN, m.retentionErr
}

func (m *mockJobRepo) SweepStale(ctx context.Context, q database.Querier, createdBefore time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleCutoff = createdBefore
	return m.staleN, nil
}

var _ repositories.JobRepository = (*mockJobRepo)(nil)

type mockPairRepo struct {
	mu sync.Mutex

	expandN      int64
	expandCalls  []int64
	claims       []*repositories.ClaimedPair
	claimLease   time.Duration
	claimOwner   uuid.UUID
	lostLease    bool
	completed    map[int64]models.PairValues
	failed       map[int64]string
	unreferenced map[int64]bool
	discarded    []int64
	forJob       map[int64][]*models.Pair
	swept        int64
	runnable     int
	deleteN      int64
}

func newMockPairRepo() *mockPairRepo {
	return &mockPairRepo{
		completed:    make(map[int64]models.PairValues),
		failed:       make(map[int64]string),
		unreferenced: make(map[int64]bool),
		forJob:       make(map[int64][]*models.Pair),
	}
}

func (m *mockPairRepo) Expand(ctx context.Context, q database.Querier, job *models.Job, budget int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expandCalls = append(m.expandCalls, job.ID)
	return m.expandN, nil
}

func (m *mockPairRepo) Claim(ctx context.Context, q database.Querier, owner uuid.UUID, lease time.Duration, budget, limit int) ([]*repositories.ClaimedPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimOwner = owner
	m.claimLease = lease
	n := min(limit, len(m.claims))
	out := m.claims[:n]
	m.claims = m.claims[n:]
	return out, nil
}

func (m *mockPairRepo) Complete(ctx context.Context, q database.Querier, pairID int64, owner uuid.UUID, values models.PairValues, stdout, stderr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[pairID] = values
	return !m.lostLease, nil
}

func (m *mockPairRepo) Fail(ctx context.Context, q database.Querier, pairID int64, owner uuid.UUID, stdout, stderr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[pairID] = stderr
	return !m.lostLease, nil
}

func (m *mockPairRepo) SweepExpired(ctx context.Context, q database.Querier) (int64, error) {
	return m.swept, nil
}

func (m *mockPairRepo) Referenced(ctx context.Context, q database.Querier, pairID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unreferenced[pairID], nil
}

func (m *mockPairRepo) Discard(ctx context.Context, q database.Querier, pairID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = append(m.discarded, pairID)
	return nil
}

func (m *mockPairRepo) ForJob(ctx context.Context, q database.Querier, jobID int64) ([]*models.Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forJob[jobID], nil
}

func (m *mockPairRepo) CountRunnable(ctx context.Context, q database.Querier, budget int) (int, error) {
	return m.runnable, nil
}

func (m *mockPairRepo) DeleteForDeletedUploads(ctx context.Context, q database.Querier) (int64, error) {
	return m.deleteN, nil
}

var _ repositories.PairRepository = (*mockPairRepo)(nil)

type mockGenomeRepo struct {
	mu sync.Mutex

	refs    map[int64]*models.GenomeRef
	uploads map[int64]*repositories.StoredUpload
	mirror  map[string]*models.MirrorEntry
	ncbi    map[string]int64
	nextID  int64
	purgeN  int64
	err     error
}

func newMockGenomeRepo() *mockGenomeRepo {
	return &mockGenomeRepo{
		refs:    make(map[int64]*models.GenomeRef),
		uploads: make(map[int64]*repositories.StoredUpload),
		mirror:  make(map[string]*models.MirrorEntry),
		ncbi:    make(map[string]int64),
		nextID:  1000,
	}
}

// addNCBI registers a mirrored genome and returns its genome id.
func (m *mockGenomeRepo) addNCBI(id int64, accession string) {
	entry := &models.MirrorEntry{ID: id, Accession: accession, MD5: "md5-" + accession}
	m.mirror[accession] = entry
	m.ncbi[accession] = id
	m.refs[id] = &models.GenomeRef{ID: id, Name: accession, Mirror: entry}
}

func (m *mockGenomeRepo) ImportMirror(ctx context.Context, q database.Querier, entries []models.MirrorEntry) (int64, error) {
	var added int64
	for _, e := range entries {
		if _, ok := m.mirror[e.Accession]; !ok {
			entry := e
			m.mirror[e.Accession] = &entry
			added++
		}
	}
	return added, m.err
}

func (m *mockGenomeRepo) FindMirror(ctx context.Context, q database.Querier, accessions []string) (map[string]*models.MirrorEntry, error) {
	out := make(map[string]*models.MirrorEntry)
	for _, acc := range accessions {
		if e, ok := m.mirror[acc]; ok {
			out[acc] = e
		}
	}
	return out, m.err
}

func (m *mockGenomeRepo) ResolveNCBI(ctx context.Context, q database.Querier, accessions []string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, acc := range accessions {
		if id, ok := m.ncbi[acc]; ok {
			out[acc] = id
		}
	}
	return out, m.err
}

func (m *mockGenomeRepo) CreateUpload(ctx context.Context, q database.Querier, upload *repositories.StoredUpload) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	id := m.nextID
	m.nextID++
	stored := *upload
	stored.ID = id
	m.uploads[id] = &stored
	uploadID := id
	m.refs[id] = &models.GenomeRef{ID: id, Name: upload.FileName, UploadID: &uploadID}
	return id, nil
}

func (m *mockGenomeRepo) GetRefs(ctx context.Context, q database.Querier, ids []int64) (map[int64]*models.GenomeRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]*models.GenomeRef)
	for _, id := range ids {
		if ref, ok := m.refs[id]; ok {
			out[id] = ref
		}
	}
	return out, m.err
}

func (m *mockGenomeRepo) GetUpload(ctx context.Context, q database.Querier, uploadID int64) (*repositories.StoredUpload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads[uploadID], m.err
}

func (m *mockGenomeRepo) PurgeDeletedUploads(ctx context.Context, q database.Querier) (int64, error) {
	return m.purgeN, m.err
}

var _ repositories.GenomeRepository = (*mockGenomeRepo)(nil)

type mockParamRepo struct {
	records  map[int64]*repositories.ParamRecord
	interned map[string]int64
	err      error
}

func newMockParamRepo() *mockParamRepo {
	return &mockParamRepo{
		records:  make(map[int64]*repositories.ParamRecord),
		interned: make(map[string]int64),
	}
}

func (m *mockParamRepo) Intern(ctx context.Context, q database.Querier, version string, params []byte) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	key := version + "|" + string(params)
	if id, ok := m.interned[key]; ok {
		return id, nil
	}
	id := int64(len(m.interned) + 1)
	m.interned[key] = id
	m.records[id] = &repositories.ParamRecord{ID: id, Version: version, Params: params}
	return id, nil
}

func (m *mockParamRepo) Get(ctx context.Context, q database.Querier, id int64) (*repositories.ParamRecord, error) {
	return m.records[id], m.err
}

func (m *mockParamRepo) GetMany(ctx context.Context, q database.Querier, ids []int64) (map[int64]*repositories.ParamRecord, error) {
	out := make(map[int64]*repositories.ParamRecord)
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out[id] = r
		}
	}
	return out, m.err
}

var _ repositories.ParamRepository = (*mockParamRepo)(nil)

type mockResultRepo struct {
	mu      sync.Mutex
	results map[int64]*models.PackedResult
	deleteN int64
}

func newMockResultRepo() *mockResultRepo {
	return &mockResultRepo{results: make(map[int64]*models.PackedResult)}
}

func (m *mockResultRepo) Insert(ctx context.Context, q database.Querier, result *models.PackedResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result.JobID] = result
	return nil
}

func (m *mockResultRepo) Get(ctx context.Context, q database.Querier, jobID int64) (*models.PackedResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.results[jobID], nil
}

func (m *mockResultRepo) DeleteForDeletedJobs(ctx context.Context, q database.Querier) (int64, error) {
	return m.deleteN, nil
}

var _ repositories.ResultRepository = (*mockResultRepo)(nil)

type mockTaxonomyRepo struct {
	taxa  map[string]*models.Taxonomy
	calls [][]string
	err   error
}

func (m *mockTaxonomyRepo) Lookup(ctx context.Context, q database.Querier, canonical []string) (map[string]*models.Taxonomy, error) {
	m.calls = append(m.calls, canonical)
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]*models.Taxonomy)
	for _, c := range canonical {
		if t, ok := m.taxa[c]; ok {
			out[c] = t
		}
	}
	return out, nil
}

var _ repositories.TaxonomyRepository = (*mockTaxonomyRepo)(nil)

// mockRegistry resolves names from a fixed table and numbers uploads from 1000.
type mockRegistry struct {
	resolved    map[string]int64
	mirror      map[string]*models.MirrorEntry
	nextUpload  int64
	created     [][]models.UploadFile
	resolveArgs []string
	err         error
}

func newMockRegistry(resolved map[string]int64) *mockRegistry {
	return &mockRegistry{resolved: resolved, mirror: map[string]*models.MirrorEntry{}, nextUpload: 1000}
}

func (m *mockRegistry) ResolveNCBI(ctx context.Context, names []string) (map[string]int64, error) {
	m.resolveArgs = names
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]int64)
	for _, n := range names {
		if id, ok := m.resolved[n]; ok {
			out[n] = id
		}
	}
	return out, nil
}

func (m *mockRegistry) CreateUserUploads(ctx context.Context, q database.Querier, jobID int64, files []models.UploadFile) (map[string]int64, error) {
	m.created = append(m.created, files)
	out := make(map[string]int64, len(files))
	for _, f := range files {
		out[f.FileName] = m.nextUpload
		m.nextUpload++
	}
	return out, nil
}

func (m *mockRegistry) LoadUpload(ctx context.Context, uploadID int64) ([]byte, error) {
	return nil, nil
}

func (m *mockRegistry) FindMirror(ctx context.Context, accessions []string) (map[string]*models.MirrorEntry, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]*models.MirrorEntry)
	for _, acc := range accessions {
		if e, ok := m.mirror[acc]; ok {
			out[acc] = e
		}
	}
	return out, nil
}

func (m *mockRegistry) ImportMirror(ctx context.Context, entries []models.MirrorEntry) (int64, error) {
	return int64(len(entries)), m.err
}

var _ GenomeRegistry = (*mockRegistry)(nil)

type mockTaxonomyService struct {
	taxa map[string]*models.Taxonomy
	err  error
}

func (m *mockTaxonomyService) Lookup(ctx context.Context, accessions []string) (map[string]*models.Taxonomy, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[string]*models.Taxonomy)
	for _, acc := range accessions {
		if t, ok := m.taxa[acc]; ok {
			out[acc] = t
		}
	}
	return out, nil
}

func (m *mockTaxonomyService) Close() {}

var _ TaxonomyService = (*mockTaxonomyService)(nil)

type mockRunner struct {
	mu    sync.Mutex
	tasks []models.PairTask
	fn    func(ctx context.Context, task models.PairTask) models.PairOutcome
}

func (m *mockRunner) Run(ctx context.Context, task models.PairTask) models.PairOutcome {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	if m.fn != nil {
		return m.fn(ctx, task)
	}
	return models.PairOutcome{}
}

var _ PairRunner = (*mockRunner)(nil)

type mockSender struct {
	sent []mail.Message
	err  error
}

func (m *mockSender) Send(ctx context.Context, msg mail.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

var _ mail.Sender = (*mockSender)(nil)

func int32p(v int32) *int32 { return &v }

func strp(s string) *string { return &s }
