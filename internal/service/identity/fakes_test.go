package identity_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/trioll/trioll-developer-portal/internal/domain"
	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/repository"
)

var errStoreDown = errors.New("store down")

type memoryDeveloperRepo struct {
	mu      sync.Mutex
	records map[string]domain.DeveloperRecord

	subjectErr error
	emailErr   error
	prefixErr  error
	writeErr   error
	blockReads bool

	// beforeWrite runs once per conditional write, outside the lock.
	beforeWrite func(r *memoryDeveloperRepo)

	subjectCalls int
	emailCalls   int
	creates      int
}

func newMemoryRepo(records ...domain.DeveloperRecord) *memoryDeveloperRepo {
	repo := &memoryDeveloperRepo{records: map[string]domain.DeveloperRecord{}}
	for _, record := range records {
		repo.records[record.SubjectID] = record
	}
	return repo
}

func (m *memoryDeveloperRepo) put(record domain.DeveloperRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.SubjectID] = record
}

func (m *memoryDeveloperRepo) get(subjectID string) (domain.DeveloperRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[subjectID]
	return record, ok
}

func (m *memoryDeveloperRepo) GetBySubject(ctx context.Context, subjectID string) (domain.DeveloperRecord, error) {
	m.mu.Lock()
	m.subjectCalls++
	block, failure := m.blockReads, m.subjectErr
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return domain.DeveloperRecord{}, ctx.Err()
	}
	if failure != nil {
		return domain.DeveloperRecord{}, failure
	}
	record, ok := m.get(subjectID)
	if !ok {
		return domain.DeveloperRecord{}, repository.ErrRecordNotFound
	}
	return record, nil
}

func (m *memoryDeveloperRepo) FindByEmail(_ context.Context, email string) (domain.DeveloperRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emailCalls++
	if m.emailErr != nil {
		return domain.DeveloperRecord{}, m.emailErr
	}
	var match *domain.DeveloperRecord
	for _, record := range m.records {
		if !strings.EqualFold(record.Email, email) {
			continue
		}
		r := record
		if match == nil || (match.DeveloperID == "" && r.DeveloperID != "") {
			match = &r
		}
	}
	if match == nil {
		return domain.DeveloperRecord{}, repository.ErrRecordNotFound
	}
	return *match, nil
}

func (m *memoryDeveloperRepo) ListDeveloperIDsWithPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefixErr != nil {
		return nil, m.prefixErr
	}
	var ids []string
	for _, record := range m.records {
		if record.DeveloperID != "" && strings.HasPrefix(record.DeveloperID, prefix) {
			ids = append(ids, record.DeveloperID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memoryDeveloperRepo) CreateIfAbsent(_ context.Context, record domain.DeveloperRecord) (domain.DeveloperRecord, error) {
	m.runBeforeWrite()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.writeErr != nil {
		return domain.DeveloperRecord{}, m.writeErr
	}
	if _, ok := m.records[record.SubjectID]; ok {
		return domain.DeveloperRecord{}, repository.ErrRecordExists
	}
	if m.idTakenLocked(record.DeveloperID, record.SubjectID) {
		return domain.DeveloperRecord{}, repository.ErrDeveloperIDTaken
	}
	m.records[record.SubjectID] = record
	return record, nil
}

func (m *memoryDeveloperRepo) AssignDeveloperID(_ context.Context, subjectID, developerID string) error {
	m.runBeforeWrite()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	record, ok := m.records[subjectID]
	if !ok || record.DeveloperID != "" {
		return repository.ErrRecordExists
	}
	if m.idTakenLocked(developerID, subjectID) {
		return repository.ErrDeveloperIDTaken
	}
	record.DeveloperID = developerID
	m.records[subjectID] = record
	return nil
}

func (m *memoryDeveloperRepo) UpdateProfile(_ context.Context, subjectID string, update domain.ProfileUpdate) (domain.DeveloperRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return domain.DeveloperRecord{}, m.writeErr
	}
	record, ok := m.records[subjectID]
	if !ok || record.Disabled {
		return domain.DeveloperRecord{}, repository.ErrRecordNotFound
	}
	if update.CompanyName != nil {
		record.CompanyName = *update.CompanyName
	}
	if update.Website != nil {
		record.Website = *update.Website
	}
	if update.Bio != nil {
		record.Bio = *update.Bio
	}
	if update.ProfilePicture != nil {
		record.ProfilePicture = *update.ProfilePicture
	}
	m.records[subjectID] = record
	return record, nil
}

func (m *memoryDeveloperRepo) ListMissingDeveloperID(_ context.Context, afterSubject string, limit int) ([]domain.DeveloperRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.DeveloperRecord
	for _, record := range m.records {
		if record.DeveloperID == "" && record.SubjectID > afterSubject {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryDeveloperRepo) runBeforeWrite() {
	m.mu.Lock()
	hook := m.beforeWrite
	m.beforeWrite = nil
	m.mu.Unlock()
	if hook != nil {
		hook(m)
	}
}

func (m *memoryDeveloperRepo) idTakenLocked(developerID, subjectID string) bool {
	if developerID == "" {
		return false
	}
	for _, existing := range m.records {
		if existing.DeveloperID == developerID && existing.SubjectID != subjectID {
			return true
		}
	}
	return false
}

type recordingAttributeStore struct {
	mu      sync.Mutex
	err     error
	calls   []map[string]string
	ctxErrs []error
}

func (s *recordingAttributeStore) UpdateUserAttributes(ctx context.Context, _ string, attributes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, attributes)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return s.err
}

func (s *recordingAttributeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type staticParser struct {
	claims domainidentity.ClaimSet
	err    error
}

func (p staticParser) Parse(context.Context, string) (domainidentity.ClaimSet, error) {
	return p.claims, p.err
}

type countingRecorder struct {
	mu          sync.Mutex
	resolutions map[string]int
	failures    map[string]int
	unavailable map[string]int
	enrichments map[string]int
	fallbacks   int
	writebacks  int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{
		resolutions: map[string]int{},
		failures:    map[string]int{},
		unavailable: map[string]int{},
		enrichments: map[string]int{},
	}
}

func (c *countingRecorder) RecordResolution(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolutions[source]++
}

func (c *countingRecorder) RecordResolutionFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[reason]++
}

func (c *countingRecorder) RecordLookupUnavailable(step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable[step]++
}

func (c *countingRecorder) RecordDerivationFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks++
}

func (c *countingRecorder) RecordWritebackFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writebacks++
}

func (c *countingRecorder) RecordEnrichment(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enrichments[outcome]++
}
