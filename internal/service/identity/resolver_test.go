package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trioll/trioll-developer-portal/internal/config"
	"github.com/trioll/trioll-developer-portal/internal/domain"
	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/service/identity"
)

func testConfig() config.Config {
	return config.Config{
		ClaimNamespace:       "custom:",
		ClaimsCompatStandard: true,
		LookupTimeout:        50 * time.Millisecond,
		WritebackTimeout:     50 * time.Millisecond,
	}
}

func newTestResolver(t *testing.T, claims domainidentity.ClaimSet, repo *memoryDeveloperRepo, attrs *recordingAttributeStore, recorder *countingRecorder) *identity.Resolver {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	if attrs == nil {
		attrs = &recordingAttributeStore{}
	}
	if recorder == nil {
		recorder = newCountingRecorder()
	}
	return identity.NewResolver(staticParser{claims: claims}, repo, attrs, node, recorder, testConfig(), zap.NewNop())
}

func TestResolveDerivesAndPersistsOnEmptyStore(t *testing.T) {
	repo := newMemoryRepo()
	attrs := &recordingAttributeStore{}
	recorder := newCountingRecorder()
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, attrs, recorder)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_alice0", resolved.DeveloperID)
	require.Equal(t, domainidentity.SourceDerived, resolved.Source)

	stored, ok := repo.get("u1")
	require.True(t, ok)
	require.Equal(t, "dev_alice0", stored.DeveloperID)
	require.NotZero(t, stored.ID)

	require.Equal(t, 1, attrs.count())
	require.Equal(t, "dev_alice0", attrs.calls[0]["custom:developer_id"])
	require.Equal(t, 1, recorder.resolutions[string(domainidentity.SourceDerived)])
}

func TestResolveCollisionAppendsSuffix(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "u0", Email: "alice@old.com", DeveloperID: "dev_alice0"})
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u2", Email: "alice@new.com"}, repo, nil, nil)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_alice01", resolved.DeveloperID)
}

func TestResolveEmbeddedClaimWins(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "u1", Email: "alice@co.com", DeveloperID: "dev_stored"})
	attrs := &recordingAttributeStore{}
	claims := domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com", DeveloperID: "dev_claim0", CompanyName: "Alice Games", UserType: "developer"}
	resolver := newTestResolver(t, claims, repo, attrs, nil)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_claim0", resolved.DeveloperID)
	require.Equal(t, "Alice Games", resolved.CompanyName)
	require.Equal(t, domainidentity.SourceEmbeddedClaim, resolved.Source)
	require.Zero(t, repo.subjectCalls)
	require.Zero(t, attrs.count())
}

func TestResolveSubjectRecord(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "u1", Email: "alice@co.com", DeveloperID: "dev_alice0", CompanyName: "Stored Co", UserType: "developer"})
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, nil, nil)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_alice0", resolved.DeveloperID)
	require.Equal(t, "Stored Co", resolved.CompanyName)
	require.Equal(t, domainidentity.SourceSubjectRecord, resolved.Source)
	require.Zero(t, repo.emailCalls)
}

func TestResolveFallsBackToEmailRecord(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "legacy-alice@co.com", Email: "Alice@Co.com", DeveloperID: "dev_legacy"})
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u9", Email: "alice@co.com"}, repo, nil, nil)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_legacy", resolved.DeveloperID)
	require.Equal(t, domainidentity.SourceEmailRecord, resolved.Source)
	require.Zero(t, repo.creates)
}

func TestResolveAssignsOntoExistingSubjectRow(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "u1", Email: "carol@co.com", CompanyName: "Carol Co"})
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1"}, repo, nil, nil)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_carol0", resolved.DeveloperID)
	require.Equal(t, "Carol Co", resolved.CompanyName)
	require.Equal(t, domainidentity.SourceDerived, resolved.Source)

	stored, _ := repo.get("u1")
	require.Equal(t, "dev_carol0", stored.DeveloperID)
	require.Zero(t, repo.creates)
}

func TestResolveUnresolvableWithoutEmail(t *testing.T) {
	recorder := newCountingRecorder()
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1"}, newMemoryRepo(), nil, recorder)

	_, err := resolver.Resolve(context.Background(), "token")
	require.ErrorIs(t, err, domainidentity.ErrIdentityUnresolvable)
	require.Equal(t, 1, recorder.failures["unresolvable"])
}

func TestResolveIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, nil, nil)

	first, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	second, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)

	third, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)

	require.Equal(t, first.DeveloperID, second.DeveloperID)
	require.Equal(t, first.SubjectID, second.SubjectID)
	require.Equal(t, domainidentity.SourceSubjectRecord, second.Source)
	require.Equal(t, second, third)
	require.Equal(t, 1, repo.creates)
}

func TestResolveLosesSubjectRaceAndRereads(t *testing.T) {
	repo := newMemoryRepo()
	repo.beforeWrite = func(r *memoryDeveloperRepo) {
		r.put(domain.DeveloperRecord{SubjectID: "u1", Email: "alice@co.com", DeveloperID: "dev_alice0"})
	}
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, nil, nil)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_alice0", resolved.DeveloperID)
	require.Equal(t, domainidentity.SourceSubjectRecord, resolved.Source)
}

func TestResolveRederivesWhenIDTaken(t *testing.T) {
	repo := newMemoryRepo()
	repo.beforeWrite = func(r *memoryDeveloperRepo) {
		r.put(domain.DeveloperRecord{SubjectID: "other", Email: "alice@elsewhere.com", DeveloperID: "dev_alice0"})
	}
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, nil, nil)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_alice01", resolved.DeveloperID)
	require.Equal(t, 2, repo.creates)
}

func TestResolveTimeoutFallsThroughToEmail(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "legacy", Email: "alice@co.com", DeveloperID: "dev_legacy"})
	repo.blockReads = true
	recorder := newCountingRecorder()
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, nil, recorder)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_legacy", resolved.DeveloperID)
	require.Equal(t, domainidentity.SourceEmailRecord, resolved.Source)
	require.Equal(t, 1, recorder.unavailable["subject"])
}

func TestResolveAllLookupsUnavailable(t *testing.T) {
	repo := newMemoryRepo()
	repo.subjectErr = errStoreDown
	repo.emailErr = errStoreDown
	recorder := newCountingRecorder()
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, nil, recorder)

	_, err := resolver.Resolve(context.Background(), "token")
	require.ErrorIs(t, err, domainidentity.ErrDependencyUnavailable)
	require.Equal(t, 1, recorder.failures["dependency_unavailable"])
	require.Zero(t, repo.creates)
}

func TestResolvePersistFailureSurfacesUnavailable(t *testing.T) {
	repo := newMemoryRepo()
	repo.writeErr = errStoreDown
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, nil, nil)

	_, err := resolver.Resolve(context.Background(), "token")
	require.ErrorIs(t, err, domainidentity.ErrDependencyUnavailable)
}

func TestResolveWritebackFailureDoesNotPropagate(t *testing.T) {
	attrs := &recordingAttributeStore{err: errStoreDown}
	recorder := newCountingRecorder()
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, newMemoryRepo(), attrs, recorder)

	resolved, err := resolver.Resolve(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "dev_alice0", resolved.DeveloperID)
	require.Equal(t, 1, recorder.writebacks)
}

func TestResolveWritesSurviveCancelledRequest(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "u1", Email: "alice@co.com", DeveloperID: "dev_alice0"})
	attrs := &recordingAttributeStore{}
	resolver := newTestResolver(t, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"}, repo, attrs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	resolved, err := resolver.Resolve(ctx, "token")
	require.NoError(t, err)
	require.Equal(t, "dev_alice0", resolved.DeveloperID)

	cancel()
	_, err = resolver.ResolveClaims(ctx, domainidentity.ClaimSet{SubjectID: "u1", Email: "alice@co.com"})
	require.NoError(t, err)
	require.Len(t, attrs.ctxErrs, 2)
	require.NoError(t, attrs.ctxErrs[1])
}

func TestResolveParserErrorsSurface(t *testing.T) {
	recorder := newCountingRecorder()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	resolver := identity.NewResolver(staticParser{err: domainidentity.ErrExpired}, newMemoryRepo(), nil, node, recorder, testConfig(), zap.NewNop())

	_, err = resolver.Resolve(context.Background(), "token")
	require.ErrorIs(t, err, domainidentity.ErrExpired)
	require.Equal(t, 1, recorder.failures["expired"])
}
