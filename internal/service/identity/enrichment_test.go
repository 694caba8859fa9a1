package identity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trioll/trioll-developer-portal/internal/domain"
	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/service/identity"
)

func TestEnrichAcceptsEmbeddedAttributes(t *testing.T) {
	repo := newMemoryRepo()
	recorder := newCountingRecorder()
	resolver := newTestResolver(t, domainidentity.ClaimSet{}, repo, nil, recorder)

	override := resolver.Enrich(context.Background(), "u1", map[string]any{
		"sub":                 "u1",
		"email":               "alice@co.com",
		"custom:developer_id": "dev_alice0",
		"custom:company_name": "Alice Games",
	})
	require.Equal(t, map[string]string{
		"custom:developer_id": "dev_alice0",
		"custom:company_name": "Alice Games",
	}, override)
	require.Zero(t, repo.subjectCalls)
	require.Equal(t, 1, recorder.enrichments[identity.EnrichmentEmbedded])
}

func TestEnrichLooksUpStoredRecord(t *testing.T) {
	repo := newMemoryRepo(domain.DeveloperRecord{SubjectID: "u1", Email: "alice@co.com", DeveloperID: "dev_alice0", CompanyName: "Alice Games", UserType: "developer"})
	resolver := newTestResolver(t, domainidentity.ClaimSet{}, repo, nil, nil)

	override := resolver.Enrich(context.Background(), "u1", map[string]any{"email": "alice@co.com"})
	require.Equal(t, "dev_alice0", override["custom:developer_id"])
	require.Equal(t, "Alice Games", override["custom:company_name"])
	require.Equal(t, "developer", override["custom:user_type"])
}

func TestEnrichDerivesOnFirstLogin(t *testing.T) {
	repo := newMemoryRepo()
	attrs := &recordingAttributeStore{}
	resolver := newTestResolver(t, domainidentity.ClaimSet{}, repo, attrs, nil)

	override := resolver.Enrich(context.Background(), "u1", map[string]any{
		"email":            "alice@co.com",
		"custom:user_type": "developer",
	})
	require.Equal(t, "dev_alice0", override["custom:developer_id"])
	require.Equal(t, "developer", override["custom:user_type"])

	stored, ok := repo.get("u1")
	require.True(t, ok)
	require.Equal(t, "dev_alice0", stored.DeveloperID)
	require.Equal(t, 1, attrs.count())
}

func TestEnrichNeverFailsIssuance(t *testing.T) {
	repo := newMemoryRepo()
	repo.subjectErr = errStoreDown
	repo.emailErr = errStoreDown
	recorder := newCountingRecorder()
	resolver := newTestResolver(t, domainidentity.ClaimSet{}, repo, nil, recorder)

	override := resolver.Enrich(context.Background(), "u1", map[string]any{
		"email":               "alice@co.com",
		"custom:company_name": "Alice Games",
	})
	require.Equal(t, map[string]string{"custom:company_name": "Alice Games"}, override)
	require.Equal(t, 1, recorder.enrichments[identity.EnrichmentFailed])

	override = resolver.Enrich(context.Background(), "", map[string]any{})
	require.Empty(t, override)
	require.Equal(t, 1, recorder.enrichments[identity.EnrichmentSkipped])
}
