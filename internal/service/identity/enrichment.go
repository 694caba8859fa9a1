package identity

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/jwt"
)

// Enrichment outcomes, reported as metric labels.
const (
	EnrichmentEmbedded = "embedded"
	EnrichmentResolved = "resolved"
	EnrichmentSkipped  = "skipped"
	EnrichmentFailed   = "failed"
)

// Enrich builds the claims override merged into a credential about to be
// issued for subject. It never fails issuance: on error it logs and returns
// whatever attributes are already known, possibly none.
func (r *Resolver) Enrich(ctx context.Context, subject string, raw map[string]any) map[string]string {
	ctx, span := r.startSpan(ctx, "IdentityResolver.Enrich")
	defer span.End()

	claims := jwt.ExtractClaims(raw, r.claims)
	if subject != "" {
		claims.SubjectID = subject
	}

	if claims.DeveloperID != "" {
		r.metrics.RecordEnrichment(EnrichmentEmbedded)
		return attributeOverrides(r.claims, fromClaims(claims, claims.DeveloperID, domainidentity.SourceEmbeddedClaim))
	}
	if claims.SubjectID == "" {
		r.metrics.RecordEnrichment(EnrichmentSkipped)
		return map[string]string{}
	}

	resolved, err := r.resolve(ctx, claims)
	if err != nil {
		span.RecordError(err)
		r.metrics.RecordEnrichment(EnrichmentFailed)
		r.log().Warn("claims enrichment degraded",
			zap.String("subject_id", claims.SubjectID),
			zap.Error(err),
		)
		return attributeOverrides(r.claims, fromClaims(claims, "", ""))
	}

	span.SetAttributes(attribute.String("identity.source", string(resolved.Source)))
	r.metrics.RecordEnrichment(EnrichmentResolved)
	r.audit("claims.enriched",
		"subject_id", resolved.SubjectID,
		"developer_id", resolved.DeveloperID,
		"source", string(resolved.Source),
	)
	return attributeOverrides(r.claims, resolved)
}
