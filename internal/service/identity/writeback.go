package identity

import (
	"context"
	"time"

	"go.uber.org/zap"

	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/jwt"
	"github.com/trioll/trioll-developer-portal/internal/metrics"
	"github.com/trioll/trioll-developer-portal/internal/repository"
)

// claimsWriter copies resolved developer attributes onto the identity
// provider's user profile so the next issued credential embeds them.
type claimsWriter struct {
	attributes repository.AttributeStore
	claims     jwt.ClaimOptions
	timeout    time.Duration
	metrics    metrics.Recorder
	logger     *zap.Logger
}

// write never fails the caller. It runs detached from ctx cancellation.
func (w claimsWriter) write(ctx context.Context, resolved domainidentity.ResolvedIdentity) {
	if w.attributes == nil || resolved.SubjectID == "" {
		return
	}
	attrs := attributeOverrides(w.claims, resolved)
	if len(attrs) == 0 {
		return
	}

	writeCtx, cancel := withTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.attributes.UpdateUserAttributes(writeCtx, resolved.SubjectID, attrs); err != nil {
		w.metrics.RecordWritebackFailure()
		w.log().Warn("claims write-back failed",
			zap.String("subject_id", resolved.SubjectID),
			zap.String("developer_id", resolved.DeveloperID),
			zap.Error(err),
		)
	}
}

func (w claimsWriter) log() *zap.Logger {
	if w.logger != nil {
		return w.logger
	}
	return zap.L()
}

// attributeOverrides maps the identity onto namespaced custom claim names.
func attributeOverrides(opts jwt.ClaimOptions, resolved domainidentity.ResolvedIdentity) map[string]string {
	out := make(map[string]string, 3)
	if resolved.DeveloperID != "" {
		out[opts.NamespacedKey(jwt.ClaimDeveloperID)] = resolved.DeveloperID
	}
	if resolved.CompanyName != "" {
		out[opts.NamespacedKey(jwt.ClaimCompanyName)] = resolved.CompanyName
	}
	if resolved.UserType != "" {
		out[opts.NamespacedKey(jwt.ClaimUserType)] = resolved.UserType
	}
	return out
}
