package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/trioll/trioll-developer-portal/internal/config"
	"github.com/trioll/trioll-developer-portal/internal/domain"
	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/jwt"
	"github.com/trioll/trioll-developer-portal/internal/metrics"
	"github.com/trioll/trioll-developer-portal/internal/repository"
)

const maxDeriveAttempts = 3

// CredentialParser verifies a bearer credential and returns its claims.
type CredentialParser interface {
	Parse(ctx context.Context, raw string) (domainidentity.ClaimSet, error)
}

// Resolver turns bearer credentials into developer identities.
type Resolver struct {
	parser    CredentialParser
	records   repository.DeveloperRepository
	deriver   *Deriver
	writer    claimsWriter
	snowflake *snowflake.Node
	claims    jwt.ClaimOptions
	timeout   time.Duration
	metrics   metrics.Recorder
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewResolver wires dependencies. attributes may be nil to disable the
// claims write-back.
func NewResolver(parser CredentialParser, records repository.DeveloperRepository, attributes repository.AttributeStore, node *snowflake.Node, recorder metrics.Recorder, cfg config.Config, logger *zap.Logger) *Resolver {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	claimOpts := jwt.ClaimOptions{Namespace: cfg.ClaimNamespace, CompatStandard: cfg.ClaimsCompatStandard}
	return &Resolver{
		parser:  parser,
		records: records,
		deriver: NewDeriver(records, recorder, cfg.LookupTimeout, logger),
		writer: claimsWriter{
			attributes: attributes,
			claims:     claimOpts,
			timeout:    cfg.WritebackTimeout,
			metrics:    recorder,
			logger:     logger,
		},
		snowflake: node,
		claims:    claimOpts,
		timeout:   cfg.LookupTimeout,
		metrics:   recorder,
		logger:    logger,
		tracer:    otel.Tracer("github.com/trioll/trioll-developer-portal/internal/service/identity"),
	}
}

// Resolve parses the credential and resolves the developer identity behind it.
func (r *Resolver) Resolve(ctx context.Context, raw string) (domainidentity.ResolvedIdentity, error) {
	ctx, span := r.startSpan(ctx, "IdentityResolver.Resolve")
	defer span.End()

	claims, err := r.parser.Parse(ctx, raw)
	if err != nil {
		span.RecordError(err)
		r.metrics.RecordResolutionFailure(failureReason(err))
		return domainidentity.ResolvedIdentity{}, err
	}

	resolved, err := r.resolve(ctx, claims)
	if err != nil {
		span.RecordError(err)
		return domainidentity.ResolvedIdentity{}, err
	}
	span.SetAttributes(
		attribute.String("identity.source", string(resolved.Source)),
		attribute.String("identity.developer_id", resolved.DeveloperID),
	)
	return resolved, nil
}

// ResolveClaims resolves an identity from an already verified claim set.
func (r *Resolver) ResolveClaims(ctx context.Context, claims domainidentity.ClaimSet) (domainidentity.ResolvedIdentity, error) {
	return r.resolve(ctx, claims)
}

func (r *Resolver) resolve(ctx context.Context, claims domainidentity.ClaimSet) (domainidentity.ResolvedIdentity, error) {
	resolved, err := r.lookup(ctx, claims)
	if err != nil {
		r.metrics.RecordResolutionFailure(failureReason(err))
		return domainidentity.ResolvedIdentity{}, err
	}

	r.metrics.RecordResolution(string(resolved.Source))
	if resolved.Source != domainidentity.SourceEmbeddedClaim {
		r.writer.write(ctx, resolved)
	}
	r.audit("identity.resolved",
		"subject_id", resolved.SubjectID,
		"developer_id", resolved.DeveloperID,
		"source", string(resolved.Source),
	)
	return resolved, nil
}

// lookup applies the precedence: embedded claim, subject record, email
// record, then derive-and-persist. The first source yielding an ID wins.
func (r *Resolver) lookup(ctx context.Context, claims domainidentity.ClaimSet) (domainidentity.ResolvedIdentity, error) {
	if claims.DeveloperID != "" {
		return fromClaims(claims, claims.DeveloperID, domainidentity.SourceEmbeddedClaim), nil
	}

	var (
		attempted   int
		unavailable int
		subject     *domain.DeveloperRecord
	)

	if claims.SubjectID != "" {
		attempted++
		record, err := r.getBySubject(ctx, claims.SubjectID)
		switch {
		case err == nil:
			if record.DeveloperID != "" {
				return fromRecord(claims, record, domainidentity.SourceSubjectRecord), nil
			}
			subject = &record
		case errors.Is(err, repository.ErrRecordNotFound):
		default:
			unavailable++
			r.lookupUnavailable("subject", err)
		}
	}

	email := claims.Email
	if email == "" && subject != nil {
		email = subject.Email
	}
	if email != "" {
		attempted++
		record, err := r.findByEmail(ctx, email)
		switch {
		case err == nil:
			if record.DeveloperID != "" {
				return fromRecord(claims, record, domainidentity.SourceEmailRecord), nil
			}
		case errors.Is(err, repository.ErrRecordNotFound):
		default:
			unavailable++
			r.lookupUnavailable("email", err)
		}
	}

	if attempted > 0 && unavailable == attempted {
		return domainidentity.ResolvedIdentity{}, fmt.Errorf("%w: all record lookups failed", domainidentity.ErrDependencyUnavailable)
	}
	if email == "" {
		return domainidentity.ResolvedIdentity{}, fmt.Errorf("%w: no developer id and no email claim", domainidentity.ErrIdentityUnresolvable)
	}
	if claims.SubjectID == "" {
		return domainidentity.ResolvedIdentity{}, fmt.Errorf("%w: no subject to persist a derived id", domainidentity.ErrIdentityUnresolvable)
	}
	if claims.Email == "" {
		claims.Email = email
	}
	return r.derive(ctx, claims, subject)
}

// derive assigns a new developer ID with a conditional write. A lost
// subject race re-reads the winner's row; a lost ID race re-derives.
func (r *Resolver) derive(ctx context.Context, claims domainidentity.ClaimSet, subject *domain.DeveloperRecord) (domainidentity.ResolvedIdentity, error) {
	for attempt := 0; attempt < maxDeriveAttempts; attempt++ {
		developerID, err := r.deriver.Derive(ctx, claims.Email)
		if err != nil {
			if errors.Is(err, domainidentity.ErrInvalidEmail) {
				return domainidentity.ResolvedIdentity{}, fmt.Errorf("%w: %v", domainidentity.ErrIdentityUnresolvable, err)
			}
			return domainidentity.ResolvedIdentity{}, err
		}

		if subject != nil {
			err = r.assign(ctx, claims.SubjectID, developerID)
		} else {
			err = r.create(ctx, claims, developerID)
		}

		switch {
		case err == nil:
			r.audit("identity.derived",
				"subject_id", claims.SubjectID,
				"developer_id", developerID,
				"attempt", attempt+1,
			)
			resolved := fromClaims(claims, developerID, domainidentity.SourceDerived)
			if subject != nil {
				resolved = fromRecord(claims, *subject, domainidentity.SourceDerived)
				resolved.DeveloperID = developerID
			}
			return resolved, nil
		case errors.Is(err, repository.ErrDeveloperIDTaken):
			r.log().Info("derived developer id taken, re-deriving",
				zap.String("developer_id", developerID),
				zap.Int("attempt", attempt+1),
			)
		case errors.Is(err, repository.ErrRecordExists):
			record, readErr := r.getBySubject(ctx, claims.SubjectID)
			if readErr != nil {
				return domainidentity.ResolvedIdentity{}, fmt.Errorf("%w: re-read subject record: %v", domainidentity.ErrDependencyUnavailable, readErr)
			}
			if record.DeveloperID != "" {
				return fromRecord(claims, record, domainidentity.SourceSubjectRecord), nil
			}
			subject = &record
		default:
			return domainidentity.ResolvedIdentity{}, fmt.Errorf("%w: persist developer id: %v", domainidentity.ErrDependencyUnavailable, err)
		}
	}
	return domainidentity.ResolvedIdentity{}, fmt.Errorf("%w: developer id still contended after %d attempts", domainidentity.ErrDependencyUnavailable, maxDeriveAttempts)
}

func (r *Resolver) getBySubject(ctx context.Context, subjectID string) (domain.DeveloperRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.records.GetBySubject(ctx, subjectID)
}

func (r *Resolver) findByEmail(ctx context.Context, email string) (domain.DeveloperRecord, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	return r.records.FindByEmail(ctx, email)
}

// Writes outlive the request so an aborted caller cannot strand a half-made row.
func (r *Resolver) assign(ctx context.Context, subjectID, developerID string) error {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	return r.records.AssignDeveloperID(ctx, subjectID, developerID)
}

func (r *Resolver) create(ctx context.Context, claims domainidentity.ClaimSet, developerID string) error {
	ctx, cancel := withTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	record := domain.DeveloperRecord{
		SubjectID:   claims.SubjectID,
		Email:       claims.Email,
		DeveloperID: developerID,
		CompanyName: claims.CompanyName,
		UserType:    claims.UserType,
	}
	if r.snowflake != nil {
		record.ID = r.snowflake.Generate().Int64()
	}
	_, err := r.records.CreateIfAbsent(ctx, record)
	return err
}

func (r *Resolver) lookupUnavailable(step string, err error) {
	r.metrics.RecordLookupUnavailable(step)
	r.log().Warn("developer record lookup unavailable",
		zap.String("step", step),
		zap.Error(err),
	)
}

func fromClaims(claims domainidentity.ClaimSet, developerID string, source domainidentity.Source) domainidentity.ResolvedIdentity {
	return domainidentity.ResolvedIdentity{
		SubjectID:   claims.SubjectID,
		Email:       claims.Email,
		DeveloperID: developerID,
		CompanyName: claims.CompanyName,
		UserType:    claims.UserType,
		Source:      source,
	}
}

// fromRecord prefers stored attributes and falls back to the claims.
func fromRecord(claims domainidentity.ClaimSet, record domain.DeveloperRecord, source domainidentity.Source) domainidentity.ResolvedIdentity {
	resolved := fromClaims(claims, record.DeveloperID, source)
	if resolved.Email == "" {
		resolved.Email = record.Email
	}
	if record.CompanyName != "" {
		resolved.CompanyName = record.CompanyName
	}
	if record.UserType != "" {
		resolved.UserType = record.UserType
	}
	return resolved
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domainidentity.ErrMalformedCredential):
		return "malformed_credential"
	case errors.Is(err, domainidentity.ErrExpired):
		return "expired"
	case errors.Is(err, domainidentity.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, domainidentity.ErrIdentityUnresolvable):
		return "unresolvable"
	case errors.Is(err, domainidentity.ErrDependencyUnavailable):
		return "dependency_unavailable"
	default:
		return "internal"
	}
}

func (r *Resolver) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if r == nil || r.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return r.tracer.Start(ctx, name)
}

func (r *Resolver) audit(event string, attrs ...any) {
	logger := r.log()
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}

func (r *Resolver) log() *zap.Logger {
	if r != nil && r.logger != nil {
		return r.logger
	}
	return zap.L()
}
