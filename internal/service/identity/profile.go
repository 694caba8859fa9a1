package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/trioll/trioll-developer-portal/internal/config"
	"github.com/trioll/trioll-developer-portal/internal/domain"
	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/jwt"
	"github.com/trioll/trioll-developer-portal/internal/metrics"
	"github.com/trioll/trioll-developer-portal/internal/repository"
)

// ProfileService reads and edits the developer profile behind a resolved identity.
type ProfileService struct {
	records   repository.DeveloperRepository
	writer    claimsWriter
	snowflake *snowflake.Node
	timeout   time.Duration
	logger    *zap.Logger
}

func NewProfileService(records repository.DeveloperRepository, attributes repository.AttributeStore, node *snowflake.Node, recorder metrics.Recorder, cfg config.Config, logger *zap.Logger) *ProfileService {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &ProfileService{
		records: records,
		writer: claimsWriter{
			attributes: attributes,
			claims:     jwt.ClaimOptions{Namespace: cfg.ClaimNamespace, CompatStandard: cfg.ClaimsCompatStandard},
			timeout:    cfg.WritebackTimeout,
			metrics:    recorder,
			logger:     logger,
		},
		snowflake: node,
		timeout:   cfg.LookupTimeout,
		logger:    logger,
	}
}

// Profile returns the stored record, or a record built from the identity
// alone when neither the subject nor its email owns a row.
func (s *ProfileService) Profile(ctx context.Context, resolved domainidentity.ResolvedIdentity) (domain.DeveloperRecord, error) {
	lookupCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.records.GetBySubject(lookupCtx, resolved.SubjectID)
	if errors.Is(err, repository.ErrRecordNotFound) {
		record, err = s.emailOwner(ctx, resolved)
		if errors.Is(err, repository.ErrRecordNotFound) {
			return identityRecord(resolved), nil
		}
	}
	if err != nil {
		return domain.DeveloperRecord{}, fmt.Errorf("%w: %v", domainidentity.ErrDependencyUnavailable, err)
	}
	if record.DeveloperID == "" {
		record.DeveloperID = resolved.DeveloperID
	}
	return record, nil
}

// UpdateProfile applies update to the subject's record. An identity that
// resolved through an email-matched row edits that row; otherwise the row is
// created first when absent. A company name change is written back to the
// identity provider.
func (s *ProfileService) UpdateProfile(ctx context.Context, resolved domainidentity.ResolvedIdentity, update domain.ProfileUpdate) (domain.DeveloperRecord, error) {
	update = trimUpdate(update)
	if update.Empty() {
		return s.Profile(ctx, resolved)
	}

	writeCtx, cancel := withTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	record, err := s.records.UpdateProfile(writeCtx, resolved.SubjectID, update)
	if errors.Is(err, repository.ErrRecordNotFound) {
		record, err = s.updateEmailOwner(writeCtx, resolved, update)
	}
	if err != nil {
		return domain.DeveloperRecord{}, err
	}

	if update.CompanyName != nil && *update.CompanyName != resolved.CompanyName {
		refreshed := resolved
		refreshed.CompanyName = record.CompanyName
		s.writer.write(ctx, refreshed)
	}
	s.log().Info("developer profile updated",
		zap.String("subject_id", resolved.SubjectID),
		zap.String("developer_id", resolved.DeveloperID),
	)
	if record.DeveloperID == "" {
		record.DeveloperID = resolved.DeveloperID
	}
	return record, nil
}

// updateEmailOwner edits the row that owns the resolved developer ID under
// another subject, falling back to creating the subject's own row.
func (s *ProfileService) updateEmailOwner(ctx context.Context, resolved domainidentity.ResolvedIdentity, update domain.ProfileUpdate) (domain.DeveloperRecord, error) {
	owner, err := s.emailOwner(ctx, resolved)
	switch {
	case err == nil:
		return s.records.UpdateProfile(ctx, owner.SubjectID, update)
	case errors.Is(err, repository.ErrRecordNotFound):
		return s.createThenUpdate(ctx, resolved, update)
	default:
		return domain.DeveloperRecord{}, fmt.Errorf("%w: %v", domainidentity.ErrDependencyUnavailable, err)
	}
}

// emailOwner finds the row matched by email that carries the resolved
// developer ID. Rows with another developer ID do not belong to the identity.
func (s *ProfileService) emailOwner(ctx context.Context, resolved domainidentity.ResolvedIdentity) (domain.DeveloperRecord, error) {
	if resolved.Email == "" || resolved.DeveloperID == "" {
		return domain.DeveloperRecord{}, repository.ErrRecordNotFound
	}
	lookupCtx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	record, err := s.records.FindByEmail(lookupCtx, resolved.Email)
	if err != nil {
		return domain.DeveloperRecord{}, err
	}
	if record.SubjectID == resolved.SubjectID || record.DeveloperID != resolved.DeveloperID {
		return domain.DeveloperRecord{}, repository.ErrRecordNotFound
	}
	return record, nil
}

func (s *ProfileService) createThenUpdate(ctx context.Context, resolved domainidentity.ResolvedIdentity, update domain.ProfileUpdate) (domain.DeveloperRecord, error) {
	seed := identityRecord(resolved)
	if s.snowflake != nil {
		seed.ID = s.snowflake.Generate().Int64()
	}
	if _, err := s.records.CreateIfAbsent(ctx, seed); err != nil && !errors.Is(err, repository.ErrRecordExists) {
		return domain.DeveloperRecord{}, err
	}
	return s.records.UpdateProfile(ctx, resolved.SubjectID, update)
}

func identityRecord(resolved domainidentity.ResolvedIdentity) domain.DeveloperRecord {
	return domain.DeveloperRecord{
		SubjectID:   resolved.SubjectID,
		Email:       resolved.Email,
		DeveloperID: resolved.DeveloperID,
		CompanyName: resolved.CompanyName,
		UserType:    resolved.UserType,
	}
}

func trimUpdate(update domain.ProfileUpdate) domain.ProfileUpdate {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	return domain.ProfileUpdate{
		CompanyName:    trim(update.CompanyName),
		Website:        trim(update.Website),
		Bio:            trim(update.Bio),
		ProfilePicture: trim(update.ProfilePicture),
	}
}

func (s *ProfileService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
