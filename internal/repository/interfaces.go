package repository

import (
	"context"
	"errors"
	"time"

	"github.com/trioll/trioll-developer-portal/internal/domain"
)

var (
	// ErrRecordNotFound signals a missing developer record.
	ErrRecordNotFound = errors.New("repository: record not found")
	// ErrRecordExists signals a conditional write lost against an existing row or assignment.
	ErrRecordExists = errors.New("repository: record already exists")
	// ErrDeveloperIDTaken signals the developer ID is already assigned to another subject.
	ErrDeveloperIDTaken = errors.New("repository: developer id taken")
)

// DeveloperRepository exposes persistence for developer records.
type DeveloperRepository interface {
	GetBySubject(ctx context.Context, subjectID string) (domain.DeveloperRecord, error)
	FindByEmail(ctx context.Context, email string) (domain.DeveloperRecord, error)
	ListDeveloperIDsWithPrefix(ctx context.Context, prefix string) ([]string, error)
	// CreateIfAbsent inserts the record only when no row exists for its subject.
	CreateIfAbsent(ctx context.Context, record domain.DeveloperRecord) (domain.DeveloperRecord, error)
	// AssignDeveloperID sets the developer ID only when the subject row has none yet.
	AssignDeveloperID(ctx context.Context, subjectID, developerID string) error
	UpdateProfile(ctx context.Context, subjectID string, update domain.ProfileUpdate) (domain.DeveloperRecord, error)
	ListMissingDeveloperID(ctx context.Context, afterSubject string, limit int) ([]domain.DeveloperRecord, error)
}

// AttributeStore writes developer attributes onto the identity provider's user profile.
type AttributeStore interface {
	UpdateUserAttributes(ctx context.Context, subjectID string, attributes map[string]string) error
}

// KeySetStore shares fetched signing key sets between instances.
type KeySetStore interface {
	SaveKeySet(ctx context.Context, url string, payload []byte, ttl time.Duration) error
	GetKeySet(ctx context.Context, url string) ([]byte, error)
}
