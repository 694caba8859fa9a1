package domain

import "time"

// User types recognised on developer records and credentials.
const (
	UserTypeDeveloper = "developer"
	UserTypePlayer    = "player"
)

// DeveloperRecord is the durable developer row keyed by the identity provider subject.
type DeveloperRecord struct {
	ID             int64
	SubjectID      string
	Email          string
	DeveloperID    string
	CompanyName    string
	UserType       string
	Website        string
	Bio            string
	ProfilePicture string
	Disabled       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ProfileUpdate lists the developer-editable profile fields. Nil fields are left untouched.
type ProfileUpdate struct {
	CompanyName    *string
	Website        *string
	Bio            *string
	ProfilePicture *string
}

// Empty reports whether the update changes nothing.
func (u ProfileUpdate) Empty() bool {
	return u.CompanyName == nil && u.Website == nil && u.Bio == nil && u.ProfilePicture == nil
}
