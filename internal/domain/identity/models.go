package identity

import "time"

// Source names the precedence step that produced a developer ID.
type Source string

const (
	SourceEmbeddedClaim Source = "embedded_claim"
	SourceSubjectRecord Source = "subject_record"
	SourceEmailRecord   Source = "email_record"
	SourceDerived       Source = "derived"
)

// ClaimSet is the decoded payload of a bearer credential.
// Absent fields are left empty.
type ClaimSet struct {
	SubjectID   string
	Email       string
	Issuer      string
	Audience    []string
	Groups      []string
	Expiry      time.Time
	DeveloperID string
	CompanyName string
	UserType    string
	Raw         map[string]any
}

// ResolvedIdentity is the canonical developer identity recomputed per request.
type ResolvedIdentity struct {
	SubjectID   string `json:"subjectId"`
	Email       string `json:"email,omitempty"`
	DeveloperID string `json:"developerId"`
	CompanyName string `json:"companyName,omitempty"`
	UserType    string `json:"userType,omitempty"`
	Source      Source `json:"source"`
}
