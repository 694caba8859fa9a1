package jwt

import (
	"strings"

	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
)

// ClaimOptions selects which claim naming conventions are honoured.
type ClaimOptions struct {
	// Namespace prefixes custom claims, e.g. "custom:".
	Namespace string
	// CompatStandard enables the deprecated convention of carrying developer
	// attributes in preferred_username, website and profile.
	CompatStandard bool
}

const developerIDPrefix = "dev_"

// Names of the namespaced custom claims, without namespace.
const (
	ClaimDeveloperID = "developer_id"
	ClaimCompanyName = "company_name"
	ClaimUserType    = "user_type"
)

// NamespacedKey returns the fully qualified custom claim name.
func (o ClaimOptions) NamespacedKey(name string) string {
	return o.Namespace + name
}

// ExtractClaims maps a raw claim payload onto a ClaimSet. It never fails;
// missing or mistyped claims stay empty.
func ExtractClaims(raw map[string]any, opts ClaimOptions) domainidentity.ClaimSet {
	claims := domainidentity.ClaimSet{
		SubjectID: stringClaim(raw, "sub", "username"),
		Email:     strings.ToLower(stringClaim(raw, "email")),
		Issuer:    stringClaim(raw, "iss"),
		Audience:  listClaim(raw, "aud", "client_id"),
		Groups:    listClaim(raw, "cognito:groups", "groups"),
		Raw:       raw,
	}
	if claims.Email == "" {
		if username := stringClaim(raw, "cognito:username"); strings.Contains(username, "@") {
			claims.Email = strings.ToLower(username)
		}
	}

	claims.DeveloperID = stringClaim(raw, opts.NamespacedKey(ClaimDeveloperID), "developer_id", "developerId")
	claims.CompanyName = stringClaim(raw, opts.NamespacedKey(ClaimCompanyName), "company_name", "companyName")
	claims.UserType = stringClaim(raw, opts.NamespacedKey(ClaimUserType), "user_type", "userType")

	if opts.CompatStandard {
		if claims.DeveloperID == "" {
			if candidate := stringClaim(raw, "preferred_username"); strings.HasPrefix(candidate, developerIDPrefix) {
				claims.DeveloperID = candidate
			}
		}
		if claims.CompanyName == "" {
			claims.CompanyName = stringClaim(raw, "website")
		}
		if claims.UserType == "" {
			claims.UserType = stringClaim(raw, "profile")
		}
	}
	return claims
}

func stringClaim(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := raw[key].(string); ok {
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func listClaim(raw map[string]any, keys ...string) []string {
	var out []string
	for _, key := range keys {
		switch v := raw[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				out = append(out, trimmed)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					out = append(out, strings.TrimSpace(s))
				}
			}
		case []string:
			out = append(out, v...)
		}
	}
	return out
}
