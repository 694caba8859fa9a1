package identity

import "errors"

var (
	// ErrMalformedCredential indicates the bearer credential could not be decoded.
	ErrMalformedCredential = errors.New("identity: malformed credential")
	// ErrInvalidSignature indicates the credential failed signature, issuer or audience checks.
	ErrInvalidSignature = errors.New("identity: invalid credential signature")
	// ErrExpired indicates the credential is past its validity window.
	ErrExpired = errors.New("identity: credential expired")
	// ErrIdentityUnresolvable signals that no developer ID could be found or derived.
	ErrIdentityUnresolvable = errors.New("identity: developer identity unresolvable")
	// ErrDependencyUnavailable signals that every backing source failed or timed out.
	ErrDependencyUnavailable = errors.New("identity: dependency unavailable")
	// ErrInvalidEmail indicates an email without exactly one '@'.
	ErrInvalidEmail = errors.New("identity: invalid email")
)

// IsCredentialError reports whether err rejects the credential itself.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrMalformedCredential) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrExpired)
}
