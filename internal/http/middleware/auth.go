package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
)

const identityKey = "developerIdentity"

// IdentityResolver resolves the developer behind a bearer credential.
type IdentityResolver interface {
	Resolve(ctx context.Context, raw string) (domainidentity.ResolvedIdentity, error)
}

// Auth rejects developer-scoped requests whose credential does not resolve
// to a developer identity.
type Auth struct {
	Resolver IdentityResolver
}

// RequireDeveloper resolves the bearer credential and attaches the identity.
func (m *Auth) RequireDeveloper(c *gin.Context) {
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "reauthentication_required", "error_description": "Bearer token required."})
		return
	}

	resolved, err := m.Resolver.Resolve(c.Request.Context(), token)
	if err != nil {
		AbortWithIdentityError(c, err)
		return
	}
	c.Set(identityKey, resolved)
	c.Next()
}

// RequireUserType allows only identities carrying userType. It must run after
// RequireDeveloper.
func RequireUserType(userType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "reauthentication_required", "error_description": "Developer identity missing."})
			return
		}
		if !strings.EqualFold(resolved.UserType, userType) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient_scope", "error_description": "Account type " + userType + " required."})
			return
		}
		c.Next()
	}
}

// RequireHookSecret guards identity-provider callbacks with a shared secret.
// An empty secret rejects every call.
func RequireHookSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-Hook-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_client", "error_description": "Hook secret mismatch."})
			return
		}
		c.Next()
	}
}

// GetIdentity exposes the resolved developer identity to handlers.
func GetIdentity(c *gin.Context) (domainidentity.ResolvedIdentity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return domainidentity.ResolvedIdentity{}, false
	}
	resolved, ok := value.(domainidentity.ResolvedIdentity)
	return resolved, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
