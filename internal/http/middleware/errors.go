package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/repository"
)

// AbortWithIdentityError maps identity and repository errors onto HTTP responses.
func AbortWithIdentityError(c *gin.Context, err error) {
	logger := zap.L()
	switch {
	case domainidentity.IsCredentialError(err):
		logger.Debug("credential rejected", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": credentialDescription(err)})
	case errors.Is(err, domainidentity.ErrIdentityUnresolvable):
		logger.Info("developer identity unresolvable", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "reauthentication_required", "error_description": "Developer identity could not be resolved. Please sign in again."})
	case errors.Is(err, domainidentity.ErrDependencyUnavailable):
		logger.Warn("identity dependency unavailable", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily_unavailable", "error_description": "Identity service temporarily unavailable."})
	case errors.Is(err, repository.ErrRecordNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "profile_not_found", "error_description": "Developer profile not found."})
	case errors.Is(err, repository.ErrDeveloperIDTaken):
		logger.Warn("developer id already assigned", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "developer_id_conflict", "error_description": "Developer ID belongs to another account."})
	default:
		logger.Error("identity failure", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}

func credentialDescription(err error) string {
	switch {
	case errors.Is(err, domainidentity.ErrExpired):
		return "Token expired."
	case errors.Is(err, domainidentity.ErrMalformedCredential):
		return "Malformed token."
	default:
		return "Invalid access token."
	}
}
