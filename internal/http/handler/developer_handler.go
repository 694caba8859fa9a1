package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/trioll/trioll-developer-portal/internal/domain"
	domainidentity "github.com/trioll/trioll-developer-portal/internal/domain/identity"
	"github.com/trioll/trioll-developer-portal/internal/http/middleware"
)

// ProfileService reads and edits developer profiles.
type ProfileService interface {
	Profile(ctx context.Context, resolved domainidentity.ResolvedIdentity) (domain.DeveloperRecord, error)
	UpdateProfile(ctx context.Context, resolved domainidentity.ResolvedIdentity, update domain.ProfileUpdate) (domain.DeveloperRecord, error)
}

// DeveloperHandler serves the developer-scoped endpoints.
type DeveloperHandler struct {
	Profiles ProfileService
}

func NewDeveloperHandler(profiles ProfileService) *DeveloperHandler {
	return &DeveloperHandler{Profiles: profiles}
}

type profileResponse struct {
	DeveloperID    string     `json:"developerId"`
	Email          string     `json:"email,omitempty"`
	CompanyName    string     `json:"companyName"`
	UserType       string     `json:"userType,omitempty"`
	Website        string     `json:"website"`
	Bio            string     `json:"bio"`
	ProfilePicture string     `json:"profilePicture"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
}

type updateProfileRequest struct {
	CompanyName    *string `json:"companyName" binding:"omitempty,max=100"`
	Website        *string `json:"website" binding:"omitempty,max=2048"`
	Bio            *string `json:"bio" binding:"omitempty,max=2000"`
	ProfilePicture *string `json:"profilePicture" binding:"omitempty,max=2048"`
}

// Identity returns the resolved developer identity.
func (h *DeveloperHandler) Identity(c *gin.Context) {
	resolved, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "reauthentication_required", "error_description": "Developer identity missing."})
		return
	}
	c.JSON(http.StatusOK, resolved)
}

// Profile returns the developer profile.
func (h *DeveloperHandler) Profile(c *gin.Context) {
	resolved, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "reauthentication_required", "error_description": "Developer identity missing."})
		return
	}

	record, err := h.Profiles.Profile(c.Request.Context(), resolved)
	if err != nil {
		middleware.AbortWithIdentityError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(record))
}

// UpdateProfile edits the developer-owned profile fields.
func (h *DeveloperHandler) UpdateProfile(c *gin.Context) {
	resolved, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "reauthentication_required", "error_description": "Developer identity missing."})
		return
	}

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}

	record, err := h.Profiles.UpdateProfile(c.Request.Context(), resolved, domain.ProfileUpdate{
		CompanyName:    req.CompanyName,
		Website:        req.Website,
		Bio:            req.Bio,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		middleware.AbortWithIdentityError(c, err)
		return
	}
	c.JSON(http.StatusOK, newProfileResponse(record))
}

func newProfileResponse(record domain.DeveloperRecord) profileResponse {
	resp := profileResponse{
		DeveloperID:    record.DeveloperID,
		Email:          record.Email,
		CompanyName:    record.CompanyName,
		UserType:       record.UserType,
		Website:        record.Website,
		Bio:            record.Bio,
		ProfilePicture: record.ProfilePicture,
	}
	if !record.CreatedAt.IsZero() {
		created := record.CreatedAt.UTC()
		resp.CreatedAt = &created
	}
	return resp
}
