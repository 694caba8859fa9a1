package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ClaimsEnricher computes claim overrides for a credential about to be issued.
type ClaimsEnricher interface {
	Enrich(ctx context.Context, subject string, claims map[string]any) map[string]string
}

// HookHandler serves identity-provider extension callbacks.
type HookHandler struct {
	Enricher ClaimsEnricher
}

func NewHookHandler(enricher ClaimsEnricher) *HookHandler {
	return &HookHandler{Enricher: enricher}
}

type preTokenRequest struct {
	Subject string         `json:"subject" binding:"required"`
	Claims  map[string]any `json:"claims"`
}

// PreTokenGeneration returns the overrides merged into the issued credential.
// Lookup failures degrade to an empty override, never to an error status.
func (h *HookHandler) PreTokenGeneration(c *gin.Context) {
	var req preTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
		return
	}
	if req.Claims == nil {
		req.Claims = map[string]any{}
	}

	override := h.Enricher.Enrich(c.Request.Context(), req.Subject, req.Claims)
	if override == nil {
		override = map[string]string{}
	}
	c.JSON(http.StatusOK, gin.H{"claims_override": override})
}
