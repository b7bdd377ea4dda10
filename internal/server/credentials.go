package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Fields map[string]string `json:"fields" binding:"required"`
}

// putCredentials stores a tenant's provider credentials in the vault.
// The response never echoes any field back.
func (s *Server) putCredentials(c *gin.Context) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	providerName := c.Param("provider")
	if !s.adapters.Exists(providerName) {
		AbortWithError(c, newValidationError("provider", "unknown_provider", "unsupported provider"))
		return
	}

	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("fields", "invalid_request", "credential fields are required"))
		return
	}

	if err := s.vaultSvc.Put(c.Request.Context(), tenantID, providerName, req.Fields); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
