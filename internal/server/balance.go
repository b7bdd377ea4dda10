package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	providerdomain "github.com/kwachapay/kwachapay/internal/provider/domain"
)

// getBalance proxies a wallet balance query to the tenant's provider.
func (s *Server) getBalance(c *gin.Context) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	providerName := strings.ToLower(strings.TrimSpace(c.Query("provider")))
	if providerName == "" {
		AbortWithError(c, newValidationError("provider", "missing_provider", "provider query parameter is required"))
		return
	}
	adapter, err := s.adapters.Adapter(providerName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	accessToken, err := s.tokenMgr.GetValidToken(ctx, tenantID, providerName)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	creds, err := s.vaultSvc.Get(ctx, tenantID, providerName)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := adapter.Balance(ctx, accessToken, providerdomain.Credentials(creds))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"provider":  providerName,
		"available": balance.Available,
		"currency":  balance.Currency,
	})
}
