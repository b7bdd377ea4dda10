package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	webhookdomain "github.com/kwachapay/kwachapay/internal/webhook/domain"
)

const maxWebhookBody = 1 << 20

// receiveWebhook ingests one provider event. Duplicates are acknowledged
// with 200 so the provider stops redelivering; bad signatures are
// rejected without being recorded as events.
func (s *Server) receiveWebhook(c *gin.Context) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.webhookSvc.Ingest(
		c.Request.Context(),
		tenantID,
		c.Param("provider"),
		rawBody,
		c.GetHeader(headerSignature),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         string(result.Status),
		"transaction_id": result.Event.TransactionID,
		"duplicate":      result.Status == webhookdomain.RecordSkipped,
	})
}
