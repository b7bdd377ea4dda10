package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	disbursementdomain "github.com/kwachapay/kwachapay/internal/disbursement/domain"
)

type disbursementResponse struct {
	ExternalID        string `json:"external_id"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	PayeeMSISDN       string `json:"payee_msisdn"`
	Provider          string `json:"provider"`
	Status            string `json:"status"`
	ProviderReference string `json:"provider_reference,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	RetryCount        int    `json:"retry_count"`
	CreatedAt         string `json:"created_at"`
	CompletedAt       string `json:"completed_at,omitempty"`
}

func toDisbursementResponse(d *disbursementdomain.Disbursement) disbursementResponse {
	resp := disbursementResponse{
		ExternalID:        d.ExternalID,
		Amount:            d.Amount,
		Currency:          d.Currency,
		PayeeMSISDN:       d.PayeeMSISDN,
		Provider:          d.Provider,
		Status:            string(d.Status),
		ProviderReference: d.ProviderReference,
		ErrorCode:         d.ErrorCode,
		ErrorMessage:      d.ErrorMessage,
		RetryCount:        d.RetryCount,
		CreatedAt:         d.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if d.CompletedAt != nil {
		resp.CompletedAt = d.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return resp
}

// createDisbursement registers the payout and drives the first
// submission inline. The response reflects wherever the state machine
// landed, including PROCESSING when the provider accepted it
// asynchronously.
func (s *Server) createDisbursement(c *gin.Context) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req disbursementdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	record, created, err := s.disbursementSvc.Create(c.Request.Context(), tenantID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !created {
		// Same externalId, same payload: acknowledge the existing one.
		c.JSON(http.StatusOK, toDisbursementResponse(record))
		return
	}

	submitted, err := s.disbursementSvc.Submit(c.Request.Context(), record.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toDisbursementResponse(submitted))
}

func (s *Server) getDisbursement(c *gin.Context) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	record, err := s.disbursementSvc.GetByExternalID(c.Request.Context(), tenantID, c.Param("external_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, toDisbursementResponse(record))
}

type refundRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) refundDisbursement(c *gin.Context) {
	tenantID, err := tenantFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, newValidationError("request", "invalid_request", "invalid request body"))
		return
	}

	record, err := s.disbursementSvc.Refund(c.Request.Context(), tenantID, c.Param("external_id"), req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toDisbursementResponse(record))
}
