package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	disbursementdomain "github.com/kwachapay/kwachapay/internal/disbursement/domain"
	idempotencydomain "github.com/kwachapay/kwachapay/internal/idempotency/domain"
	providerdomain "github.com/kwachapay/kwachapay/internal/provider/domain"
	vaultdomain "github.com/kwachapay/kwachapay/internal/vault/domain"
	webhookdomain "github.com/kwachapay/kwachapay/internal/webhook/domain"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrMissingTenant  = errors.New("missing_tenant")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, disbursementdomain.ErrValidation),
		errors.Is(err, providerdomain.ErrUnknownProvider),
		errors.Is(err, vaultdomain.ErrInvalidCredentials),
		errors.Is(err, vaultdomain.ErrInvalidProvider),
		errors.Is(err, webhookdomain.ErrMalformedPayload):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
		}
	case errors.Is(err, ErrMissingTenant),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, idempotencydomain.ErrKeyConflict),
		errors.Is(err, disbursementdomain.ErrExternalIDConflict),
		errors.Is(err, disbursementdomain.ErrIllegalTransition),
		errors.Is(err, disbursementdomain.ErrNotRefundable),
		errors.Is(err, disbursementdomain.ErrConcurrentMutation):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, disbursementdomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, providerdomain.ErrProviderAuth),
		errors.Is(err, vaultdomain.ErrNoCredentials):
		// The tenant's own provider setup is broken; blame upstream,
		// never leak credential details.
		return http.StatusBadGateway, errorPayload{
			Type:    "provider_auth_failed",
			Message: "provider rejected the configured credentials",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, providerdomain.ErrProviderTimeout):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "provider_timeout",
			Message: "provider did not respond in time",
		}
	default:
		var pe *providerdomain.Error
		if errors.As(err, &pe) {
			return http.StatusBadGateway, errorPayload{
				Type:    "provider_error",
				Message: pe.Message,
			}
		}
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= 500:
		return "server_error", payload.Type
	case status >= 400:
		return "client_error", payload.Type
	default:
		return "none", ""
	}
}
