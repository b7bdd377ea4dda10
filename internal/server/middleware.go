package server

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kwachapay/kwachapay/pkg/tenantctx"
)

const (
	headerTenantID       = "X-Tenant-Id"
	headerIdempotencyKey = "Idempotency-Key"
	headerSignature      = "X-Signature"
)

// TenantMiddleware resolves the calling tenant from X-Tenant-Id and puts
// it on the request context. Every tenant-scoped route sits behind it.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerTenantID))
		if raw == "" {
			AbortWithError(c, ErrMissingTenant)
			return
		}
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			AbortWithError(c, ErrMissingTenant)
			return
		}
		ctx := tenantctx.WithTenantID(c.Request.Context(), snowflake.ID(parsed))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func tenantFrom(c *gin.Context) (snowflake.ID, error) {
	tenantID, ok := tenantctx.TenantIDFromContext(c.Request.Context())
	if !ok {
		return 0, ErrMissingTenant
	}
	return tenantID, nil
}

// RateLimitMiddleware throttles per tenant using the redis token bucket.
// A nil limiter or a redis failure lets the request through.
func (s *Server) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}
		tenantID, err := tenantFrom(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		result, err := s.limiter.Allow(c.Request.Context(), tenantID)
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(s.limiter.Limit()))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())+1))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays cached responses for a repeated
// Idempotency-Key and caches the response of a first-time request. The
// header is optional: without it the request executes with no replay
// protection. A present key must be a UUID; reusing one with a
// different route is a conflict.
func (s *Server) IdempotencyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if _, err := uuid.Parse(key); err != nil {
			AbortWithError(c, newValidationError(headerIdempotencyKey, "invalid_idempotency_key", "Idempotency-Key must be a UUID"))
			return
		}
		tenantID, err := tenantFrom(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := c.Request.Context()
		cached, err := s.idempotencySvc.Lookup(ctx, tenantID, key, c.Request.Method, c.FullPath())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if cached != nil {
			if s.metrics != nil {
				s.metrics.RecordIdempotencyHit(ctx, c.FullPath())
			}
			c.Header("Content-Type", "application/json")
			c.Header("Idempotency-Replayed", "true")
			c.Data(cached.StatusCode, "application/json", cached.Body)
			c.Abort()
			return
		}

		writer := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = writer
		c.Next()

		// Only settled outcomes are worth replaying; transient failures
		// should be retried for real.
		status := writer.Status()
		if status >= http.StatusInternalServerError {
			return
		}
		s.idempotencySvc.Store(ctx, tenantID, key, c.Request.Method, c.FullPath(), status, writer.body.Bytes())
	}
}
