package ratelimit

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kwachapay/kwachapay/internal/config"
)

const keyTenantRequests = "kwachapay:ratelimit:tenant:%s"

// RequestLimiter throttles API requests per tenant. A nil limiter means
// rate limiting is disabled and every request is allowed.
type RequestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewRequestLimiter(cfg config.Config, client *redis.Client, log *zap.Logger) *RequestLimiter {
	if cfg.APIRatePerSecond <= 0 {
		return nil
	}
	if client == nil {
		log.Warn("rate limiting requested but redis not configured, disabled")
		return nil
	}
	burst := cfg.APIRateBurst
	if burst <= 0 {
		burst = 20
	}
	return &RequestLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.APIRatePerSecond,
		burst:  burst,
	}
}

// Allow errs on the side of availability: a redis failure lets the
// request through rather than failing the API.
func (l *RequestLimiter) Allow(ctx context.Context, tenantID snowflake.ID) (Result, error) {
	if l == nil {
		return Result{Allowed: true}, nil
	}
	result, err := l.bucket.Allow(ctx, fmt.Sprintf(keyTenantRequests, tenantID.String()), l.rate, l.burst)
	if err != nil {
		return Result{Allowed: true}, err
	}
	return result, nil
}

func (l *RequestLimiter) Limit() int {
	if l == nil {
		return 0
	}
	return l.burst
}
