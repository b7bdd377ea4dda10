package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*Record, error)
	Upsert(ctx context.Context, db *gorm.DB, record *Record) error
	DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error)
}

// Service deduplicates inbound requests by (tenant, key). Lookup treats
// expired records as misses; Store is best-effort and must not fail the
// caller's response delivery.
type Service interface {
	Lookup(ctx context.Context, tenantID snowflake.ID, key, method, path string) (*CachedResult, error)
	Store(ctx context.Context, tenantID snowflake.ID, key, method, path string, statusCode int, body []byte)
	Sweep(ctx context.Context, now time.Time, limit int) (int64, error)
}

var (
	// ErrKeyConflict means the key was reused for a different method/path.
	ErrKeyConflict = errors.New("idempotency_key_conflict")
	ErrInvalidKey  = errors.New("invalid_idempotency_key")
)
