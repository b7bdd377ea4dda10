package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrTokenUnavailable = errors.New("token_unavailable")
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*ProviderToken, error)
	Upsert(ctx context.Context, db *gorm.DB, token *ProviderToken) error
	Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) error
}

// Manager hands out valid access tokens, refreshing lazily when the
// cached token is missing or inside the expiry margin.
type Manager interface {
	GetValidToken(ctx context.Context, tenantID snowflake.ID, provider string) (string, error)
	Invalidate(ctx context.Context, tenantID snowflake.ID, provider string) error
}
