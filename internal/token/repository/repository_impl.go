package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/kwachapay/kwachapay/internal/token/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*domain.ProviderToken, error) {
	var token domain.ProviderToken
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, access_token, refresh_token, expires_at, updated_at
		 FROM provider_tokens
		 WHERE tenant_id = ? AND provider = ?
		 LIMIT 1`,
		tenantID,
		provider,
	).Scan(&token).Error
	if err != nil {
		return nil, err
	}
	if token.ID == 0 {
		return nil, nil
	}
	return &token, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, token *domain.ProviderToken) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_tokens (
			id, tenant_id, provider, access_token, refresh_token, expires_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`,
		token.ID,
		token.TenantID,
		token.Provider,
		token.AccessToken,
		token.RefreshToken,
		token.ExpiresAt,
		token.UpdatedAt,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM provider_tokens WHERE tenant_id = ? AND provider = ?`,
		tenantID,
		provider,
	).Error
}
