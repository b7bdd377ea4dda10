package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/kwachapay/kwachapay/internal/vault/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*domain.Credential, error) {
	var credential domain.Credential
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, payload, key_version, is_active, created_at, updated_at
		 FROM provider_credentials
		 WHERE tenant_id = ? AND provider = ?
		 LIMIT 1`,
		tenantID,
		provider,
	).Scan(&credential).Error
	if err != nil {
		return nil, err
	}
	if credential.ID == 0 {
		return nil, nil
	}
	return &credential, nil
}

func (r *repo) FindStale(ctx context.Context, db *gorm.DB, currentKeyVersion int, limit int) ([]domain.Credential, error) {
	var credentials []domain.Credential
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, payload, key_version, is_active, created_at, updated_at
		 FROM provider_credentials
		 WHERE key_version < ?
		 ORDER BY id
		 LIMIT ?`,
		currentKeyVersion,
		limit,
	).Scan(&credentials).Error
	if err != nil {
		return nil, err
	}
	return credentials, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, credential *domain.Credential) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO provider_credentials (
			id, tenant_id, provider, payload, key_version, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			payload = excluded.payload,
			key_version = excluded.key_version,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		credential.ID,
		credential.TenantID,
		credential.Provider,
		credential.Payload,
		credential.KeyVersion,
		credential.IsActive,
		credential.CreatedAt,
		credential.UpdatedAt,
	).Error
}
