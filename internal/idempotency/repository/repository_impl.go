package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kwachapay/kwachapay/internal/idempotency/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, key string) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, idempotency_key, method, path, status_code,
			response_body, created_at, expires_at
		 FROM idempotency_records
		 WHERE tenant_id = ? AND idempotency_key = ?
		 LIMIT 1`,
		tenantID,
		key,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO idempotency_records (
			id, tenant_id, idempotency_key, method, path, status_code,
			response_body, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING`,
		record.ID,
		record.TenantID,
		record.Key,
		record.Method,
		record.Path,
		record.StatusCode,
		record.ResponseBody,
		record.CreatedAt,
		record.ExpiresAt,
	).Error
}

func (r *repo) DeleteExpired(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM idempotency_records
		 WHERE id IN (
			SELECT id FROM idempotency_records
			WHERE expires_at <= ?
			LIMIT ?
		 )`,
		now,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
