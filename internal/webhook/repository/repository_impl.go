package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kwachapay/kwachapay/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.WebhookRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_records (
			id, tenant_id, provider, transaction_id, payload, signature,
			status, result, error, redelivery_count, processed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (transaction_id) DO NOTHING`,
		record.ID,
		record.TenantID,
		record.Provider,
		record.TransactionID,
		record.Payload,
		record.Signature,
		record.Status,
		record.Result,
		record.Error,
		record.RedeliveryCount,
		record.ProcessedAt,
		record.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.RecordStatus, result, errMsg string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_records
		 SET status = ?, result = ?, error = ?, processed_at = ?
		 WHERE id = ?`,
		status,
		result,
		errMsg,
		processedAt,
		id,
	).Error
}

func (r *repo) MarkRedelivered(ctx context.Context, db *gorm.DB, transactionID string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_records
		 SET redelivery_count = redelivery_count + 1
		 WHERE transaction_id = ?`,
		transactionID,
	).Error
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*domain.WebhookRecord, error) {
	var record domain.WebhookRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, transaction_id, payload, signature,
			status, result, error, redelivery_count, processed_at, created_at
		 FROM webhook_records
		 WHERE transaction_id = ?
		 LIMIT 1`,
		transactionID,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
