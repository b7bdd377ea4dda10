package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kwachapay/kwachapay/internal/disbursement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, tenant_id, external_id, amount, currency, payee_msisdn,
	provider, status, provider_reference, error_code, error_message,
	retry_count, next_retry_at, completed_at, expires_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, d *domain.Disbursement) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO disbursements (
			id, tenant_id, external_id, amount, currency, payee_msisdn,
			provider, status, provider_reference, error_code, error_message,
			retry_count, next_retry_at, completed_at, expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.TenantID,
		d.ExternalID,
		d.Amount,
		d.Currency,
		d.PayeeMSISDN,
		d.Provider,
		d.Status,
		d.ProviderReference,
		d.ErrorCode,
		d.ErrorMessage,
		d.RetryCount,
		d.NextRetryAt,
		d.CompletedAt,
		d.ExpiresAt,
		d.CreatedAt,
		d.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Disbursement, error) {
	var d domain.Disbursement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM disbursements WHERE id = ? LIMIT 1`,
		id,
	).Scan(&d).Error
	if err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	return &d, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, externalID string) (*domain.Disbursement, error) {
	var d domain.Disbursement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM disbursements
		 WHERE tenant_id = ? AND external_id = ?
		 LIMIT 1`,
		tenantID,
		externalID,
	).Scan(&d).Error
	if err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	return &d, nil
}

func (r *repo) FindByProviderReference(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, reference string) (*domain.Disbursement, error) {
	var d domain.Disbursement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM disbursements
		 WHERE tenant_id = ? AND provider_reference = ?
		 LIMIT 1`,
		tenantID,
		reference,
	).Scan(&d).Error
	if err != nil {
		return nil, err
	}
	if d.ID == 0 {
		return nil, nil
	}
	return &d, nil
}

func (r *repo) TransitionCAS(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.Status, patch domain.StatusPatch) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE disbursements SET
			status = ?,
			provider_reference = CASE WHEN ? <> '' THEN ? ELSE provider_reference END,
			error_code = ?,
			error_message = ?,
			retry_count = ?,
			next_retry_at = ?,
			completed_at = CASE WHEN ? IS NULL THEN completed_at ELSE ? END,
			updated_at = ?
		 WHERE id = ? AND status = ?`,
		patch.Status,
		patch.ProviderReference,
		patch.ProviderReference,
		patch.ErrorCode,
		patch.ErrorMessage,
		patch.RetryCount,
		patch.NextRetryAt,
		patch.CompletedAt,
		patch.CompletedAt,
		patch.UpdatedAt,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DueForRetry(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Disbursement, error) {
	var rows []domain.Disbursement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM disbursements
		 WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at
		 LIMIT ?`,
		domain.StatusFailed,
		now,
		limit,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) DueForReconcile(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Disbursement, error) {
	var rows []domain.Disbursement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM disbursements
		 WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at
		 LIMIT ?`,
		domain.StatusTimeout,
		now,
		limit,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) ExpiredPending(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Disbursement, error) {
	var rows []domain.Disbursement
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM disbursements
		 WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
		 ORDER BY expires_at
		 LIMIT ?`,
		domain.StatusPending,
		now,
		limit,
	).Scan(&rows).Error
	return rows, err
}

func (r *repo) AppendAttempt(ctx context.Context, db *gorm.DB, attempt *domain.Attempt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO disbursement_attempts (
			id, disbursement_id, status, provider_reference, http_status,
			request_payload, response_payload, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.DisbursementID,
		attempt.Status,
		attempt.ProviderReference,
		attempt.HTTPStatus,
		attempt.RequestPayload,
		attempt.ResponsePayload,
		attempt.DurationMs,
		attempt.CreatedAt,
	).Error
}

func (r *repo) ListAttempts(ctx context.Context, db *gorm.DB, disbursementID snowflake.ID) ([]domain.Attempt, error) {
	var rows []domain.Attempt
	err := db.WithContext(ctx).Raw(
		`SELECT id, disbursement_id, status, provider_reference, http_status,
			request_payload, response_payload, duration_ms, created_at
		 FROM disbursement_attempts
		 WHERE disbursement_id = ?
		 ORDER BY created_at`,
		disbursementID,
	).Scan(&rows).Error
	return rows, err
}
