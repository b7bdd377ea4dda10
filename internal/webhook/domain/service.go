package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature = errors.New("invalid_webhook_signature")
	ErrMalformedPayload = errors.New("malformed_webhook_payload")
	ErrDuplicateEvent   = errors.New("duplicate_webhook_event")
)

// Event is the provider-neutral shape extracted from a webhook body.
type Event struct {
	TransactionID string
	Status        string
	Reason        string
	ProviderRef   string
}

type Repository interface {
	// Insert writes the audit row; false means another delivery with the
	// same transaction_id already exists.
	Insert(ctx context.Context, db *gorm.DB, record *WebhookRecord) (bool, error)
	UpdateOutcome(ctx context.Context, db *gorm.DB, id snowflake.ID, status RecordStatus, result, errMsg string, processedAt time.Time) error
	// MarkRedelivered bumps the redelivery counter on the original row.
	MarkRedelivered(ctx context.Context, db *gorm.DB, transactionID string) error
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID string) (*WebhookRecord, error)
}

type IngestResult struct {
	Status RecordStatus
	Event  Event
}

type Service interface {
	Ingest(ctx context.Context, tenantID snowflake.ID, provider string, rawBody []byte, signature string) (*IngestResult, error)
}
