package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrNotFound            = errors.New("disbursement_not_found")
	ErrExternalIDConflict  = errors.New("external_id_conflict")
	ErrIllegalTransition   = errors.New("illegal_status_transition")
	ErrNotRefundable       = errors.New("disbursement_not_refundable")
	ErrRetriesExhausted    = errors.New("retries_exhausted")
	ErrValidation          = errors.New("invalid_disbursement_request")
	ErrConcurrentMutation  = errors.New("concurrent_status_mutation")
	ErrReconcileNotTimeout = errors.New("reconcile_requires_timeout_status")
)

// StatusPatch carries the fields a CAS transition writes alongside the
// new status.
type StatusPatch struct {
	Status            Status
	ProviderReference string
	ErrorCode         string
	ErrorMessage      string
	RetryCount        int
	NextRetryAt       *time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, d *Disbursement) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Disbursement, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, externalID string) (*Disbursement, error)
	FindByProviderReference(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, reference string) (*Disbursement, error)
	// TransitionCAS applies patch only while the row still holds from;
	// false means the precondition no longer held.
	TransitionCAS(ctx context.Context, db *gorm.DB, id snowflake.ID, from Status, patch StatusPatch) (bool, error)
	DueForRetry(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Disbursement, error)
	DueForReconcile(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Disbursement, error)
	ExpiredPending(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Disbursement, error)
	AppendAttempt(ctx context.Context, db *gorm.DB, attempt *Attempt) error
	ListAttempts(ctx context.Context, db *gorm.DB, disbursementID snowflake.ID) ([]Attempt, error)
}

type CreateRequest struct {
	ExternalID  string `json:"external_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	PayeeMSISDN string `json:"payee_msisdn" binding:"required"`
	Provider    string `json:"provider" binding:"required"`
	Note        string `json:"note,omitempty"`
}

type WebhookEvent struct {
	TransactionID string
	Status        string
	Reason        string
	ProviderRef   string
}

type Service interface {
	// Create registers a new disbursement in PENDING. Re-submitting an
	// externalId the tenant already used returns the existing record
	// when the payload matches, ErrExternalIDConflict when it does not.
	Create(ctx context.Context, tenantID snowflake.ID, req CreateRequest) (*Disbursement, bool, error)
	Submit(ctx context.Context, id snowflake.ID) (*Disbursement, error)
	ApplyWebhook(ctx context.Context, tenantID snowflake.ID, provider string, event WebhookEvent) (*Disbursement, error)
	Reconcile(ctx context.Context, id snowflake.ID) (*Disbursement, error)
	Refund(ctx context.Context, tenantID snowflake.ID, externalID, reason string) (*Disbursement, error)
	GetByExternalID(ctx context.Context, tenantID snowflake.ID, externalID string) (*Disbursement, error)
	Expire(ctx context.Context, id snowflake.ID) error
}
