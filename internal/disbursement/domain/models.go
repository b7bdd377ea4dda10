package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Disbursement is one payout instruction from a tenant to a mobile-money
// wallet. Amounts are minor units (ngwee for ZMW).
type Disbursement struct {
	ID                snowflake.ID   `json:"id" gorm:"column:id;primaryKey"`
	TenantID          snowflake.ID   `json:"tenant_id" gorm:"column:tenant_id;uniqueIndex:ux_disbursements_tenant_external,priority:1"`
	ExternalID        string         `json:"external_id" gorm:"column:external_id;uniqueIndex:ux_disbursements_tenant_external,priority:2"`
	Amount            int64          `json:"amount" gorm:"column:amount"`
	Currency          string         `json:"currency" gorm:"column:currency"`
	PayeeMSISDN       string         `json:"payee_msisdn" gorm:"column:payee_msisdn"`
	Provider          string         `json:"provider" gorm:"column:provider"`
	Status            Status         `json:"status" gorm:"column:status;index:ix_disbursements_status_next_retry,priority:1"`
	ProviderReference string         `json:"provider_reference,omitempty" gorm:"column:provider_reference;index:ix_disbursements_provider_reference"`
	ErrorCode         string         `json:"error_code,omitempty" gorm:"column:error_code"`
	ErrorMessage      string         `json:"error_message,omitempty" gorm:"column:error_message"`
	RetryCount        int            `json:"retry_count" gorm:"column:retry_count"`
	NextRetryAt       *time.Time     `json:"next_retry_at,omitempty" gorm:"column:next_retry_at;index:ix_disbursements_status_next_retry,priority:2"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" gorm:"column:completed_at"`
	ExpiresAt         *time.Time     `json:"expires_at,omitempty" gorm:"column:expires_at"`
	CreatedAt         time.Time      `json:"created_at" gorm:"column:created_at"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"column:updated_at"`
}

func (Disbursement) TableName() string {
	return "disbursements"
}

// Attempt is one provider call made for a disbursement. Rows are
// append-only; nothing updates or deletes them.
type Attempt struct {
	ID                snowflake.ID   `json:"id" gorm:"column:id;primaryKey"`
	DisbursementID    snowflake.ID   `json:"disbursement_id" gorm:"column:disbursement_id;index:ix_disbursement_attempts_disbursement"`
	Status            Status         `json:"status" gorm:"column:status"`
	ProviderReference string         `json:"provider_reference,omitempty" gorm:"column:provider_reference"`
	HTTPStatus        int            `json:"http_status,omitempty" gorm:"column:http_status"`
	RequestPayload    datatypes.JSON `json:"request_payload,omitempty" gorm:"column:request_payload"`
	ResponsePayload   datatypes.JSON `json:"response_payload,omitempty" gorm:"column:response_payload"`
	DurationMs        int64          `json:"duration_ms" gorm:"column:duration_ms"`
	CreatedAt         time.Time      `json:"created_at" gorm:"column:created_at"`
}

func (Attempt) TableName() string {
	return "disbursement_attempts"
}
