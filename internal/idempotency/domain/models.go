package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Record caches the outcome of a completed request keyed by tenant and
// client-supplied idempotency key. Created once, read-only afterward,
// reaped after expiry.
type Record struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID     snowflake.ID   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_idempotency_tenant_key,priority:1"`
	Key          string         `json:"idempotency_key" gorm:"column:idempotency_key;type:text;not null;uniqueIndex:ux_idempotency_tenant_key,priority:2"`
	Method       string         `json:"method" gorm:"type:text;not null"`
	Path         string         `json:"path" gorm:"type:text;not null"`
	StatusCode   int            `json:"status_code" gorm:"not null"`
	ResponseBody datatypes.JSON `json:"response_body" gorm:"type:jsonb"`
	CreatedAt    time.Time      `json:"created_at" gorm:"not null"`
	ExpiresAt    time.Time      `json:"expires_at" gorm:"not null;index"`
}

func (Record) TableName() string { return "idempotency_records" }

// CachedResult is the replayable response for an idempotency hit.
type CachedResult struct {
	StatusCode int
	Body       []byte
}
