package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RecordStatus string

const (
	RecordPending   RecordStatus = "PENDING"
	RecordProcessed RecordStatus = "PROCESSED"
	RecordFailed    RecordStatus = "FAILED"
	RecordSkipped   RecordStatus = "SKIPPED"
)

// WebhookRecord is the audit row for one received provider event.
// transaction_id is unique, which is what makes ingestion exactly-once.
type WebhookRecord struct {
	ID            snowflake.ID   `json:"id" gorm:"column:id;primaryKey"`
	TenantID      snowflake.ID   `json:"tenant_id" gorm:"column:tenant_id;index:ix_webhook_records_tenant"`
	Provider      string         `json:"provider" gorm:"column:provider"`
	TransactionID string         `json:"transaction_id" gorm:"column:transaction_id;uniqueIndex:ux_webhook_records_transaction"`
	Payload       datatypes.JSON `json:"payload" gorm:"column:payload"`
	Signature     string         `json:"-" gorm:"column:signature"`
	Status        RecordStatus   `json:"status" gorm:"column:status"`
	Result        string         `json:"result,omitempty" gorm:"column:result"`
	Error         string         `json:"error,omitempty" gorm:"column:error"`
	// RedeliveryCount tracks repeat deliveries of the same transaction_id;
	// the payload of the first delivery is the one kept.
	RedeliveryCount int        `json:"redelivery_count" gorm:"column:redelivery_count"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty" gorm:"column:processed_at"`
	CreatedAt       time.Time  `json:"created_at" gorm:"column:created_at"`
}

func (WebhookRecord) TableName() string {
	return "webhook_records"
}
