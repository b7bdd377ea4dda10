package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Credential stores one tenant's provider credentials with the sensitive
// payload envelope-encrypted. Plaintext exists only inside the vault
// service, for the duration of a single call.
type Credential struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID   snowflake.ID   `json:"tenant_id" gorm:"not null;uniqueIndex:ux_provider_credentials_tenant_provider,priority:1"`
	Provider   string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_provider_credentials_tenant_provider,priority:2"`
	Payload    datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	KeyVersion int            `json:"key_version" gorm:"not null"`
	IsActive   bool           `json:"is_active" gorm:"not null;default:true"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"not null"`
}

func (Credential) TableName() string { return "provider_credentials" }
