package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProviderToken caches one bearer token per (tenant, provider). The row
// is replaced in place on every refresh.
type ProviderToken struct {
	ID           snowflake.ID `json:"id" gorm:"column:id;primaryKey"`
	TenantID     snowflake.ID `json:"tenant_id" gorm:"column:tenant_id;uniqueIndex:ux_provider_tokens_tenant_provider,priority:1"`
	Provider     string       `json:"provider" gorm:"column:provider;uniqueIndex:ux_provider_tokens_tenant_provider,priority:2"`
	AccessToken  string       `json:"-" gorm:"column:access_token"`
	RefreshToken string       `json:"-" gorm:"column:refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at" gorm:"column:expires_at"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"column:updated_at"`
}

func (ProviderToken) TableName() string {
	return "provider_tokens"
}
