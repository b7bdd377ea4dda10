package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Find(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, provider string) (*Credential, error)
	FindStale(ctx context.Context, db *gorm.DB, currentKeyVersion int, limit int) ([]Credential, error)
	Upsert(ctx context.Context, db *gorm.DB, credential *Credential) error
}

// Service is the only component allowed to see decrypted credentials.
type Service interface {
	Put(ctx context.Context, tenantID snowflake.ID, provider string, fields map[string]string) error
	Get(ctx context.Context, tenantID snowflake.ID, provider string) (map[string]string, error)
	// Rotate re-wraps stored data keys under the current master key and
	// returns how many records were rewritten.
	Rotate(ctx context.Context, limit int) (int, error)
}

var (
	ErrNoCredentials        = errors.New("no_active_credentials")
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrInvalidCredentials   = errors.New("invalid_credentials")
	ErrEncryptionKeyMissing = errors.New("encryption_key_missing")
)
