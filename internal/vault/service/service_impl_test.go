package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/vault/domain"
	"github.com/kwachapay/kwachapay/internal/vault/repository"
	"github.com/kwachapay/kwachapay/internal/vault/service"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_vault_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := []string{
		`CREATE TABLE provider_credentials (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			payload TEXT NOT NULL,
			key_version INT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_provider_credentials_tenant_provider ON provider_credentials(tenant_id, provider)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func newVaultCfg(t *testing.T, db *gorm.DB, cfg config.Config) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(12)
	require.NoError(t, err)
	return service.New(service.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Cfg:   cfg,
	})
}

func newVault(t *testing.T, db *gorm.DB, keyVersion int) domain.Service {
	t.Helper()
	return newVaultCfg(t, db, config.Config{
		VaultMasterKey:        "unit-test-master-key",
		VaultMasterKeyVersion: keyVersion,
	})
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newVault(t, db, 1)

	tenantID := snowflake.ID(2001)
	fields := map[string]string{
		"api_user":         "momo-user",
		"api_key":          "momo-secret-key",
		"subscription_key": "sub-123",
	}
	require.NoError(t, svc.Put(ctx, tenantID, "mtn", fields))

	got, err := svc.Get(ctx, tenantID, "mtn")
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestStoredPayloadIsNotPlaintext(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newVault(t, db, 1)

	tenantID := snowflake.ID(2002)
	secret := "super-secret-api-key-value"
	require.NoError(t, svc.Put(ctx, tenantID, "airtel", map[string]string{
		"client_id":     "client-1",
		"client_secret": secret,
	}))

	var stored string
	require.NoError(t, db.Raw(
		`SELECT payload FROM provider_credentials WHERE tenant_id = ? AND provider = ?`,
		tenantID, "airtel",
	).Scan(&stored).Error)

	require.NotEmpty(t, stored)
	assert.NotContains(t, stored, secret)
	assert.NotContains(t, stored, "client-1")
	assert.Contains(t, stored, "ciphertext")
}

func TestGetWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newVault(t, db, 1)

	_, err := svc.Get(ctx, snowflake.ID(2003), "mtn")
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestPutRejectsEmptyFields(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newVault(t, db, 1)

	err := svc.Put(ctx, snowflake.ID(2004), "mtn", map[string]string{"api_user": "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestPutOverwritesExisting(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newVault(t, db, 1)

	tenantID := snowflake.ID(2005)
	require.NoError(t, svc.Put(ctx, tenantID, "mtn", map[string]string{"api_user": "old", "api_key": "k1"}))
	require.NoError(t, svc.Put(ctx, tenantID, "mtn", map[string]string{"api_user": "new", "api_key": "k2"}))

	got, err := svc.Get(ctx, tenantID, "mtn")
	require.NoError(t, err)
	assert.Equal(t, "new", got["api_user"])

	var count int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM provider_credentials`).Scan(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRotateReWrapsStaleEnvelopes(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	v1 := newVault(t, db, 1)
	tenantID := snowflake.ID(2006)
	fields := map[string]string{"api_user": "u", "api_key": "k"}
	require.NoError(t, v1.Put(ctx, tenantID, "mtn", fields))

	v2 := newVault(t, db, 2)
	rotated, err := v2.Rotate(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)

	var keyVersion int
	require.NoError(t, db.Raw(
		`SELECT key_version FROM provider_credentials WHERE tenant_id = ?`, tenantID,
	).Scan(&keyVersion).Error)
	assert.Equal(t, 2, keyVersion)

	got, err := v2.Get(ctx, tenantID, "mtn")
	require.NoError(t, err)
	assert.Equal(t, fields, got)

	// Nothing left to rotate on a second pass.
	rotated, err = v2.Rotate(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 0, rotated)
}

func TestRotateAcrossChangedMasterKey(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	v1 := newVaultCfg(t, db, config.Config{VaultMasterKey: "old-master-key", VaultMasterKeyVersion: 1})
	tenantID := snowflake.ID(2008)
	fields := map[string]string{"api_user": "u", "api_key": "k"}
	require.NoError(t, v1.Put(ctx, tenantID, "mtn", fields))

	// New key material alone cannot open the old envelope.
	v2 := newVaultCfg(t, db, config.Config{VaultMasterKey: "new-master-key", VaultMasterKeyVersion: 2})
	_, err := v2.Get(ctx, tenantID, "mtn")
	require.Error(t, err)

	// Listing the retired key restores reads and lets rotation re-wrap.
	v3 := newVaultCfg(t, db, config.Config{
		VaultMasterKey:         "new-master-key",
		VaultMasterKeyPrevious: []string{"old-master-key"},
		VaultMasterKeyVersion:  2,
	})
	got, err := v3.Get(ctx, tenantID, "mtn")
	require.NoError(t, err)
	assert.Equal(t, fields, got)

	rotated, err := v3.Rotate(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)

	// The envelope now sits under the current key alone.
	got, err = v2.Get(ctx, tenantID, "mtn")
	require.NoError(t, err)
	assert.Equal(t, fields, got)
}

func TestProviderNameIsNormalized(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newVault(t, db, 1)

	tenantID := snowflake.ID(2007)
	require.NoError(t, svc.Put(ctx, tenantID, "  MTN  ", map[string]string{"api_user": "u", "api_key": "k"}))

	got, err := svc.Get(ctx, tenantID, strings.ToLower("mtn"))
	require.NoError(t, err)
	assert.Equal(t, "u", got["api_user"])
}
