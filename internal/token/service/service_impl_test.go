package service_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
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
	"github.com/kwachapay/kwachapay/internal/provider"
	providerdomain "github.com/kwachapay/kwachapay/internal/provider/domain"
	tokendomain "github.com/kwachapay/kwachapay/internal/token/domain"
	tokenrepo "github.com/kwachapay/kwachapay/internal/token/repository"
	tokenservice "github.com/kwachapay/kwachapay/internal/token/service"
	vaultrepo "github.com/kwachapay/kwachapay/internal/vault/repository"
	vaultservice "github.com/kwachapay/kwachapay/internal/vault/service"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_token_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE provider_tokens (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			expires_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_provider_tokens_tenant_provider ON provider_tokens(tenant_id, provider)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fixture struct {
	db       *gorm.DB
	fake     *clock.FakeClock
	manager  tokendomain.Manager
	tenantID snowflake.ID
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(13)
	require.NoError(t, err)

	cfg := config.Config{
		VaultMasterKey:        "token-test-master-key",
		VaultMasterKeyVersion: 1,
		TokenRefreshMargin:    time.Minute,
		ProviderTimeout:       2 * time.Second,
		MTNBaseURL:            baseURL,
	}
	vaultSvc := vaultservice.New(vaultservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  vaultrepo.Provide(),
		Clock: fake,
		Cfg:   cfg,
	})
	dir, err := provider.NewDirectory(cfg, provider.NewRegistry(), zap.NewNop())
	require.NoError(t, err)

	tenantID := snowflake.ID(3001)
	require.NoError(t, vaultSvc.Put(context.Background(), tenantID, "mtn", map[string]string{
		"api_user":         "user",
		"api_key":          "key",
		"subscription_key": "sub",
	}))

	manager := tokenservice.New(tokenservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Repo:     tokenrepo.Provide(),
		Clock:    fake,
		Cfg:      cfg,
		Vault:    vaultSvc,
		Adapters: dir,
	})
	return &fixture{db: db, fake: fake, manager: manager, tenantID: tenantID}
}

func newTokenServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/disbursement/token/", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"Bearer","expires_in":3600}`, n)
	})
	return httptest.NewServer(mux)
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	var hits atomic.Int64
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	tokens := make([]string, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.manager.GetValidToken(ctx, f.tenantID, "mtn")
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, tokens[0], tokens[i])
	}
	assert.Equal(t, int64(1), hits.Load())
}

func TestCachedTokenIsReused(t *testing.T) {
	var hits atomic.Int64
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	first, err := f.manager.GetValidToken(ctx, f.tenantID, "mtn")
	require.NoError(t, err)
	second, err := f.manager.GetValidToken(ctx, f.tenantID, "mtn")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), hits.Load())
}

func TestTokenInsideMarginIsRefreshed(t *testing.T) {
	var hits atomic.Int64
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	first, err := f.manager.GetValidToken(ctx, f.tenantID, "mtn")
	require.NoError(t, err)

	// 3600s lifetime, 60s margin: at +3595s the token is margin-stale.
	f.fake.Advance(3595 * time.Second)
	second, err := f.manager.GetValidToken(ctx, f.tenantID, "mtn")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int64(2), hits.Load())
}

func TestRefreshPersistsBeforeReturn(t *testing.T) {
	var hits atomic.Int64
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	got, err := f.manager.GetValidToken(ctx, f.tenantID, "mtn")
	require.NoError(t, err)

	var stored string
	require.NoError(t, f.db.Raw(
		`SELECT access_token FROM provider_tokens WHERE tenant_id = ? AND provider = ?`,
		f.tenantID, "mtn",
	).Scan(&stored).Error)
	assert.Equal(t, got, stored)
}

func TestAuthRejectionIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	f := newFixture(t, srv.URL)

	_, err := f.manager.GetValidToken(context.Background(), f.tenantID, "mtn")
	assert.ErrorIs(t, err, providerdomain.ErrProviderAuth)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	var hits atomic.Int64
	srv := newTokenServer(t, &hits)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	_, err := f.manager.GetValidToken(ctx, f.tenantID, "mtn")
	require.NoError(t, err)
	require.NoError(t, f.manager.Invalidate(ctx, f.tenantID, "mtn"))

	_, err = f.manager.GetValidToken(ctx, f.tenantID, "mtn")
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}
