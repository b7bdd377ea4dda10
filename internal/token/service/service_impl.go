package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	obsmetrics "github.com/kwachapay/kwachapay/internal/observability/metrics"
	"github.com/kwachapay/kwachapay/internal/provider"
	providerdomain "github.com/kwachapay/kwachapay/internal/provider/domain"
	"github.com/kwachapay/kwachapay/internal/token/domain"
	vaultdomain "github.com/kwachapay/kwachapay/internal/vault/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock
	Cfg      config.Config
	Vault    vaultdomain.Service
	Adapters *provider.Directory
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Manager struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	vault    vaultdomain.Service
	adapters *provider.Directory
	metrics  *obsmetrics.Metrics
	margin   time.Duration
	group    singleflight.Group
}

func New(p Params) domain.Manager {
	margin := p.Cfg.TokenRefreshMargin
	if margin <= 0 {
		margin = time.Minute
	}
	return &Manager{
		db:       p.DB,
		log:      p.Log.Named("token.manager"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    p.Clock,
		vault:    p.Vault,
		adapters: p.Adapters,
		metrics:  p.Metrics,
		margin:   margin,
	}
}

// GetValidToken returns a cached access token when it is still outside
// the refresh margin, otherwise refreshes it. Concurrent callers for the
// same (tenant, provider) pair share a single refresh.
func (m *Manager) GetValidToken(ctx context.Context, tenantID snowflake.ID, provider string) (string, error) {
	cached, err := m.repo.Find(ctx, m.db, tenantID, provider)
	if err != nil {
		return "", err
	}
	now := m.clock.Now()
	if cached != nil && cached.ExpiresAt.After(now.Add(m.margin)) {
		return cached.AccessToken, nil
	}

	key := fmt.Sprintf("%d:%s", tenantID, provider)
	result, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.refresh(ctx, tenantID, provider)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (m *Manager) refresh(ctx context.Context, tenantID snowflake.ID, providerName string) (string, error) {
	// Another caller may have finished first while this one waited on
	// the flight.
	cached, err := m.repo.Find(ctx, m.db, tenantID, providerName)
	if err != nil {
		return "", err
	}
	now := m.clock.Now()
	if cached != nil && cached.ExpiresAt.After(now.Add(m.margin)) {
		return cached.AccessToken, nil
	}

	adapter, err := m.adapters.Adapter(providerName)
	if err != nil {
		return "", err
	}
	creds, err := m.vault.Get(ctx, tenantID, providerName)
	if err != nil {
		return "", err
	}

	var fresh providerdomain.Token
	if cached != nil && cached.RefreshToken != "" {
		fresh, err = adapter.RefreshAccessToken(ctx, providerdomain.Credentials(creds), cached.RefreshToken)
	} else {
		fresh, err = adapter.RequestToken(ctx, providerdomain.Credentials(creds))
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if m.metrics != nil {
		m.metrics.RecordTokenRefresh(ctx, providerName, outcome)
	}
	if err != nil {
		if errors.Is(err, providerdomain.ErrProviderAuth) {
			m.log.Error("provider rejected credentials",
				zap.String("tenant_id", tenantID.String()),
				zap.String("provider", providerName),
			)
			return "", providerdomain.ErrProviderAuth
		}
		m.log.Warn("token refresh failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("provider", providerName),
			zap.Error(err),
		)
		return "", err
	}

	record := &domain.ProviderToken{
		ID:           m.genID.Generate(),
		TenantID:     tenantID,
		Provider:     providerName,
		AccessToken:  fresh.AccessToken,
		RefreshToken: fresh.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(fresh.ExpiresIn) * time.Second),
		UpdatedAt:    now,
	}
	if cached != nil {
		record.ID = cached.ID
	}
	// Persist before handing the token out so a crash after this point
	// never loses a token the caller already used.
	if err := m.repo.Upsert(ctx, m.db, record); err != nil {
		return "", err
	}
	return fresh.AccessToken, nil
}

// Invalidate drops the cached token, forcing a refresh on next use.
func (m *Manager) Invalidate(ctx context.Context, tenantID snowflake.ID, provider string) error {
	return m.repo.Delete(ctx, m.db, tenantID, provider)
}
