package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/idempotency/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
	Cfg   config.Config
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
	clock clock.Clock
	ttl   time.Duration
}

func New(p Params) domain.Service {
	ttl := p.Cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("idempotency.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
		ttl:   ttl,
	}
}

func (s *Service) Lookup(ctx context.Context, tenantID snowflake.ID, key, method, path string) (*domain.CachedResult, error) {
	record, err := s.repo.Find(ctx, s.db, tenantID, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}
	if !record.ExpiresAt.After(s.clock.Now()) {
		return nil, nil
	}
	if record.Method != method || record.Path != path {
		return nil, domain.ErrKeyConflict
	}
	return &domain.CachedResult{
		StatusCode: record.StatusCode,
		Body:       []byte(record.ResponseBody),
	}, nil
}

// Store caches a completed response. Persistence failures are logged and
// swallowed: the response has already been computed and must still be
// delivered to the client.
func (s *Service) Store(ctx context.Context, tenantID snowflake.ID, key, method, path string, statusCode int, body []byte) {
	now := s.clock.Now()
	record := domain.Record{
		ID:           s.genID.Generate(),
		TenantID:     tenantID,
		Key:          key,
		Method:       method,
		Path:         path,
		StatusCode:   statusCode,
		ResponseBody: datatypes.JSON(body),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.repo.Upsert(ctx, s.db, &record); err != nil {
		s.log.Warn("idempotency cache write failed",
			zap.String("tenant_id", tenantID.String()),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
	}
}

func (s *Service) Sweep(ctx context.Context, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	return s.repo.DeleteExpired(ctx, s.db, now, limit)
}
