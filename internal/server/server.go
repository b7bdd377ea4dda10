package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/disbursement"
	disbursementdomain "github.com/kwachapay/kwachapay/internal/disbursement/domain"
	"github.com/kwachapay/kwachapay/internal/idempotency"
	idempotencydomain "github.com/kwachapay/kwachapay/internal/idempotency/domain"
	"github.com/kwachapay/kwachapay/internal/observability"
	obsmiddleware "github.com/kwachapay/kwachapay/internal/observability/logger"
	obsmetrics "github.com/kwachapay/kwachapay/internal/observability/metrics"
	obstracing "github.com/kwachapay/kwachapay/internal/observability/tracing"
	"github.com/kwachapay/kwachapay/internal/provider"
	"github.com/kwachapay/kwachapay/internal/ratelimit"
	"github.com/kwachapay/kwachapay/internal/token"
	tokendomain "github.com/kwachapay/kwachapay/internal/token/domain"
	"github.com/kwachapay/kwachapay/internal/vault"
	vaultdomain "github.com/kwachapay/kwachapay/internal/vault/domain"
	"github.com/kwachapay/kwachapay/internal/webhook"
	webhookdomain "github.com/kwachapay/kwachapay/internal/webhook/domain"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	provider.Module,
	vault.Module,
	token.Module,
	idempotency.Module,
	disbursement.Module,
	webhook.Module,
	ratelimit.Module,
	fx.Provide(NewServer),
	fx.Invoke(RegisterRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, r *gin.Engine) {
	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	disbursementSvc disbursementdomain.Service
	idempotencySvc  idempotencydomain.Service
	webhookSvc      webhookdomain.Service
	vaultSvc        vaultdomain.Service
	tokenMgr        tokendomain.Manager
	adapters        *provider.Directory
	limiter         *ratelimit.RequestLimiter
	metrics         *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Engine          *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	DisbursementSvc disbursementdomain.Service
	IdempotencySvc  idempotencydomain.Service
	WebhookSvc      webhookdomain.Service
	VaultSvc        vaultdomain.Service
	TokenMgr        tokendomain.Manager
	Adapters        *provider.Directory
	Limiter         *ratelimit.RequestLimiter `optional:"true"`
	Metrics         *obsmetrics.Metrics       `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Engine,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		disbursementSvc: p.DisbursementSvc,
		idempotencySvc:  p.IdempotencySvc,
		webhookSvc:      p.WebhookSvc,
		vaultSvc:        p.VaultSvc,
		tokenMgr:        p.TokenMgr,
		adapters:        p.Adapters,
		limiter:         p.Limiter,
		metrics:         p.Metrics,
	}
}

func RegisterRoutes(s *Server) {
	v1 := s.engine.Group("/v1")
	v1.Use(TenantMiddleware())
	v1.Use(s.RateLimitMiddleware())

	v1.POST("/disbursements", s.IdempotencyMiddleware(), s.createDisbursement)
	v1.GET("/disbursements/:external_id", s.getDisbursement)
	v1.POST("/disbursements/:external_id/refund", s.IdempotencyMiddleware(), s.refundDisbursement)
	v1.GET("/balance", s.getBalance)
	v1.PUT("/credentials/:provider", s.putCredentials)
	v1.POST("/webhooks/:provider", s.receiveWebhook)
}
