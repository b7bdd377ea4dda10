package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kwachapay/kwachapay/internal/clock"
	disbursementdomain "github.com/kwachapay/kwachapay/internal/disbursement/domain"
	obsmetrics "github.com/kwachapay/kwachapay/internal/observability/metrics"
	"github.com/kwachapay/kwachapay/internal/webhook/domain"
	vaultdomain "github.com/kwachapay/kwachapay/internal/vault/domain"
)

const webhookSecretField = "webhook_secret"

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          domain.Repository
	Clock         clock.Clock
	Vault         vaultdomain.Service
	Disbursements disbursementdomain.Service
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	clock         clock.Clock
	vault         vaultdomain.Service
	disbursements disbursementdomain.Service
	metrics       *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("webhook.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		clock:         p.Clock,
		vault:         p.Vault,
		disbursements: p.Disbursements,
		metrics:       p.Metrics,
	}
}

// Ingest verifies, validates, dedupes and applies one provider event.
// Signature failures reject before anything is written; a transaction_id
// seen before short-circuits to SKIPPED without touching the state
// machine.
func (s *Service) Ingest(ctx context.Context, tenantID snowflake.ID, providerName string, rawBody []byte, signature string) (*domain.IngestResult, error) {
	providerName = strings.ToLower(strings.TrimSpace(providerName))

	creds, err := s.vault.Get(ctx, tenantID, providerName)
	if err != nil {
		// No credentials means no secret to verify against; fail closed.
		s.log.Warn("webhook secret unavailable",
			zap.String("tenant_id", tenantID.String()),
			zap.String("provider", providerName),
			zap.Error(err),
		)
		return nil, domain.ErrInvalidSignature
	}
	if err := VerifySignature(signature, rawBody, creds[webhookSecretField]); err != nil {
		s.recordEvent(ctx, providerName, "rejected_signature")
		return nil, err
	}

	event, err := ParseEvent(rawBody)
	if err != nil {
		s.recordEvent(ctx, providerName, "malformed")
		return nil, err
	}

	now := s.clock.Now()
	record := &domain.WebhookRecord{
		ID:            s.genID.Generate(),
		TenantID:      tenantID,
		Provider:      providerName,
		TransactionID: event.TransactionID,
		Payload:       datatypes.JSON(rawBody),
		Signature:     signature,
		Status:        domain.RecordPending,
		CreatedAt:     now,
	}
	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		if err := s.repo.MarkRedelivered(ctx, s.db, event.TransactionID); err != nil {
			s.log.Warn("redelivery count write failed",
				zap.String("transaction_id", event.TransactionID),
				zap.Error(err),
			)
		}
		s.log.Info("duplicate webhook delivery skipped",
			zap.String("provider", providerName),
			zap.String("transaction_id", event.TransactionID),
		)
		s.recordEvent(ctx, providerName, "skipped")
		return &domain.IngestResult{Status: domain.RecordSkipped, Event: event}, nil
	}

	result, applyErr := s.disbursements.ApplyWebhook(ctx, tenantID, providerName, disbursementdomain.WebhookEvent{
		TransactionID: event.TransactionID,
		Status:        event.Status,
		Reason:        event.Reason,
		ProviderRef:   event.ProviderRef,
	})

	outcome := domain.RecordProcessed
	resultStatus := ""
	errMsg := ""
	if applyErr != nil {
		outcome = domain.RecordFailed
		errMsg = applyErr.Error()
		if errors.Is(applyErr, disbursementdomain.ErrIllegalTransition) {
			// The event is acknowledged but deliberately not applied.
			outcome = domain.RecordSkipped
		}
	} else if result != nil {
		resultStatus = string(result.Status)
	}
	if err := s.repo.UpdateOutcome(ctx, s.db, record.ID, outcome, resultStatus, errMsg, s.clock.Now()); err != nil {
		s.log.Error("webhook outcome write failed",
			zap.String("transaction_id", event.TransactionID),
			zap.Error(err),
		)
	}
	s.recordEvent(ctx, providerName, strings.ToLower(string(outcome)))

	if applyErr != nil && !errors.Is(applyErr, disbursementdomain.ErrIllegalTransition) {
		return &domain.IngestResult{Status: outcome, Event: event}, applyErr
	}
	return &domain.IngestResult{Status: outcome, Event: event}, nil
}

func (s *Service) recordEvent(ctx context.Context, provider, status string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(ctx, provider, status)
	}
}
