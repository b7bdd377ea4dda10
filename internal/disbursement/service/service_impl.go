package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/disbursement/domain"
	obsmetrics "github.com/kwachapay/kwachapay/internal/observability/metrics"
	"github.com/kwachapay/kwachapay/internal/provider"
	providerdomain "github.com/kwachapay/kwachapay/internal/provider/domain"
	tokendomain "github.com/kwachapay/kwachapay/internal/token/domain"
	vaultdomain "github.com/kwachapay/kwachapay/internal/vault/domain"
	"github.com/kwachapay/kwachapay/pkg/db"
)

var msisdnPattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Clock    clock.Clock
	Cfg      config.Config
	Vault    vaultdomain.Service
	Tokens   tokendomain.Manager
	Adapters *provider.Directory
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	clock    clock.Clock
	vault    vaultdomain.Service
	tokens   tokendomain.Manager
	adapters *provider.Directory
	metrics  *obsmetrics.Metrics

	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration
	pendingTTL  time.Duration
}

func New(p Params) domain.Service {
	maxRetries := p.Cfg.MaxRetryCount
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoffBase := p.Cfg.RetryBackoffBase
	if backoffBase <= 0 {
		backoffBase = 30 * time.Second
	}
	backoffCap := p.Cfg.RetryBackoffCap
	if backoffCap <= 0 {
		backoffCap = 30 * time.Minute
	}
	pendingTTL := p.Cfg.PendingTTL
	if pendingTTL <= 0 {
		pendingTTL = 24 * time.Hour
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("disbursement.service"),
		genID:       p.GenID,
		repo:        p.Repo,
		clock:       p.Clock,
		vault:       p.Vault,
		tokens:      p.Tokens,
		adapters:    p.Adapters,
		metrics:     p.Metrics,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		pendingTTL:  pendingTTL,
	}
}

func (s *Service) Create(ctx context.Context, tenantID snowflake.ID, req domain.CreateRequest) (*domain.Disbursement, bool, error) {
	if err := s.validate(req); err != nil {
		return nil, false, err
	}
	now := s.clock.Now()
	expiresAt := now.Add(s.pendingTTL)
	record := &domain.Disbursement{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		ExternalID:  req.ExternalID,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		PayeeMSISDN: req.PayeeMSISDN,
		Provider:    strings.ToLower(req.Provider),
		Status:      domain.StatusPending,
		ExpiresAt:   &expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.repo.Insert(ctx, s.db, record)
	if err == nil {
		return record, true, nil
	}
	if !db.IsDuplicateKeyErr(err) {
		return nil, false, err
	}

	existing, ferr := s.repo.FindByExternalID(ctx, s.db, tenantID, req.ExternalID)
	if ferr != nil {
		return nil, false, ferr
	}
	if existing == nil {
		return nil, false, err
	}
	if existing.Amount != record.Amount ||
		existing.Currency != record.Currency ||
		existing.PayeeMSISDN != record.PayeeMSISDN ||
		existing.Provider != record.Provider {
		return nil, false, domain.ErrExternalIDConflict
	}
	return existing, false, nil
}

// Submit drives one provider call for a disbursement in PENDING, FAILED
// or TIMEOUT. The row is moved to PROCESSING first so only one worker
// owns the attempt; losing that race is not an error.
func (s *Service) Submit(ctx context.Context, id snowflake.ID) (*domain.Disbursement, error) {
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}

	switch record.Status {
	case domain.StatusPending, domain.StatusFailed:
	case domain.StatusTimeout:
		// TIMEOUT rows must go through Reconcile so a possibly-executed
		// transfer is never sent twice.
		return nil, domain.ErrIllegalTransition
	default:
		return nil, domain.ErrIllegalTransition
	}

	// The retry count is bumped when a retry is scheduled, so a FAILED
	// row without one left is terminal.
	if record.Status == domain.StatusFailed && record.NextRetryAt == nil {
		return nil, domain.ErrRetriesExhausted
	}

	reference := uuid.NewString()
	now := s.clock.Now()
	ok, err := s.repo.TransitionCAS(ctx, s.db, record.ID, record.Status, domain.StatusPatch{
		Status:            domain.StatusProcessing,
		ProviderReference: reference,
		RetryCount:        record.RetryCount,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrConcurrentMutation
	}
	record.Status = domain.StatusProcessing
	record.ProviderReference = reference

	return s.transfer(ctx, record, reference)
}

func (s *Service) transfer(ctx context.Context, record *domain.Disbursement, reference string) (*domain.Disbursement, error) {
	adapter, err := s.adapters.Adapter(record.Provider)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.GetValidToken(ctx, record.TenantID, record.Provider)
	if err != nil {
		s.fail(ctx, record, err)
		return s.repo.FindByID(ctx, s.db, record.ID)
	}
	creds, err := s.vault.Get(ctx, record.TenantID, record.Provider)
	if err != nil {
		s.fail(ctx, record, err)
		return s.repo.FindByID(ctx, s.db, record.ID)
	}

	start := s.clock.Now()
	result, callErr := adapter.Transfer(ctx, accessToken, providerdomain.Credentials(creds), providerdomain.TransferRequest{
		Reference:   reference,
		Amount:      record.Amount,
		Currency:    record.Currency,
		PayeeMSISDN: record.PayeeMSISDN,
		ExternalID:  record.ExternalID,
	})
	elapsed := s.clock.Now().Sub(start)
	if s.metrics != nil {
		s.metrics.ObserveProviderCall(ctx, record.Provider, "transfer", elapsed)
	}
	s.logAttempt(ctx, record, reference, result, elapsed, callErr)

	if callErr != nil {
		s.fail(ctx, record, callErr)
		return s.repo.FindByID(ctx, s.db, record.ID)
	}

	now := s.clock.Now()
	switch result.Status {
	case providerdomain.StatusSuccessful:
		completed := now
		_, err = s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusProcessing, domain.StatusPatch{
			Status:            domain.StatusSuccess,
			ProviderReference: result.ProviderReference,
			RetryCount:        record.RetryCount,
			CompletedAt:       &completed,
			UpdatedAt:         now,
		})
		s.recordSubmission(ctx, record.Provider, "success")
	case providerdomain.StatusFailed, providerdomain.StatusRejected, providerdomain.StatusExpired:
		s.fail(ctx, record, &providerdomain.Error{
			Provider: record.Provider,
			Code:     "provider_declined",
			Message:  string(result.Status),
		})
	default:
		// Accepted asynchronously; the webhook or the reconcile sweep
		// settles the outcome.
		s.recordSubmission(ctx, record.Provider, "accepted")
		if result.ProviderReference != "" && result.ProviderReference != reference {
			_, err = s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusProcessing, domain.StatusPatch{
				Status:            domain.StatusProcessing,
				ProviderReference: result.ProviderReference,
				RetryCount:        record.RetryCount,
				UpdatedAt:         now,
			})
		}
	}
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, record.ID)
}

// fail settles a PROCESSING row after a failed attempt. Timeouts go to
// TIMEOUT for reconciliation; everything else goes to FAILED, with a
// retry scheduled while attempts remain and the failure is retryable.
func (s *Service) fail(ctx context.Context, record *domain.Disbursement, cause error) {
	now := s.clock.Now()
	patch := domain.StatusPatch{
		RetryCount:   record.RetryCount,
		ErrorMessage: cause.Error(),
		UpdatedAt:    now,
	}

	if errors.Is(cause, providerdomain.ErrProviderTimeout) {
		next := now.Add(s.backoff(record.RetryCount))
		patch.Status = domain.StatusTimeout
		patch.ErrorCode = "provider_timeout"
		patch.NextRetryAt = &next
		s.recordSubmission(ctx, record.Provider, "timeout")
	} else {
		patch.Status = domain.StatusFailed
		patch.ErrorCode = errorCode(cause)
		if providerdomain.Retryable(cause) && record.RetryCount < s.maxRetries {
			next := now.Add(s.backoff(record.RetryCount))
			patch.NextRetryAt = &next
			patch.RetryCount = record.RetryCount + 1
			if s.metrics != nil {
				s.metrics.RecordRetryScheduled(ctx, record.Provider)
			}
		}
		s.recordSubmission(ctx, record.Provider, "failed")
	}

	ok, err := s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusProcessing, patch)
	if err != nil {
		s.log.Error("failed to settle attempt outcome",
			zap.String("disbursement_id", record.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !ok {
		s.log.Warn("attempt outcome lost status race",
			zap.String("disbursement_id", record.ID.String()),
			zap.String("target_status", string(patch.Status)),
		)
	}
}

// backoff returns base·2^n capped.
func (s *Service) backoff(retryCount int) time.Duration {
	d := s.backoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= s.backoffCap {
			return s.backoffCap
		}
	}
	if d > s.backoffCap {
		return s.backoffCap
	}
	return d
}

func (s *Service) ApplyWebhook(ctx context.Context, tenantID snowflake.ID, providerName string, event domain.WebhookEvent) (*domain.Disbursement, error) {
	record, err := s.repo.FindByProviderReference(ctx, s.db, tenantID, event.TransactionID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record, err = s.repo.FindByExternalID(ctx, s.db, tenantID, event.TransactionID)
		if err != nil {
			return nil, err
		}
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if record.Provider != strings.ToLower(providerName) {
		return nil, domain.ErrNotFound
	}

	status, ok := providerdomain.KnownStatus(event.Status)
	if !ok {
		return nil, domain.ErrValidation
	}
	if status == providerdomain.StatusPending {
		// Interim notification, nothing to settle yet.
		return record, nil
	}

	target := s.webhookTarget(record.Status, status)
	if !domain.CanTransition(record.Status, target) {
		s.log.Warn("webhook transition rejected",
			zap.String("disbursement_id", record.ID.String()),
			zap.String("current_status", string(record.Status)),
			zap.String("target_status", string(target)),
			zap.String("transaction_id", event.TransactionID),
		)
		return record, domain.ErrIllegalTransition
	}

	now := s.clock.Now()
	patch := domain.StatusPatch{
		Status:            target,
		ProviderReference: event.ProviderRef,
		RetryCount:        record.RetryCount,
		UpdatedAt:         now,
	}
	switch target {
	case domain.StatusSuccess, domain.StatusRefunded:
		completed := now
		patch.CompletedAt = &completed
	case domain.StatusFailed:
		patch.ErrorCode = "provider_declined"
		patch.ErrorMessage = event.Reason
		if record.RetryCount < s.maxRetries {
			next := now.Add(s.backoff(record.RetryCount))
			patch.NextRetryAt = &next
			patch.RetryCount = record.RetryCount + 1
			if s.metrics != nil {
				s.metrics.RecordRetryScheduled(ctx, record.Provider)
			}
		}
	case domain.StatusBounced, domain.StatusRefundFailed:
		patch.ErrorCode = strings.ToLower(string(target))
		patch.ErrorMessage = event.Reason
	}

	applied, err := s.repo.TransitionCAS(ctx, s.db, record.ID, record.Status, patch)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, domain.ErrConcurrentMutation
	}
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(ctx, record.Provider, string(target))
	}
	return s.repo.FindByID(ctx, s.db, record.ID)
}

// webhookTarget maps a provider outcome onto the row's state machine,
// taking the current phase into account: a FAILED event during refund
// means the refund failed, after SUCCESS it means the payout bounced.
func (s *Service) webhookTarget(current domain.Status, status providerdomain.Status) domain.Status {
	switch current {
	case domain.StatusRefundProcessing:
		if status == providerdomain.StatusSuccessful {
			return domain.StatusRefunded
		}
		return domain.StatusRefundFailed
	case domain.StatusSuccess:
		if status == providerdomain.StatusSuccessful {
			// Duplicate confirmation; the self-transition is illegal and
			// gets acknowledged without applying.
			return domain.StatusSuccess
		}
		return domain.StatusBounced
	default:
		if status == providerdomain.StatusSuccessful {
			return domain.StatusSuccess
		}
		return domain.StatusFailed
	}
}

// Reconcile resolves a TIMEOUT row by asking the provider what actually
// happened. A transfer the provider never saw is resubmitted; a settled
// one has its outcome applied.
func (s *Service) Reconcile(ctx context.Context, id snowflake.ID) (*domain.Disbursement, error) {
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if record.Status != domain.StatusTimeout {
		return nil, domain.ErrReconcileNotTimeout
	}

	adapter, err := s.adapters.Adapter(record.Provider)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.GetValidToken(ctx, record.TenantID, record.Provider)
	if err != nil {
		return nil, err
	}
	creds, err := s.vault.Get(ctx, record.TenantID, record.Provider)
	if err != nil {
		return nil, err
	}

	start := s.clock.Now()
	result, err := adapter.QueryStatus(ctx, accessToken, providerdomain.Credentials(creds), record.ProviderReference)
	if s.metrics != nil {
		s.metrics.ObserveProviderCall(ctx, record.Provider, "query_status", s.clock.Now().Sub(start))
	}
	if err != nil {
		// Leave the row in TIMEOUT and push the next check out.
		now := s.clock.Now()
		next := now.Add(s.backoff(record.RetryCount))
		_, casErr := s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusTimeout, domain.StatusPatch{
			Status:       domain.StatusTimeout,
			ErrorCode:    "reconcile_failed",
			ErrorMessage: err.Error(),
			RetryCount:   record.RetryCount,
			NextRetryAt:  &next,
			UpdatedAt:    now,
		})
		if casErr != nil {
			return nil, casErr
		}
		return s.repo.FindByID(ctx, s.db, record.ID)
	}

	now := s.clock.Now()
	if !result.Found {
		// Provider never executed the transfer; a fresh submission with
		// a new reference is safe.
		if record.RetryCount >= s.maxRetries {
			_, err = s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusTimeout, domain.StatusPatch{
				Status:       domain.StatusFailed,
				ErrorCode:    "retries_exhausted",
				ErrorMessage: "transfer never reached provider",
				RetryCount:   record.RetryCount,
				UpdatedAt:    now,
			})
			if err != nil {
				return nil, err
			}
			return s.repo.FindByID(ctx, s.db, record.ID)
		}
		reference := uuid.NewString()
		ok, err := s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusTimeout, domain.StatusPatch{
			Status:            domain.StatusProcessing,
			ProviderReference: reference,
			RetryCount:        record.RetryCount + 1,
			UpdatedAt:         now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.ErrConcurrentMutation
		}
		record.Status = domain.StatusProcessing
		record.ProviderReference = reference
		record.RetryCount++
		return s.transfer(ctx, record, reference)
	}

	switch result.Status {
	case providerdomain.StatusSuccessful:
		completed := now
		_, err = s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusTimeout, domain.StatusPatch{
			Status:            domain.StatusSuccess,
			ProviderReference: firstNonEmpty(result.ProviderReference, record.ProviderReference),
			RetryCount:        record.RetryCount,
			CompletedAt:       &completed,
			UpdatedAt:         now,
		})
	case providerdomain.StatusFailed, providerdomain.StatusRejected, providerdomain.StatusExpired:
		patch := domain.StatusPatch{
			Status:       domain.StatusFailed,
			ErrorCode:    "provider_declined",
			ErrorMessage: result.Reason,
			RetryCount:   record.RetryCount,
			UpdatedAt:    now,
		}
		if record.RetryCount < s.maxRetries {
			next := now.Add(s.backoff(record.RetryCount))
			patch.NextRetryAt = &next
			patch.RetryCount = record.RetryCount + 1
		}
		_, err = s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusTimeout, patch)
	default:
		// Still pending on the provider side; check again later.
		next := now.Add(s.backoff(record.RetryCount))
		_, err = s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusTimeout, domain.StatusPatch{
			Status:      domain.StatusTimeout,
			RetryCount:  record.RetryCount,
			NextRetryAt: &next,
			UpdatedAt:   now,
		})
	}
	if err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, record.ID)
}

func (s *Service) Refund(ctx context.Context, tenantID snowflake.ID, externalID, reason string) (*domain.Disbursement, error) {
	record, err := s.repo.FindByExternalID(ctx, s.db, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if record.Status != domain.StatusSuccess {
		return nil, domain.ErrNotRefundable
	}

	now := s.clock.Now()
	ok, err := s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusSuccess, domain.StatusPatch{
		Status:     domain.StatusRefundProcessing,
		RetryCount: record.RetryCount,
		UpdatedAt:  now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrConcurrentMutation
	}

	adapter, err := s.adapters.Adapter(record.Provider)
	if err != nil {
		return nil, err
	}
	accessToken, err := s.tokens.GetValidToken(ctx, record.TenantID, record.Provider)
	if err != nil {
		s.settleRefund(ctx, record, domain.StatusRefundFailed, "", err.Error())
		return s.repo.FindByID(ctx, s.db, record.ID)
	}
	creds, err := s.vault.Get(ctx, record.TenantID, record.Provider)
	if err != nil {
		s.settleRefund(ctx, record, domain.StatusRefundFailed, "", err.Error())
		return s.repo.FindByID(ctx, s.db, record.ID)
	}

	start := s.clock.Now()
	result, callErr := adapter.Refund(ctx, accessToken, providerdomain.Credentials(creds), providerdomain.RefundRequest{
		Reference:         uuid.NewString(),
		ProviderReference: record.ProviderReference,
		Amount:            record.Amount,
		Currency:          record.Currency,
		Reason:            reason,
	})
	elapsed := s.clock.Now().Sub(start)
	if s.metrics != nil {
		s.metrics.ObserveProviderCall(ctx, record.Provider, "refund", elapsed)
	}
	s.logAttempt(ctx, record, record.ProviderReference, result, elapsed, callErr)

	if callErr != nil {
		s.settleRefund(ctx, record, domain.StatusRefundFailed, "refund_failed", callErr.Error())
		return s.repo.FindByID(ctx, s.db, record.ID)
	}
	if result.Status == providerdomain.StatusSuccessful {
		s.settleRefund(ctx, record, domain.StatusRefunded, "", "")
	}
	// Pending refunds stay in REFUND_PROCESSING until the webhook lands.
	return s.repo.FindByID(ctx, s.db, record.ID)
}

func (s *Service) settleRefund(ctx context.Context, record *domain.Disbursement, target domain.Status, code, message string) {
	now := s.clock.Now()
	patch := domain.StatusPatch{
		Status:       target,
		ErrorCode:    code,
		ErrorMessage: message,
		RetryCount:   record.RetryCount,
		UpdatedAt:    now,
	}
	if target == domain.StatusRefunded {
		completed := now
		patch.CompletedAt = &completed
	}
	if _, err := s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusRefundProcessing, patch); err != nil {
		s.log.Error("failed to settle refund outcome",
			zap.String("disbursement_id", record.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) GetByExternalID(ctx context.Context, tenantID snowflake.ID, externalID string) (*domain.Disbursement, error) {
	record, err := s.repo.FindByExternalID(ctx, s.db, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	return record, nil
}

// Expire fails a PENDING row that sat past its expiry without ever being
// submitted.
func (s *Service) Expire(ctx context.Context, id snowflake.ID) error {
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if record == nil || record.Status != domain.StatusPending {
		return nil
	}
	now := s.clock.Now()
	_, err = s.repo.TransitionCAS(ctx, s.db, record.ID, domain.StatusPending, domain.StatusPatch{
		Status:       domain.StatusFailed,
		ErrorCode:    "expired",
		ErrorMessage: "disbursement expired before submission",
		RetryCount:   record.RetryCount,
		UpdatedAt:    now,
	})
	return err
}

func (s *Service) validate(req domain.CreateRequest) error {
	switch {
	case strings.TrimSpace(req.ExternalID) == "":
		return domain.ErrValidation
	case req.Amount <= 0:
		return domain.ErrValidation
	case len(req.Currency) != 3:
		return domain.ErrValidation
	case !msisdnPattern.MatchString(req.PayeeMSISDN):
		return domain.ErrValidation
	case !s.adapters.Exists(req.Provider):
		return providerdomain.ErrUnknownProvider
	}
	return nil
}

func (s *Service) logAttempt(ctx context.Context, record *domain.Disbursement, reference string, result providerdomain.TransferResult, elapsed time.Duration, callErr error) {
	attempt := &domain.Attempt{
		ID:                s.genID.Generate(),
		DisbursementID:    record.ID,
		Status:            domain.StatusProcessing,
		ProviderReference: reference,
		HTTPStatus:        result.HTTPStatus,
		DurationMs:        elapsed.Milliseconds(),
		CreatedAt:         s.clock.Now(),
	}
	if len(result.RawRequest) > 0 {
		attempt.RequestPayload = datatypes.JSON(result.RawRequest)
	}
	if len(result.RawResponse) > 0 {
		attempt.ResponsePayload = datatypes.JSON(result.RawResponse)
	}
	if callErr != nil {
		attempt.Status = domain.StatusFailed
	}
	if err := s.repo.AppendAttempt(ctx, s.db, attempt); err != nil {
		s.log.Warn("attempt log write failed",
			zap.String("disbursement_id", record.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) recordSubmission(ctx context.Context, provider, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordSubmission(ctx, provider, outcome)
	}
}

func errorCode(err error) string {
	var pe *providerdomain.Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, providerdomain.ErrProviderAuth) {
		return "provider_auth_rejected"
	}
	return "submit_failed"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
