package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kwachapay/kwachapay/internal/clock"
	disbursementdomain "github.com/kwachapay/kwachapay/internal/disbursement/domain"
	idempotencydomain "github.com/kwachapay/kwachapay/internal/idempotency/domain"
	"github.com/kwachapay/kwachapay/internal/locks"
	obsmetrics "github.com/kwachapay/kwachapay/internal/observability/metrics"
	vaultdomain "github.com/kwachapay/kwachapay/internal/vault/domain"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	Clock           clock.Clock
	DisbursementSvc disbursementdomain.Service
	DisbursementRep disbursementdomain.Repository
	IdempotencySvc  idempotencydomain.Service
	VaultSvc        vaultdomain.Service
	Locker          *locks.Locker `optional:"true"`
	Config          Config        `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	clock           clock.Clock
	disbursementSvc disbursementdomain.Service
	disbursementRep disbursementdomain.Repository
	idempotencySvc  idempotencydomain.Service
	vaultSvc        vaultdomain.Service
	locker          *locks.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.DisbursementSvc == nil || p.DisbursementRep == nil || p.IdempotencySvc == nil || p.VaultSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		clock:           p.Clock,
		disbursementSvc: p.DisbursementSvc,
		disbursementRep: p.DisbursementRep,
		idempotencySvc:  p.IdempotencySvc,
		vaultSvc:        p.VaultSvc,
		locker:          p.Locker,
	}, nil
}

// runJob wraps one sweep with a timeout, a distributed lock and metrics.
// A lock held elsewhere means another instance owns the sweep this tick.
func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	lockKey := "kwachapay:scheduler:" + name
	token, acquired, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	if err != nil {
		s.log.Warn("job lock attempt failed", zap.String("job", name), zap.Error(err))
		return nil
	}
	if !acquired {
		s.log.Debug("job lock held elsewhere, skipping", zap.String("job", name))
		return nil
	}
	defer func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
			s.log.Warn("job lock release failed", zap.String("job", name), zap.Error(err))
		}
	}()

	start := s.clock.Now()
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err = fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"retry_sweep", s.RetrySweepJob},
		{"reconcile_sweep", s.ReconcileSweepJob},
		{"expire_sweep", s.ExpireSweepJob},
		{"idempotency_reap", s.IdempotencyReapJob},
		{"vault_rotate", s.VaultRotateJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		name, run := job.Name, job.Run
		err = errors.Join(err, s.runJob(parent, name, run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RetrySweepJob resubmits FAILED disbursements whose backoff has elapsed.
func (s *Scheduler) RetrySweepJob(ctx context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	processed := 0

	rows, err := s.disbursementRep.DueForRetry(ctx, s.db, s.clock.Now(), s.cfg.RetryBatchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if _, err := s.disbursementSvc.Submit(ctx, row.ID); err != nil {
			if errors.Is(err, disbursementdomain.ErrConcurrentMutation) ||
				errors.Is(err, disbursementdomain.ErrIllegalTransition) {
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("retry submission failed",
				zap.String("disbursement_id", row.ID.String()),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	schedMetrics.AddBatchProcessed("retry_sweep", processed)
	return jobErr
}

// ReconcileSweepJob settles TIMEOUT disbursements against the provider.
func (s *Scheduler) ReconcileSweepJob(ctx context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	processed := 0

	rows, err := s.disbursementRep.DueForReconcile(ctx, s.db, s.clock.Now(), s.cfg.ReconcileBatchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if _, err := s.disbursementSvc.Reconcile(ctx, row.ID); err != nil {
			if errors.Is(err, disbursementdomain.ErrConcurrentMutation) ||
				errors.Is(err, disbursementdomain.ErrReconcileNotTimeout) {
				continue
			}
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("reconcile failed",
				zap.String("disbursement_id", row.ID.String()),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	schedMetrics.AddBatchProcessed("reconcile_sweep", processed)
	return jobErr
}

// ExpireSweepJob fails PENDING disbursements that outlived their expiry.
func (s *Scheduler) ExpireSweepJob(ctx context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	var jobErr error
	processed := 0

	rows, err := s.disbursementRep.ExpiredPending(ctx, s.db, s.clock.Now(), s.cfg.ExpireBatchSize)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if err := s.disbursementSvc.Expire(ctx, row.ID); err != nil {
			jobErr = errors.Join(jobErr, err)
			continue
		}
		processed++
	}
	schedMetrics.AddBatchProcessed("expire_sweep", processed)
	return jobErr
}

// IdempotencyReapJob deletes expired idempotency records in batches.
func (s *Scheduler) IdempotencyReapJob(ctx context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	total := int64(0)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		deleted, err := s.idempotencySvc.Sweep(ctx, s.clock.Now(), s.cfg.ReapBatchSize)
		if err != nil {
			return err
		}
		total += deleted
		if deleted == 0 {
			break
		}
	}
	schedMetrics.AddBatchProcessed("idempotency_reap", int(total))
	return nil
}

// VaultRotateJob re-wraps credential envelopes still sealed under an old
// master key version.
func (s *Scheduler) VaultRotateJob(ctx context.Context) error {
	schedMetrics := obsmetrics.Scheduler()
	rotated, err := s.vaultSvc.Rotate(ctx, s.cfg.RotateBatchSize)
	if err != nil {
		return err
	}
	schedMetrics.AddBatchProcessed("vault_rotate", rotated)
	return nil
}
