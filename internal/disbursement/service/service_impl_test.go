package service_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
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
	"github.com/kwachapay/kwachapay/internal/disbursement/domain"
	disbursementrepo "github.com/kwachapay/kwachapay/internal/disbursement/repository"
	disbursementservice "github.com/kwachapay/kwachapay/internal/disbursement/service"
	"github.com/kwachapay/kwachapay/internal/provider"
	tokenrepo "github.com/kwachapay/kwachapay/internal/token/repository"
	tokenservice "github.com/kwachapay/kwachapay/internal/token/service"
	vaultrepo "github.com/kwachapay/kwachapay/internal/vault/repository"
	vaultservice "github.com/kwachapay/kwachapay/internal/vault/service"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_disb_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE disbursements (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			external_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			payee_msisdn TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			provider_reference TEXT,
			error_code TEXT,
			error_message TEXT,
			retry_count INT NOT NULL DEFAULT 0,
			next_retry_at DATETIME,
			completed_at DATETIME,
			expires_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_disbursements_tenant_external ON disbursements(tenant_id, external_id)`,
		`CREATE TABLE disbursement_attempts (
			id BIGINT PRIMARY KEY,
			disbursement_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			provider_reference TEXT,
			http_status INT,
			request_payload TEXT,
			response_payload TEXT,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

// momoStub fakes the MoMo disbursement API: token, transfer, status.
type momoStub struct {
	transferStatus int
	transferHits   atomic.Int64
	statusBody     string
	statusCode     int
	transferDelay  time.Duration
}

func (m *momoStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/disbursement/token/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/disbursement/v1_0/transfer/", func(w http.ResponseWriter, r *http.Request) {
		// status query
		if m.statusCode == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.statusCode)
		fmt.Fprint(w, m.statusBody)
	})
	mux.HandleFunc("/disbursement/v1_0/refund", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/disbursement/v1_0/transfer", func(w http.ResponseWriter, r *http.Request) {
		m.transferHits.Add(1)
		if m.transferDelay > 0 {
			time.Sleep(m.transferDelay)
		}
		w.WriteHeader(m.transferStatus)
	})
	return httptest.NewServer(mux)
}

type fixture struct {
	db       *gorm.DB
	fake     *clock.FakeClock
	svc      domain.Service
	repo     domain.Repository
	tenantID snowflake.ID
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()
	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(14)
	require.NoError(t, err)

	cfg := config.Config{
		VaultMasterKey:        "disb-test-master-key",
		VaultMasterKeyVersion: 1,
		TokenRefreshMargin:    time.Minute,
		ProviderTimeout:       300 * time.Millisecond,
		MTNBaseURL:            baseURL,
		MaxRetryCount:         3,
		RetryBackoffBase:      30 * time.Second,
		RetryBackoffCap:       30 * time.Minute,
		PendingTTL:            24 * time.Hour,
	}

	vaultSvc := vaultservice.New(vaultservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: vaultrepo.Provide(), Clock: fake, Cfg: cfg,
	})
	dir, err := provider.NewDirectory(cfg, provider.NewRegistry(), zap.NewNop())
	require.NoError(t, err)
	tokenMgr := tokenservice.New(tokenservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: tokenrepo.Provide(), Clock: fake, Cfg: cfg,
		Vault: vaultSvc, Adapters: dir,
	})

	tenantID := snowflake.ID(4001)
	require.NoError(t, vaultSvc.Put(context.Background(), tenantID, "mtn", map[string]string{
		"api_user": "u", "api_key": "k", "subscription_key": "s",
	}))

	repo := disbursementrepo.Provide()
	svc := disbursementservice.New(disbursementservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: repo, Clock: fake, Cfg: cfg,
		Vault: vaultSvc, Tokens: tokenMgr, Adapters: dir,
	})
	return &fixture{db: db, fake: fake, svc: svc, repo: repo, tenantID: tenantID}
}

func createRequest(externalID string) domain.CreateRequest {
	return domain.CreateRequest{
		ExternalID:  externalID,
		Amount:      150_00,
		Currency:    "ZMW",
		PayeeMSISDN: "260971234567",
		Provider:    "mtn",
	}
}

func TestCreateAndSubmitAccepted(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, created, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-100"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusPending, record.Status)

	submitted, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, submitted.Status)
	assert.NotEmpty(t, submitted.ProviderReference)
	assert.Equal(t, int64(1), stub.transferHits.Load())

	attempts, err := f.repo.ListAttempts(ctx, f.db, record.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestCreateIsIdempotentOnExternalID(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	first, created, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-101"))
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-101"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateConflictingPayloadRejected(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-102"))
	require.NoError(t, err)

	conflicting := createRequest("ord-102")
	conflicting.Amount = 999_99
	_, _, err = f.svc.Create(ctx, f.tenantID, conflicting)
	assert.ErrorIs(t, err, domain.ErrExternalIDConflict)
}

func TestCreateValidation(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	bad := createRequest("ord-103")
	bad.Amount = 0
	_, _, err := f.svc.Create(ctx, f.tenantID, bad)
	assert.ErrorIs(t, err, domain.ErrValidation)

	bad = createRequest("ord-104")
	bad.PayeeMSISDN = "not-a-msisdn"
	_, _, err = f.svc.Create(ctx, f.tenantID, bad)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestProviderErrorSchedulesRetry(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusInternalServerError}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-105"))
	require.NoError(t, err)

	// Scheduling the retry is what bumps the count.
	failed, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.NextRetryAt)
	assert.WithinDuration(t, f.fake.Now().Add(30*time.Second), *failed.NextRetryAt, time.Second)

	stub.transferStatus = http.StatusAccepted
	f.fake.Advance(time.Minute)
	retried, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)
}

func TestRetriesExhaustedIsTerminal(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusInternalServerError}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-106"))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		current, err := f.svc.Submit(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, current.Status)
		f.fake.Advance(time.Hour)
	}

	_, err = f.svc.Submit(ctx, record.ID)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)

	final, err := f.svc.GetByExternalID(ctx, f.tenantID, "ord-106")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	assert.Nil(t, final.NextRetryAt)
}

func TestTimeoutGoesToTimeoutStatus(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted, transferDelay: 800 * time.Millisecond}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-107"))
	require.NoError(t, err)

	timedOut, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTimeout, timedOut.Status)
	assert.Equal(t, "provider_timeout", timedOut.ErrorCode)
	assert.NotNil(t, timedOut.NextRetryAt)

	// TIMEOUT must never be resubmitted blindly.
	_, err = f.svc.Submit(ctx, record.ID)
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)
}

func TestReconcileResubmitsWhenProviderHasNoRecord(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted, transferDelay: 800 * time.Millisecond}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-108"))
	require.NoError(t, err)
	timedOut, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusTimeout, timedOut.Status)
	firstRef := timedOut.ProviderReference

	// Provider recovered; the stub now answers instantly and the status
	// query reports no record of the original reference.
	stub.transferDelay = 0
	reconciled, err := f.svc.Reconcile(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, reconciled.Status)
	assert.NotEqual(t, firstRef, reconciled.ProviderReference)
	assert.Equal(t, 1, reconciled.RetryCount)
}

func TestReconcileAppliesProviderOutcome(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted, transferDelay: 800 * time.Millisecond}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-109"))
	require.NoError(t, err)
	timedOut, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusTimeout, timedOut.Status)

	stub.transferDelay = 0
	stub.statusCode = http.StatusOK
	stub.statusBody = `{"status":"SUCCESSFUL","financialTransactionId":"fin-999"}`

	reconciled, err := f.svc.Reconcile(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, reconciled.Status)
	assert.Equal(t, "fin-999", reconciled.ProviderReference)
	assert.NotNil(t, reconciled.CompletedAt)
}

func TestWebhookSettlesProcessing(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-110"))
	require.NoError(t, err)
	submitted, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)

	settled, err := f.svc.ApplyWebhook(ctx, f.tenantID, "mtn", domain.WebhookEvent{
		TransactionID: submitted.ProviderReference,
		Status:        "SUCCESSFUL",
		ProviderRef:   "fin-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, settled.Status)
	assert.NotNil(t, settled.CompletedAt)
}

func TestWebhookFailureSchedulesRetryOnce(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-114"))
	require.NoError(t, err)
	submitted, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)

	// A declined transfer schedules exactly one retry and counts it.
	failed, err := f.svc.ApplyWebhook(ctx, f.tenantID, "mtn", domain.WebhookEvent{
		TransactionID: submitted.ProviderReference,
		Status:        "FAILED",
		Reason:        "payee limit exceeded",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	require.NotNil(t, failed.NextRetryAt)

	// The retry itself does not count again.
	f.fake.Advance(time.Minute)
	retried, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, retried.Status)
	assert.Equal(t, 1, retried.RetryCount)

	settled, err := f.svc.ApplyWebhook(ctx, f.tenantID, "mtn", domain.WebhookEvent{
		TransactionID: retried.ProviderReference,
		Status:        "SUCCESSFUL",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, settled.Status)
	assert.Equal(t, 1, settled.RetryCount)
}

func TestWebhookIllegalTransitionRejectedWithoutMutation(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	_, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-111"))
	require.NoError(t, err)

	// SUCCESS cannot be reached from PENDING without PROCESSING.
	_, err = f.svc.ApplyWebhook(ctx, f.tenantID, "mtn", domain.WebhookEvent{
		TransactionID: "ord-111",
		Status:        "SUCCESSFUL",
	})
	assert.ErrorIs(t, err, domain.ErrIllegalTransition)

	unchanged, err := f.svc.GetByExternalID(ctx, f.tenantID, "ord-111")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, unchanged.Status)
	assert.Equal(t, 0, unchanged.RetryCount)
}

func TestNothingLeavesRefunded(t *testing.T) {
	assert.False(t, domain.CanTransition(domain.StatusRefunded, domain.StatusProcessing))
	assert.False(t, domain.CanTransition(domain.StatusRefunded, domain.StatusSuccess))
	assert.False(t, domain.CanTransition(domain.StatusRefundFailed, domain.StatusRefundProcessing))
	assert.True(t, domain.StatusRefunded.Terminal())
	assert.True(t, domain.StatusBounced.Terminal())
}

func TestRefundFlow(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-113"))
	require.NoError(t, err)

	// Refund before settlement is rejected.
	_, err = f.svc.Refund(ctx, f.tenantID, "ord-113", "customer request")
	assert.ErrorIs(t, err, domain.ErrNotRefundable)

	submitted, err := f.svc.Submit(ctx, record.ID)
	require.NoError(t, err)
	_, err = f.svc.ApplyWebhook(ctx, f.tenantID, "mtn", domain.WebhookEvent{
		TransactionID: submitted.ProviderReference,
		Status:        "SUCCESSFUL",
	})
	require.NoError(t, err)

	// The refund API accepts asynchronously; settlement comes by webhook.
	refunding, err := f.svc.Refund(ctx, f.tenantID, "ord-113", "customer request")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefundProcessing, refunding.Status)

	refunded, err := f.svc.ApplyWebhook(ctx, f.tenantID, "mtn", domain.WebhookEvent{
		TransactionID: refunding.ProviderReference,
		Status:        "SUCCESSFUL",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRefunded, refunded.Status)
	assert.NotNil(t, refunded.CompletedAt)
}

func TestExpireFailsStalePending(t *testing.T) {
	stub := &momoStub{transferStatus: http.StatusAccepted}
	srv := stub.server(t)
	defer srv.Close()

	f := newFixture(t, srv.URL)
	ctx := context.Background()

	record, _, err := f.svc.Create(ctx, f.tenantID, createRequest("ord-112"))
	require.NoError(t, err)

	f.fake.Advance(25 * time.Hour)
	require.NoError(t, f.svc.Expire(ctx, record.ID))

	expired, err := f.svc.GetByExternalID(ctx, f.tenantID, "ord-112")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, expired.Status)
	assert.Equal(t, "expired", expired.ErrorCode)
}
