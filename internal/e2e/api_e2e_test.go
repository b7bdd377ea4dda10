package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	disbursementrepo "github.com/kwachapay/kwachapay/internal/disbursement/repository"
	disbursementservice "github.com/kwachapay/kwachapay/internal/disbursement/service"
	idempotencyrepo "github.com/kwachapay/kwachapay/internal/idempotency/repository"
	idempotencyservice "github.com/kwachapay/kwachapay/internal/idempotency/service"
	"github.com/kwachapay/kwachapay/internal/observability"
	"github.com/kwachapay/kwachapay/internal/provider"
	"github.com/kwachapay/kwachapay/internal/server"
	tokenrepo "github.com/kwachapay/kwachapay/internal/token/repository"
	tokenservice "github.com/kwachapay/kwachapay/internal/token/service"
	vaultrepo "github.com/kwachapay/kwachapay/internal/vault/repository"
	vaultservice "github.com/kwachapay/kwachapay/internal/vault/service"
	webhookrepo "github.com/kwachapay/kwachapay/internal/webhook/repository"
	webhookservice "github.com/kwachapay/kwachapay/internal/webhook/service"
)

const (
	tenantHeader  = "123456789"
	webhookSecret = "whsec-e2e"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_e2e_%d?mode=memory&cache=shared", time.Now().UnixNano())
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
		`CREATE TABLE webhook_records (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			provider TEXT NOT NULL,
			transaction_id TEXT NOT NULL,
			payload TEXT,
			signature TEXT,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			redelivery_count INT NOT NULL DEFAULT 0,
			processed_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_webhook_records_transaction ON webhook_records(transaction_id)`,
		`CREATE TABLE idempotency_records (
			id BIGINT PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			idempotency_key TEXT NOT NULL,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			status_code INT NOT NULL,
			response_body TEXT,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_idempotency_tenant_key ON idempotency_records(tenant_id, idempotency_key)`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type env struct {
	baseURL string
	client  *http.Client
	fake    *clock.FakeClock
}

func startEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	momo := http.NewServeMux()
	momo.HandleFunc("/disbursement/token/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","token_type":"Bearer","expires_in":3600}`)
	})
	momo.HandleFunc("/disbursement/v1_0/transfer", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	momo.HandleFunc("/disbursement/v1_0/refund", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	momo.HandleFunc("/disbursement/v1_0/account/balance", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"availableBalance":"500000","currency":"ZMW"}`)
	})
	momoSrv := httptest.NewServer(momo)
	t.Cleanup(momoSrv.Close)

	db := setupTestDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(17)
	require.NoError(t, err)

	cfg := config.Config{
		VaultMasterKey:        "e2e-master-key",
		VaultMasterKeyVersion: 1,
		TokenRefreshMargin:    time.Minute,
		ProviderTimeout:       time.Second,
		MTNBaseURL:            momoSrv.URL,
		IdempotencyTTL:        time.Hour,
		MaxRetryCount:         3,
		RetryBackoffBase:      30 * time.Second,
		RetryBackoffCap:       30 * time.Minute,
		PendingTTL:            24 * time.Hour,
	}
	log := zap.NewNop()

	vaultSvc := vaultservice.New(vaultservice.Params{
		DB: db, Log: log, GenID: node, Repo: vaultrepo.Provide(), Clock: fake, Cfg: cfg,
	})
	dir, err := provider.NewDirectory(cfg, provider.NewRegistry(), log)
	require.NoError(t, err)
	tokenMgr := tokenservice.New(tokenservice.Params{
		DB: db, Log: log, GenID: node, Repo: tokenrepo.Provide(), Clock: fake, Cfg: cfg,
		Vault: vaultSvc, Adapters: dir,
	})
	disbSvc := disbursementservice.New(disbursementservice.Params{
		DB: db, Log: log, GenID: node, Repo: disbursementrepo.Provide(), Clock: fake, Cfg: cfg,
		Vault: vaultSvc, Tokens: tokenMgr, Adapters: dir,
	})
	idemSvc := idempotencyservice.New(idempotencyservice.Params{
		DB: db, Log: log, GenID: node, Repo: idempotencyrepo.Provide(), Clock: fake, Cfg: cfg,
	})
	webhookSvc := webhookservice.New(webhookservice.Params{
		DB: db, Log: log, GenID: node, Repo: webhookrepo.Provide(), Clock: fake,
		Vault: vaultSvc, Disbursements: disbSvc,
	})

	engine := server.NewEngine(observability.Config{ServiceName: "kwachapay", Environment: "test"})
	srv := server.NewServer(server.ServerParams{
		Engine:          engine,
		Cfg:             cfg,
		DB:              db,
		GenID:           node,
		DisbursementSvc: disbSvc,
		IdempotencySvc:  idemSvc,
		WebhookSvc:      webhookSvc,
		VaultSvc:        vaultSvc,
		TokenMgr:        tokenMgr,
		Adapters:        dir,
	})
	server.RegisterRoutes(srv)

	httpSrv := httptest.NewServer(engine)
	t.Cleanup(httpSrv.Close)

	return &env{baseURL: httpSrv.URL, client: httpSrv.Client(), fake: fake}
}

func (e *env) do(t *testing.T, method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.baseURL+path, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", tenantHeader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *env) putCredentials(t *testing.T) {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"fields":{"api_user":"u","api_key":"k","subscription_key":"s","webhook_secret":%q}}`, webhookSecret))
	resp, respBody := e.do(t, http.MethodPut, "/v1/credentials/mtn", body, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Empty(t, respBody)
}

func TestHealthz(t *testing.T) {
	e := startEnv(t)
	resp, err := e.client.Get(e.baseURL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingTenantHeaderIsUnauthorized(t *testing.T) {
	e := startEnv(t)
	req, err := http.NewRequest(http.MethodGet, e.baseURL+"/v1/disbursements/abc", nil)
	require.NoError(t, err)
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDisbursementLifecycle(t *testing.T) {
	e := startEnv(t)
	e.putCredentials(t)

	createBody := []byte(`{"external_id":"e2e-1","amount":25000,"currency":"ZMW","payee_msisdn":"260971234567","provider":"mtn"}`)
	key := uuid.NewString()

	// Create: accepted asynchronously, lands in PROCESSING.
	resp, body := e.do(t, http.MethodPost, "/v1/disbursements", createBody, map[string]string{"Idempotency-Key": key})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		ExternalID        string `json:"external_id"`
		Status            string `json:"status"`
		ProviderReference string `json:"provider_reference"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "PROCESSING", created.Status)
	require.NotEmpty(t, created.ProviderReference)

	// Same key replays the stored response without a second submission.
	resp, replay := e.do(t, http.MethodPost, "/v1/disbursements", createBody, map[string]string{"Idempotency-Key": key})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotency-Replayed"))
	assert.JSONEq(t, string(body), string(replay))

	// Provider settles the transfer by webhook.
	event := []byte(fmt.Sprintf(`{"referenceId":%q,"status":"SUCCESSFUL","financialTransactionId":"fin-e2e"}`, created.ProviderReference))
	resp, body = e.do(t, http.MethodPost, "/v1/webhooks/mtn", event, map[string]string{
		"X-Signature": webhookservice.Sign(event, webhookSecret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = e.do(t, http.MethodGet, "/v1/disbursements/e2e-1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched struct {
		Status      string `json:"status"`
		CompletedAt string `json:"completed_at"`
	}
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "SUCCESS", fetched.Status)
	assert.NotEmpty(t, fetched.CompletedAt)

	// Redelivered webhook is acknowledged as a duplicate.
	resp, body = e.do(t, http.MethodPost, "/v1/webhooks/mtn", event, map[string]string{
		"X-Signature": webhookservice.Sign(event, webhookSecret),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ack struct {
		Duplicate bool `json:"duplicate"`
	}
	require.NoError(t, json.Unmarshal(body, &ack))
	assert.True(t, ack.Duplicate)

	// Refund is accepted and awaits its own settlement.
	resp, body = e.do(t, http.MethodPost, "/v1/disbursements/e2e-1/refund",
		[]byte(`{"reason":"customer request"}`),
		map[string]string{"Idempotency-Key": uuid.NewString()})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))
	var refund struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(body, &refund))
	assert.Equal(t, "REFUND_PROCESSING", refund.Status)
}

func TestWebhookBadSignatureRejected(t *testing.T) {
	e := startEnv(t)
	e.putCredentials(t)

	event := []byte(`{"referenceId":"whatever","status":"SUCCESSFUL"}`)
	resp, _ := e.do(t, http.MethodPost, "/v1/webhooks/mtn", event, map[string]string{
		"X-Signature": webhookservice.Sign(event, "wrong"),
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateIdempotencyKeyIsOptional(t *testing.T) {
	e := startEnv(t)
	e.putCredentials(t)

	// No key: the request executes, it just is not replayable.
	body := []byte(`{"external_id":"e2e-2","amount":1000,"currency":"ZMW","payee_msisdn":"260971234567","provider":"mtn"}`)
	resp, respBody := e.do(t, http.MethodPost, "/v1/disbursements", body, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(respBody))

	// Repeating it hits the external_id dedupe, not the response cache.
	resp, _ = e.do(t, http.MethodPost, "/v1/disbursements", body, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Idempotency-Replayed"))

	// A malformed key is still rejected outright.
	resp, respBody = e.do(t, http.MethodPost, "/v1/disbursements", body, map[string]string{"Idempotency-Key": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(respBody))
}

func TestBalanceEndpoint(t *testing.T) {
	e := startEnv(t)
	e.putCredentials(t)

	resp, body := e.do(t, http.MethodGet, "/v1/balance?provider=mtn", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var balance struct {
		Available int64  `json:"available"`
		Currency  string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(body, &balance))
	assert.Equal(t, int64(500000), balance.Available)
	assert.Equal(t, "ZMW", balance.Currency)
}
