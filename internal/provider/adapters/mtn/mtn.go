package mtn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kwachapay/kwachapay/internal/provider/domain"
)

const ProviderName = "mtn"

const defaultTimeout = 10 * time.Second

// Credential keys expected in the decrypted bundle.
const (
	credAPIUser         = "api_user"
	credAPIKey          = "api_key"
	credSubscriptionKey = "subscription_key"
	credEnvironment     = "environment"
)

type Factory struct{}

func (Factory) Provider() string { return ProviderName }

func (Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &adapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}, nil
}

// adapter speaks the MoMo disbursement API. Transfers are accepted
// asynchronously with 202; the terminal outcome arrives by webhook or
// status query.
type adapter struct {
	baseURL string
	client  *http.Client
}

func (a *adapter) Provider() string { return ProviderName }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (a *adapter) RequestToken(ctx context.Context, creds domain.Credentials) (domain.Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/disbursement/token/", nil)
	if err != nil {
		return domain.Token{}, err
	}
	req.SetBasicAuth(creds[credAPIUser], creds[credAPIKey])
	req.Header.Set("Ocp-Apim-Subscription-Key", creds[credSubscriptionKey])

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.Token{}, domain.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return domain.Token{}, domain.ClassifyHTTP(ProviderName, resp.StatusCode, string(body))
	}
	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return domain.Token{}, &domain.Error{Provider: ProviderName, Code: "malformed_token_response", Message: err.Error(), Retryable: true}
	}
	if tok.AccessToken == "" {
		return domain.Token{}, domain.ErrProviderAuth
	}
	return domain.Token{AccessToken: tok.AccessToken, ExpiresIn: tok.ExpiresIn}, nil
}

// RefreshAccessToken falls back to a fresh basic-auth exchange; the MoMo
// token endpoint does not issue refresh tokens.
func (a *adapter) RefreshAccessToken(ctx context.Context, creds domain.Credentials, _ string) (domain.Token, error) {
	return a.RequestToken(ctx, creds)
}

type transferBody struct {
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	ExternalID string `json:"externalId"`
	Payee      struct {
		PartyIDType string `json:"partyIdType"`
		PartyID     string `json:"partyId"`
	} `json:"payee"`
	PayerMessage string `json:"payerMessage,omitempty"`
	PayeeNote    string `json:"payeeNote,omitempty"`
}

func (a *adapter) Transfer(ctx context.Context, accessToken string, creds domain.Credentials, req domain.TransferRequest) (domain.TransferResult, error) {
	payload := transferBody{
		Amount:     strconv.FormatInt(req.Amount, 10),
		Currency:   req.Currency,
		ExternalID: req.ExternalID,
		PayeeNote:  req.Note,
	}
	payload.Payee.PartyIDType = "MSISDN"
	payload.Payee.PartyID = req.PayeeMSISDN
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.TransferResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/disbursement/v1_0/transfer", bytes.NewReader(raw))
	if err != nil {
		return domain.TransferResult{}, err
	}
	a.setHeaders(httpReq, accessToken, creds)
	httpReq.Header.Set("X-Reference-Id", req.Reference)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return domain.TransferResult{}, domain.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusAccepted {
		return domain.TransferResult{}, domain.ClassifyHTTP(ProviderName, resp.StatusCode, string(body))
	}
	// 202 means accepted for processing, not completed.
	return domain.TransferResult{
		ProviderReference: req.Reference,
		Status:            domain.StatusPending,
		HTTPStatus:        resp.StatusCode,
		RawRequest:        raw,
		RawResponse:       body,
	}, nil
}

type statusResponse struct {
	Status string `json:"status"`
	Reason struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"reason"`
	FinancialTransactionID string `json:"financialTransactionId"`
}

func (a *adapter) QueryStatus(ctx context.Context, accessToken string, creds domain.Credentials, reference string) (domain.StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/disbursement/v1_0/transfer/"+reference, nil)
	if err != nil {
		return domain.StatusResult{}, err
	}
	a.setHeaders(httpReq, accessToken, creds)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return domain.StatusResult{}, domain.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return domain.StatusResult{Found: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return domain.StatusResult{}, domain.ClassifyHTTP(ProviderName, resp.StatusCode, string(body))
	}
	var out statusResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.StatusResult{}, &domain.Error{Provider: ProviderName, Code: "malformed_status_response", Message: err.Error(), Retryable: true}
	}
	status, ok := domain.KnownStatus(out.Status)
	if !ok {
		return domain.StatusResult{}, &domain.Error{
			Provider: ProviderName,
			Code:     "unknown_status",
			Message:  fmt.Sprintf("unrecognized status %q", out.Status),
		}
	}
	return domain.StatusResult{
		Found:             true,
		Status:            status,
		ProviderReference: out.FinancialTransactionID,
		Reason:            out.Reason.Message,
	}, nil
}

type refundBody struct {
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	ReferenceIDToRefund string `json:"referenceIdToRefund"`
	PayerMessage        string `json:"payerMessage,omitempty"`
}

func (a *adapter) Refund(ctx context.Context, accessToken string, creds domain.Credentials, req domain.RefundRequest) (domain.TransferResult, error) {
	payload := refundBody{
		Amount:              strconv.FormatInt(req.Amount, 10),
		Currency:            req.Currency,
		ReferenceIDToRefund: req.ProviderReference,
		PayerMessage:        req.Reason,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.TransferResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/disbursement/v1_0/refund", bytes.NewReader(raw))
	if err != nil {
		return domain.TransferResult{}, err
	}
	a.setHeaders(httpReq, accessToken, creds)
	httpReq.Header.Set("X-Reference-Id", req.Reference)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return domain.TransferResult{}, domain.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusAccepted {
		return domain.TransferResult{}, domain.ClassifyHTTP(ProviderName, resp.StatusCode, string(body))
	}
	return domain.TransferResult{
		ProviderReference: req.Reference,
		Status:            domain.StatusPending,
		HTTPStatus:        resp.StatusCode,
		RawRequest:        raw,
		RawResponse:       body,
	}, nil
}

type balanceResponse struct {
	AvailableBalance string `json:"availableBalance"`
	Currency         string `json:"currency"`
}

func (a *adapter) Balance(ctx context.Context, accessToken string, creds domain.Credentials) (domain.BalanceResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/disbursement/v1_0/account/balance", nil)
	if err != nil {
		return domain.BalanceResult{}, err
	}
	a.setHeaders(httpReq, accessToken, creds)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return domain.BalanceResult{}, domain.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return domain.BalanceResult{}, domain.ClassifyHTTP(ProviderName, resp.StatusCode, string(body))
	}
	var out balanceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.BalanceResult{}, &domain.Error{Provider: ProviderName, Code: "malformed_balance_response", Message: err.Error(), Retryable: true}
	}
	available, err := strconv.ParseInt(out.AvailableBalance, 10, 64)
	if err != nil {
		return domain.BalanceResult{}, &domain.Error{Provider: ProviderName, Code: "malformed_balance_response", Message: err.Error()}
	}
	return domain.BalanceResult{Available: available, Currency: out.Currency}, nil
}

func (a *adapter) setHeaders(req *http.Request, accessToken string, creds domain.Credentials) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Ocp-Apim-Subscription-Key", creds[credSubscriptionKey])
	env := creds[credEnvironment]
	if env == "" {
		env = "mtnzambia"
	}
	req.Header.Set("X-Target-Environment", env)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}
