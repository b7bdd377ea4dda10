package airtel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kwachapay/kwachapay/internal/provider/domain"
)

const ProviderName = "airtel"

const defaultTimeout = 10 * time.Second

const (
	credClientID     = "client_id"
	credClientSecret = "client_secret"
	credCountry      = "country"
	credCurrency     = "currency"
	credPIN          = "pin"
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

type adapter struct {
	baseURL string
	client  *http.Client
}

func (a *adapter) Provider() string { return ProviderName }

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func (a *adapter) RequestToken(ctx context.Context, creds domain.Credentials) (domain.Token, error) {
	return a.tokenGrant(ctx, tokenRequest{
		ClientID:     creds[credClientID],
		ClientSecret: creds[credClientSecret],
		GrantType:    "client_credentials",
	})
}

func (a *adapter) RefreshAccessToken(ctx context.Context, creds domain.Credentials, refreshToken string) (domain.Token, error) {
	if refreshToken == "" {
		return a.RequestToken(ctx, creds)
	}
	tok, err := a.tokenGrant(ctx, tokenRequest{
		ClientID:     creds[credClientID],
		ClientSecret: creds[credClientSecret],
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
	})
	if err != nil {
		// A stale refresh token is not fatal while the client
		// credentials still work.
		return a.RequestToken(ctx, creds)
	}
	return tok, nil
}

func (a *adapter) tokenGrant(ctx context.Context, grant tokenRequest) (domain.Token, error) {
	raw, err := json.Marshal(grant)
	if err != nil {
		return domain.Token{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/oauth2/token", bytes.NewReader(raw))
	if err != nil {
		return domain.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

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
	return domain.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresIn: tok.ExpiresIn}, nil
}

type disbursementBody struct {
	Payee struct {
		MSISDN string `json:"msisdn"`
	} `json:"payee"`
	Reference   string `json:"reference"`
	PIN         string `json:"pin,omitempty"`
	Transaction struct {
		Amount int64  `json:"amount"`
		ID     string `json:"id"`
	} `json:"transaction"`
}

type apiEnvelope struct {
	Data struct {
		Transaction struct {
			ID            string `json:"id"`
			AirtelMoneyID string `json:"airtel_money_id"`
			Status        string `json:"status"`
			Message       string `json:"message"`
		} `json:"transaction"`
	} `json:"data"`
	Status struct {
		Code    string `json:"code"`
		Success bool   `json:"success"`
		Message string `json:"message"`
	} `json:"status"`
}

// transaction statuses as Airtel reports them
var statusMap = map[string]domain.Status{
	"TS":  domain.StatusSuccessful,
	"TF":  domain.StatusFailed,
	"TIP": domain.StatusPending,
	"TA":  domain.StatusPending,
	"TE":  domain.StatusExpired,
}

func (a *adapter) Transfer(ctx context.Context, accessToken string, creds domain.Credentials, req domain.TransferRequest) (domain.TransferResult, error) {
	payload := disbursementBody{
		Reference: req.Note,
		PIN:       creds[credPIN],
	}
	if payload.Reference == "" {
		payload.Reference = req.ExternalID
	}
	payload.Payee.MSISDN = req.PayeeMSISDN
	payload.Transaction.Amount = req.Amount
	payload.Transaction.ID = req.Reference
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.TransferResult{}, err
	}

	env, body, status, err := a.doJSON(ctx, http.MethodPost, "/standard/v1/disbursements/", accessToken, creds, raw)
	if err != nil {
		return domain.TransferResult{}, err
	}
	mapped, ok := statusMap[env.Data.Transaction.Status]
	if !ok {
		mapped = domain.StatusPending
	}
	ref := env.Data.Transaction.AirtelMoneyID
	if ref == "" {
		ref = env.Data.Transaction.ID
	}
	return domain.TransferResult{
		ProviderReference: ref,
		Status:            mapped,
		HTTPStatus:        status,
		RawRequest:        raw,
		RawResponse:       body,
	}, nil
}

func (a *adapter) QueryStatus(ctx context.Context, accessToken string, creds domain.Credentials, reference string) (domain.StatusResult, error) {
	env, _, _, err := a.doJSON(ctx, http.MethodGet, "/standard/v1/disbursements/"+reference, accessToken, creds, nil)
	if err != nil {
		var pe *domain.Error
		if errors.As(err, &pe) && pe.HTTPStatus == http.StatusNotFound {
			return domain.StatusResult{Found: false}, nil
		}
		return domain.StatusResult{}, err
	}
	mapped, ok := statusMap[env.Data.Transaction.Status]
	if !ok {
		return domain.StatusResult{}, &domain.Error{
			Provider: ProviderName,
			Code:     "unknown_status",
			Message:  fmt.Sprintf("unrecognized status %q", env.Data.Transaction.Status),
		}
	}
	return domain.StatusResult{
		Found:             true,
		Status:            mapped,
		ProviderReference: env.Data.Transaction.AirtelMoneyID,
		Reason:            env.Data.Transaction.Message,
	}, nil
}

type refundBody struct {
	Transaction struct {
		AirtelMoneyID string `json:"airtel_money_id"`
	} `json:"transaction"`
}

func (a *adapter) Refund(ctx context.Context, accessToken string, creds domain.Credentials, req domain.RefundRequest) (domain.TransferResult, error) {
	var payload refundBody
	payload.Transaction.AirtelMoneyID = req.ProviderReference
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.TransferResult{}, err
	}
	env, body, status, err := a.doJSON(ctx, http.MethodPost, "/standard/v1/payments/refund", accessToken, creds, raw)
	if err != nil {
		return domain.TransferResult{}, err
	}
	mapped := domain.StatusPending
	if env.Status.Success {
		mapped = domain.StatusSuccessful
	}
	return domain.TransferResult{
		ProviderReference: env.Data.Transaction.AirtelMoneyID,
		Status:            mapped,
		HTTPStatus:        status,
		RawRequest:        raw,
		RawResponse:       body,
	}, nil
}

type balanceEnvelope struct {
	Data struct {
		Balance  int64  `json:"balance"`
		Currency string `json:"currency"`
	} `json:"data"`
	Status struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	} `json:"status"`
}

func (a *adapter) Balance(ctx context.Context, accessToken string, creds domain.Credentials) (domain.BalanceResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/standard/v1/users/balance", nil)
	if err != nil {
		return domain.BalanceResult{}, err
	}
	a.setHeaders(req, accessToken, creds)

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.BalanceResult{}, domain.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return domain.BalanceResult{}, domain.ClassifyHTTP(ProviderName, resp.StatusCode, string(body))
	}
	var env balanceEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.BalanceResult{}, &domain.Error{Provider: ProviderName, Code: "malformed_balance_response", Message: err.Error(), Retryable: true}
	}
	return domain.BalanceResult{Available: env.Data.Balance, Currency: env.Data.Currency}, nil
}

func (a *adapter) doJSON(ctx context.Context, method, path, accessToken string, creds domain.Credentials, payload []byte) (apiEnvelope, []byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return apiEnvelope{}, nil, 0, err
	}
	a.setHeaders(req, accessToken, creds)

	resp, err := a.client.Do(req)
	if err != nil {
		return apiEnvelope{}, nil, 0, domain.ClassifyTransport(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return apiEnvelope{}, nil, resp.StatusCode, domain.ClassifyHTTP(ProviderName, resp.StatusCode, string(body))
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apiEnvelope{}, nil, resp.StatusCode, &domain.Error{Provider: ProviderName, Code: "malformed_response", Message: err.Error(), Retryable: true}
	}
	if !env.Status.Success && env.Status.Code != "" && env.Status.Code != "200" {
		return apiEnvelope{}, nil, resp.StatusCode, &domain.Error{
			Provider:   ProviderName,
			Code:       env.Status.Code,
			Message:    env.Status.Message,
			HTTPStatus: resp.StatusCode,
		}
	}
	return env, body, resp.StatusCode, nil
}

func (a *adapter) setHeaders(req *http.Request, accessToken string, creds domain.Credentials) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	country := creds[credCountry]
	if country == "" {
		country = "ZM"
	}
	currency := creds[credCurrency]
	if currency == "" {
		currency = "ZMW"
	}
	req.Header.Set("X-Country", country)
	req.Header.Set("X-Currency", currency)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}
