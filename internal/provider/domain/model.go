package domain

import (
	"context"
	"net/http"
	"time"
)

// Status is the normalized provider-side status vocabulary. Webhook
// payloads and status queries both map into this set.
type Status string

const (
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusPending    Status = "PENDING"
	StatusRejected   Status = "REJECTED"
	StatusExpired    Status = "EXPIRED"
)

// KnownStatus reports whether raw is one of the accepted provider statuses.
func KnownStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusSuccessful, StatusFailed, StatusPending, StatusRejected, StatusExpired:
		return Status(raw), true
	default:
		return "", false
	}
}

// Credentials is a decrypted credential bundle scoped to a single call.
// Never persisted or logged.
type Credentials map[string]string

// Token is a provider bearer token as returned by a token endpoint.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64 // seconds
}

type TransferRequest struct {
	// Reference is the caller-generated UUID identifying this transfer to
	// the provider; resubmissions of the same attempt reuse it.
	Reference   string
	Amount      int64
	Currency    string
	PayeeMSISDN string
	ExternalID  string
	Note        string
}

type TransferResult struct {
	ProviderReference string
	Status            Status
	HTTPStatus        int
	RawRequest        []byte
	RawResponse       []byte
}

type StatusResult struct {
	// Found is false when the provider has no record of the reference,
	// which is the only case where a fresh submission is safe.
	Found             bool
	Status            Status
	ProviderReference string
	Reason            string
}

type RefundRequest struct {
	Reference         string
	ProviderReference string
	Amount            int64
	Currency          string
	Reason            string
}

type BalanceResult struct {
	Available int64
	Currency  string
}

// Adapter executes single operations against one mobile-money provider.
// Implementations are stateless; credentials and tokens arrive per call.
type Adapter interface {
	Provider() string
	RequestToken(ctx context.Context, creds Credentials) (Token, error)
	RefreshAccessToken(ctx context.Context, creds Credentials, refreshToken string) (Token, error)
	Transfer(ctx context.Context, accessToken string, creds Credentials, req TransferRequest) (TransferResult, error)
	QueryStatus(ctx context.Context, accessToken string, creds Credentials, reference string) (StatusResult, error)
	Refund(ctx context.Context, accessToken string, creds Credentials, req RefundRequest) (TransferResult, error)
	Balance(ctx context.Context, accessToken string, creds Credentials) (BalanceResult, error)
}

// Factory builds one adapter for one provider.
type Factory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

type AdapterConfig struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}
