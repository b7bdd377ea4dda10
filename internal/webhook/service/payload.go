package service

import (
	"encoding/json"
	"strings"

	providerdomain "github.com/kwachapay/kwachapay/internal/provider/domain"
	"github.com/kwachapay/kwachapay/internal/webhook/domain"
)

// rawPayload covers the field spellings the supported providers use in
// their callbacks. Exactly one transaction id and one status must be
// resolvable or the payload is rejected.
type rawPayload struct {
	TransactionID          string `json:"transaction_id"`
	ReferenceID            string `json:"referenceId"`
	Status                 string `json:"status"`
	FinancialTransactionID string `json:"financialTransactionId"`
	Reason                 json.RawMessage `json:"reason"`
	Message                string `json:"message"`
	Transaction            struct {
		ID            string `json:"id"`
		AirtelMoneyID string `json:"airtel_money_id"`
		Status        string `json:"status"`
		StatusCode    string `json:"status_code"`
		Message       string `json:"message"`
	} `json:"transaction"`
}

type reasonObject struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

var airtelCallbackStatus = map[string]string{
	"TS": string(providerdomain.StatusSuccessful),
	"TF": string(providerdomain.StatusFailed),
	"TE": string(providerdomain.StatusExpired),
}

// ParseEvent normalizes a raw webhook body into an Event and validates
// its structure: a transaction id plus a status from the accepted
// vocabulary, nothing else is trusted.
func ParseEvent(rawBody []byte) (domain.Event, error) {
	var raw rawPayload
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return domain.Event{}, domain.ErrMalformedPayload
	}

	event := domain.Event{
		TransactionID: firstNonEmpty(raw.TransactionID, raw.ReferenceID, raw.Transaction.ID),
		Status:        strings.ToUpper(strings.TrimSpace(firstNonEmpty(raw.Status, raw.Transaction.Status))),
		ProviderRef:   firstNonEmpty(raw.FinancialTransactionID, raw.Transaction.AirtelMoneyID),
		Reason:        firstNonEmpty(raw.Message, raw.Transaction.Message),
	}
	if mapped, ok := airtelCallbackStatus[firstNonEmpty(raw.Transaction.StatusCode, event.Status)]; ok {
		event.Status = mapped
	}
	if len(raw.Reason) > 0 {
		var obj reasonObject
		if err := json.Unmarshal(raw.Reason, &obj); err == nil && obj.Message != "" {
			event.Reason = obj.Message
		} else {
			var plain string
			if err := json.Unmarshal(raw.Reason, &plain); err == nil && plain != "" {
				event.Reason = plain
			}
		}
	}

	if event.TransactionID == "" {
		return domain.Event{}, domain.ErrMalformedPayload
	}
	if _, ok := providerdomain.KnownStatus(event.Status); !ok {
		return domain.Event{}, domain.ErrMalformedPayload
	}
	return event, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
