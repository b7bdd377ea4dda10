package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"

	"github.com/kwachapay/kwachapay/internal/webhook/domain"
)

// VerifySignature checks an HMAC-SHA256 signature (base64 of the digest
// over the raw body). Missing signature or secret fails closed.
func VerifySignature(signature string, rawBody []byte, secret string) error {
	if signature == "" || secret == "" {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	provided, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if !hmac.Equal(provided, expected) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign produces the signature a provider would attach. Used by tests and
// the sandbox tooling.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
