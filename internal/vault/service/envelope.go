package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"

	"github.com/kwachapay/kwachapay/internal/vault/domain"
)

// envelope is the stored shape of an encrypted credential payload. The
// plaintext is sealed with a fresh data key; the data key is sealed with
// the master key so rotation only has to re-wrap the key, not the data.
type envelope struct {
	Version    int    `json:"version"`
	KeyVersion int    `json:"key_version"`
	WrappedKey string `json:"wrapped_key"`
	WrapNonce  string `json:"wrap_nonce"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

const envelopeVersion = 1

func seal(masterKey []byte, keyVersion int, plaintext []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}

	dataKey := make([]byte, 32)
	if _, err := rand.Read(dataKey); err != nil {
		return nil, err
	}

	nonce, ciphertext, err := gcmSeal(dataKey, plaintext)
	if err != nil {
		return nil, err
	}
	wrapNonce, wrappedKey, err := gcmSeal(masterKey, dataKey)
	if err != nil {
		return nil, err
	}

	return json.Marshal(envelope{
		Version:    envelopeVersion,
		KeyVersion: keyVersion,
		WrappedKey: base64.RawStdEncoding.EncodeToString(wrappedKey),
		WrapNonce:  base64.RawStdEncoding.EncodeToString(wrapNonce),
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
}

func open(masterKey []byte, raw []byte) ([]byte, int, error) {
	if len(masterKey) == 0 {
		return nil, 0, domain.ErrEncryptionKeyMissing
	}
	if len(raw) == 0 {
		return nil, 0, domain.ErrInvalidCredentials
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, 0, domain.ErrInvalidCredentials
	}
	if env.Version != envelopeVersion {
		return nil, 0, domain.ErrInvalidCredentials
	}

	wrappedKey, err := base64.RawStdEncoding.DecodeString(env.WrappedKey)
	if err != nil {
		return nil, 0, domain.ErrInvalidCredentials
	}
	wrapNonce, err := base64.RawStdEncoding.DecodeString(env.WrapNonce)
	if err != nil {
		return nil, 0, domain.ErrInvalidCredentials
	}
	nonce, err := base64.RawStdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, 0, domain.ErrInvalidCredentials
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, 0, domain.ErrInvalidCredentials
	}

	dataKey, err := gcmOpen(masterKey, wrapNonce, wrappedKey)
	if err != nil {
		return nil, 0, domain.ErrInvalidCredentials
	}
	plaintext, err := gcmOpen(dataKey, nonce, ciphertext)
	if err != nil {
		return nil, 0, domain.ErrInvalidCredentials
	}
	return plaintext, env.KeyVersion, nil
}

func gcmSeal(key, plaintext []byte) (nonce, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, gcm.Seal(nil, nonce, plaintext, nil), nil
}

func gcmOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, ciphertext, nil)
}
