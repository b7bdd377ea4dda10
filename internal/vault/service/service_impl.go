package service

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/vault/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
	Clock clock.Clock
	Cfg   config.Config
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	clock      clock.Clock
	masterKey  []byte
	oldKeys    [][]byte
	keyVersion int
}

func New(p Params) domain.Service {
	keyVersion := p.Cfg.VaultMasterKeyVersion
	if keyVersion <= 0 {
		keyVersion = 1
	}

	var oldKeys [][]byte
	for _, secret := range p.Cfg.VaultMasterKeyPrevious {
		if key := deriveKey(secret); key != nil {
			oldKeys = append(oldKeys, key)
		}
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("vault.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		clock:      p.Clock,
		masterKey:  deriveKey(p.Cfg.VaultMasterKey),
		oldKeys:    oldKeys,
		keyVersion: keyVersion,
	}
}

func deriveKey(secret string) []byte {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// openAny unwraps an envelope with the current master key, falling back
// to retired key material so rotation can re-wrap stale records.
func (s *Service) openAny(raw []byte) ([]byte, int, error) {
	plaintext, fromVersion, err := open(s.masterKey, raw)
	if err == nil || errors.Is(err, domain.ErrEncryptionKeyMissing) {
		return plaintext, fromVersion, err
	}
	for _, key := range s.oldKeys {
		if plaintext, fromVersion, ferr := open(key, raw); ferr == nil {
			return plaintext, fromVersion, nil
		}
	}
	return nil, 0, err
}

func (s *Service) Put(ctx context.Context, tenantID snowflake.ID, provider string, fields map[string]string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return domain.ErrInvalidProvider
	}

	normalized := make(map[string]string, len(fields))
	for key, value := range fields {
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		normalized[key] = value
	}
	if len(normalized) == 0 {
		return domain.ErrInvalidCredentials
	}

	plaintext, err := json.Marshal(normalized)
	if err != nil {
		return domain.ErrInvalidCredentials
	}
	sealed, err := seal(s.masterKey, s.keyVersion, plaintext)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	credential := domain.Credential{
		ID:         s.genID.Generate(),
		TenantID:   tenantID,
		Provider:   provider,
		Payload:    datatypes.JSON(sealed),
		KeyVersion: s.keyVersion,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if existing, err := s.repo.Find(ctx, s.db, tenantID, provider); err != nil {
		return err
	} else if existing != nil {
		credential.ID = existing.ID
		credential.CreatedAt = existing.CreatedAt
	}

	return s.repo.Upsert(ctx, s.db, &credential)
}

func (s *Service) Get(ctx context.Context, tenantID snowflake.ID, provider string) (map[string]string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}

	credential, err := s.repo.Find(ctx, s.db, tenantID, provider)
	if err != nil {
		return nil, err
	}
	if credential == nil || !credential.IsActive {
		return nil, domain.ErrNoCredentials
	}

	plaintext, _, err := s.openAny(credential.Payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]string
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if len(fields) == 0 {
		return nil, domain.ErrNoCredentials
	}
	return fields, nil
}

// Rotate re-seals records whose key_version predates the configured master
// key version. Field values are re-encrypted under a fresh data key; the
// decrypted plaintext never leaves this method.
func (s *Service) Rotate(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	stale, err := s.repo.FindStale(ctx, s.db, s.keyVersion, limit)
	if err != nil {
		return 0, err
	}

	rotated := 0
	for i := range stale {
		credential := stale[i]
		plaintext, fromVersion, err := s.openAny(credential.Payload)
		if err != nil {
			s.log.Error("credential rotation failed",
				zap.String("tenant_id", credential.TenantID.String()),
				zap.String("provider", credential.Provider),
				zap.Error(err),
			)
			continue
		}
		sealed, err := seal(s.masterKey, s.keyVersion, plaintext)
		if err != nil {
			return rotated, err
		}
		credential.Payload = datatypes.JSON(sealed)
		credential.KeyVersion = s.keyVersion
		credential.UpdatedAt = s.clock.Now()
		if err := s.repo.Upsert(ctx, s.db, &credential); err != nil {
			return rotated, err
		}
		rotated++
		s.log.Info("credential re-wrapped",
			zap.String("tenant_id", credential.TenantID.String()),
			zap.String("provider", credential.Provider),
			zap.Int("from_version", fromVersion),
			zap.Int("to_version", s.keyVersion),
		)
	}
	return rotated, nil
}
