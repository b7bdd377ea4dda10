package vault

import (
	"github.com/kwachapay/kwachapay/internal/vault/repository"
	"github.com/kwachapay/kwachapay/internal/vault/service"
	"go.uber.org/fx"
)

var Module = fx.Module("vault.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
