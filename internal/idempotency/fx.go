package idempotency

import (
	"github.com/kwachapay/kwachapay/internal/idempotency/repository"
	"github.com/kwachapay/kwachapay/internal/idempotency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("idempotency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
