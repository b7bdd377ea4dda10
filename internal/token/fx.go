package token

import (
	"go.uber.org/fx"

	"github.com/kwachapay/kwachapay/internal/token/repository"
	"github.com/kwachapay/kwachapay/internal/token/service"
)

var Module = fx.Module("token",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
