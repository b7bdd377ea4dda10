package webhook

import (
	"go.uber.org/fx"

	"github.com/kwachapay/kwachapay/internal/webhook/repository"
	"github.com/kwachapay/kwachapay/internal/webhook/service"
)

var Module = fx.Module("webhook",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
