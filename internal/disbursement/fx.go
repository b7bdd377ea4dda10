package disbursement

import (
	"go.uber.org/fx"

	"github.com/kwachapay/kwachapay/internal/disbursement/repository"
	"github.com/kwachapay/kwachapay/internal/disbursement/service"
)

var Module = fx.Module("disbursement",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
