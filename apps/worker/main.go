package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/disbursement"
	"github.com/kwachapay/kwachapay/internal/idempotency"
	"github.com/kwachapay/kwachapay/internal/locks"
	"github.com/kwachapay/kwachapay/internal/observability"
	"github.com/kwachapay/kwachapay/internal/provider"
	"github.com/kwachapay/kwachapay/internal/scheduler"
	"github.com/kwachapay/kwachapay/internal/token"
	"github.com/kwachapay/kwachapay/internal/vault"
	"github.com/kwachapay/kwachapay/pkg/db"
)

// Worker deployment: retry, reconcile and housekeeping sweeps only.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locks.Module,

		provider.Module,
		vault.Module,
		token.Module,
		idempotency.Module,
		disbursement.Module,

		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
