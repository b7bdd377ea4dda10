package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/locks"
	"github.com/kwachapay/kwachapay/internal/migration"
	"github.com/kwachapay/kwachapay/internal/observability"
	"github.com/kwachapay/kwachapay/internal/scheduler"
	"github.com/kwachapay/kwachapay/internal/server"
	"github.com/kwachapay/kwachapay/pkg/db"
)

// Monolith mode: API and sweeps in one process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		locks.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
