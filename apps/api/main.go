package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/kwachapay/kwachapay/internal/clock"
	"github.com/kwachapay/kwachapay/internal/config"
	"github.com/kwachapay/kwachapay/internal/locks"
	"github.com/kwachapay/kwachapay/internal/migration"
	"github.com/kwachapay/kwachapay/internal/observability"
	"github.com/kwachapay/kwachapay/internal/server"
	"github.com/kwachapay/kwachapay/pkg/db"
)

// API-only deployment; sweeps run in the worker binary.
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
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
