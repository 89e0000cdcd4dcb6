package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/txledger/internal/cache"
	"github.com/smallbiznis/txledger/internal/clock"
	"github.com/smallbiznis/txledger/internal/config"
	"github.com/smallbiznis/txledger/internal/ingest"
	"github.com/smallbiznis/txledger/internal/migration"
	"github.com/smallbiznis/txledger/internal/observability"
	"github.com/smallbiznis/txledger/internal/redaction"
	"github.com/smallbiznis/txledger/internal/server"
	"github.com/smallbiznis/txledger/internal/transaction"
	"github.com/smallbiznis/txledger/pkg/db"
	"github.com/smallbiznis/txledger/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		telemetry.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,

		// Functional Domains
		transaction.Module,
		ingest.Module,
		redaction.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
