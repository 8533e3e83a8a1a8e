package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/clock"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/migration"
	notification "github.com/nyumbanilabs/nyumbani/internal/notification/service"
	"github.com/nyumbanilabs/nyumbani/internal/observability"
	"github.com/nyumbanilabs/nyumbani/internal/pricing"
	"github.com/nyumbanilabs/nyumbani/internal/scheduler"
	serviceinvoice "github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/service"
	smsusage "github.com/nyumbanilabs/nyumbani/internal/smsusage/service"
	tenancy "github.com/nyumbanilabs/nyumbani/internal/tenancy/service"
	"github.com/nyumbanilabs/nyumbani/pkg/db"
	"go.uber.org/fx"
)

// Scheduler-only binary. No HTTP server; runs the daily billing loop.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Domain services the billing run depends on
		tenancy.Module,
		smsusage.Module,
		pricing.Module,
		serviceinvoice.Module,
		notification.Module,
		scheduler.Module,

		fx.Invoke(scheduler.Start),
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
