package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/allocation"
	audit "github.com/nyumbanilabs/nyumbani/internal/audit/service"
	"github.com/nyumbanilabs/nyumbani/internal/clock"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/migration"
	notification "github.com/nyumbanilabs/nyumbani/internal/notification/service"
	"github.com/nyumbanilabs/nyumbani/internal/observability"
	"github.com/nyumbanilabs/nyumbani/internal/payment"
	"github.com/nyumbanilabs/nyumbani/internal/payment/credentials"
	paymentstatus "github.com/nyumbanilabs/nyumbani/internal/paymentstatus/service"
	"github.com/nyumbanilabs/nyumbani/internal/pricing"
	"github.com/nyumbanilabs/nyumbani/internal/reconciliation"
	"github.com/nyumbanilabs/nyumbani/internal/scheduler"
	"github.com/nyumbanilabs/nyumbani/internal/server"
	serviceinvoice "github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/service"
	smsusage "github.com/nyumbanilabs/nyumbani/internal/smsusage/service"
	tenancy "github.com/nyumbanilabs/nyumbani/internal/tenancy/service"
	"github.com/nyumbanilabs/nyumbani/pkg/db"
	"go.uber.org/fx"
)

// API-only binary. The billing loop runs in the scheduler binary; manual runs
// through the HTTP endpoint still work here.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		tenancy.Module,
		smsusage.Module,
		pricing.Module,
		serviceinvoice.Module,
		credentials.Module,
		payment.Module,
		reconciliation.Module,
		allocation.Module,
		paymentstatus.Module,
		scheduler.Module,
		audit.Module,
		notification.Module,

		server.Module,
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
