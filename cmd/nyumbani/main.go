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

// The all-in-one binary: HTTP surface plus the billing scheduler loop in a
// single process.
func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
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
