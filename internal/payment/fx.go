package payment

import (
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/jenga"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/kopokopo"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/mpesa"
	"github.com/nyumbanilabs/nyumbani/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			mpesa.NewFactory(),
			kopokopo.NewFactory(),
			jenga.NewFactory(),
		)
	}),
	fx.Provide(webhook.NewService),
)
