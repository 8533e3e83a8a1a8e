package migration

import (
	auditdomain "github.com/nyumbanilabs/nyumbani/internal/audit/domain"
	invoicedomain "github.com/nyumbanilabs/nyumbani/internal/invoice/domain"
	notificationdomain "github.com/nyumbanilabs/nyumbani/internal/notification/domain"
	"github.com/nyumbanilabs/nyumbani/internal/payment/credentials"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	paymentstatusdomain "github.com/nyumbanilabs/nyumbani/internal/paymentstatus/domain"
	plandomain "github.com/nyumbanilabs/nyumbani/internal/plan/domain"
	"github.com/nyumbanilabs/nyumbani/internal/seed"
	serviceinvoicedomain "github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/domain"
	smsusagedomain "github.com/nyumbanilabs/nyumbani/internal/smsusage/domain"
	subscriptiondomain "github.com/nyumbanilabs/nyumbani/internal/subscription/domain"
	tenancydomain "github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else if err := conn.AutoMigrate(models()...); err != nil {
			return err
		}

		return seed.EnsureDefaultPlans(conn)
	}),
)

func models() []any {
	return []any{
		&tenancydomain.Landlord{},
		&tenancydomain.Property{},
		&tenancydomain.Unit{},
		&tenancydomain.Tenant{},
		&plandomain.BillingPlan{},
		&plandomain.PlanTier{},
		&subscriptiondomain.LandlordSubscription{},
		&smsusagedomain.SmsUsageRecord{},
		&invoicedomain.Invoice{},
		&serviceinvoicedomain.ServiceChargeInvoice{},
		&paymentdomain.InboundPayment{},
		&paymentdomain.PaymentAllocation{},
		&credentials.ProviderCredential{},
		&paymentstatusdomain.MpesaTransaction{},
		&auditdomain.ActivityLog{},
		&notificationdomain.Notification{},
	}
}
