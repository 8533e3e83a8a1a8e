package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/observability/metrics"
	notificationservice "github.com/nyumbanilabs/nyumbani/internal/notification/service"
	"github.com/nyumbanilabs/nyumbani/internal/period"
	plandomain "github.com/nyumbanilabs/nyumbani/internal/plan/domain"
	"github.com/nyumbanilabs/nyumbani/internal/pricing"
	"github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/domain"
	smsusage "github.com/nyumbanilabs/nyumbani/internal/smsusage/service"
	subscriptiondomain "github.com/nyumbanilabs/nyumbani/internal/subscription/domain"
	tenancy "github.com/nyumbanilabs/nyumbani/internal/tenancy/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Generator creates at most one service-charge invoice per landlord per
// billing period.
type Generator interface {
	GenerateInvoice(ctx context.Context, landlordID snowflake.ID, p period.Period) (*domain.ServiceChargeInvoice, bool, error)
}

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Calculator    *pricing.Calculator
	SmsUsage      smsusage.Service
	Tenancy       tenancy.Service
	Notifications notificationservice.Service
	Policy        *config.BillingPolicyHolder
	Metrics       *metrics.Metrics `optional:"true"`
}

type generator struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	calculator    *pricing.Calculator
	smsUsage      smsusage.Service
	tenancy       tenancy.Service
	notifications notificationservice.Service
	policy        *config.BillingPolicyHolder
	metrics       *metrics.Metrics
}

func New(p Params) Generator {
	return &generator{
		db:            p.DB,
		log:           p.Log.Named("serviceinvoice.generator"),
		genID:         p.GenID,
		calculator:    p.Calculator,
		smsUsage:      p.SmsUsage,
		tenancy:       p.Tenancy,
		notifications: p.Notifications,
		policy:        p.Policy,
		metrics:       p.Metrics,
	}
}

var Module = fx.Module("serviceinvoice",
	fx.Provide(New),
)

// GenerateInvoice is idempotent on (landlord, period). The second return
// value reports whether a new row was created; an existing invoice comes back
// unchanged with false. A total below the minimum-charge policy produces no
// invoice at all and no side effects.
func (g *generator) GenerateInvoice(ctx context.Context, landlordID snowflake.ID, p period.Period) (*domain.ServiceChargeInvoice, bool, error) {
	if existing, err := g.findExisting(ctx, landlordID, p); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	var sub subscriptiondomain.LandlordSubscription
	err := g.db.WithContext(ctx).First(&sub, "landlord_id = ?", landlordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, domain.ErrNoSubscription
	}
	if err != nil {
		return nil, false, err
	}

	var plan plandomain.BillingPlan
	err = g.db.WithContext(ctx).
		Preload("Tiers", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&plan, "id = ?", sub.BillingPlanID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, domain.ErrNoBillingPlan
	}
	if err != nil {
		return nil, false, err
	}

	inputs, err := g.tenancy.BillingInputs(ctx, landlordID, p)
	if err != nil {
		return nil, false, err
	}

	serviceCharge, explanation, err := g.calculator.ComputeServiceCharge(plan, pricing.Inputs{
		RentCollected: inputs.RentCollected,
		UnitCount:     inputs.UnitCount,
	})
	if err != nil {
		return nil, false, err
	}

	smsCharge, err := g.smsUsage.SumCost(ctx, landlordID, p)
	if err != nil {
		return nil, false, err
	}

	total := serviceCharge + smsCharge
	policy := g.policy.Get()
	if total < money.Amount(policy.MinimumInvoiceAmountCents) {
		g.log.Info("invoice below minimum charge, skipping",
			zap.Int64("landlord_id", int64(landlordID)),
			zap.Int64("total", total.Cents()),
			zap.Int64("minimum", policy.MinimumInvoiceAmountCents),
		)
		g.metrics.RecordInvoiceSkipped(ctx, "below_minimum")
		return nil, false, nil
	}

	invoice := domain.ServiceChargeInvoice{
		ID:            g.genID.Generate(),
		LandlordID:    landlordID,
		PeriodStart:   p.Start,
		PeriodEnd:     p.End,
		ServiceCharge: serviceCharge,
		SmsCharge:     smsCharge,
		Amount:        total,
		Currency:      plan.Currency,
		BillingModel:  string(plan.BillingModel),
		Status:        domain.StatusPending,
	}

	// Insert-or-detect-conflict, not read-then-write. Two racing generators
	// converge on one row; the loser re-reads the winner's invoice.
	result := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "landlord_id"},
				{Name: "period_start"},
				{Name: "period_end"},
			},
			DoNothing: true,
		}).
		Create(&invoice)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		existing, err := g.findExisting(ctx, landlordID, p)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("service invoice conflict but row missing for landlord %d", landlordID)
		}
		return existing, false, nil
	}

	g.notifyLandlord(ctx, invoice, explanation)
	g.metrics.RecordInvoiceGenerated(ctx, string(plan.BillingModel))
	g.log.Info("service invoice generated",
		zap.Int64("landlord_id", int64(landlordID)),
		zap.Int64("invoice_id", int64(invoice.ID)),
		zap.Int64("amount", total.Cents()),
		zap.String("billing_model", string(plan.BillingModel)),
	)

	return &invoice, true, nil
}

func (g *generator) findExisting(ctx context.Context, landlordID snowflake.ID, p period.Period) (*domain.ServiceChargeInvoice, error) {
	var invoice domain.ServiceChargeInvoice
	err := g.db.WithContext(ctx).
		Where("landlord_id = ? AND period_start = ? AND period_end = ?", landlordID, p.Start, p.End).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (g *generator) notifyLandlord(ctx context.Context, invoice domain.ServiceChargeInvoice, explanation pricing.Explanation) {
	message := fmt.Sprintf("Your service charge for %s is %s (%s).",
		invoice.PeriodStart.Format("January 2006"),
		invoice.Amount.Format(invoice.Currency),
		explanation.Summary,
	)
	if !invoice.SmsCharge.IsZero() {
		message += fmt.Sprintf(" Includes %s SMS charges.", invoice.SmsCharge.Format(invoice.Currency))
	}
	err := g.notifications.Notify(ctx, invoice.LandlordID,
		"Service charge invoice",
		message,
		"service_charge_invoice",
		invoice.ID.String(),
	)
	if err != nil {
		g.log.Warn("failed to notify landlord of invoice",
			zap.Int64("landlord_id", int64(invoice.LandlordID)),
			zap.Int64("invoice_id", int64(invoice.ID)),
			zap.Error(err),
		)
	}
}
