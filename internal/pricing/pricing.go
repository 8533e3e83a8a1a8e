// Package pricing computes a landlord's periodic service charge from their
// billing plan and usage metrics. The calculator is pure; it never touches
// storage.
package pricing

import (
	"errors"
	"fmt"

	"github.com/nyumbanilabs/nyumbani/internal/money"
	plandomain "github.com/nyumbanilabs/nyumbani/internal/plan/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrUnknownBillingModel = errors.New("unknown_billing_model")

// Inputs are the usage metrics a charge is computed from.
type Inputs struct {
	RentCollected money.Amount
	UnitCount     int
}

// Explanation describes how a charge came about, in a form suitable for the
// landlord notification and for operator review of odd plan configurations.
type Explanation struct {
	Model   plandomain.BillingModel
	Summary string

	// MissingRate marks a percentage plan with no rate configured.
	MissingRate bool
	// TierNotMatched marks a tiered plan whose ladder has a gap at the given
	// unit count. The charge is zero rather than a guess.
	TierNotMatched bool
}

type Calculator struct {
	log *zap.Logger
}

func NewCalculator(log *zap.Logger) *Calculator {
	return &Calculator{log: log.Named("pricing")}
}

var Module = fx.Module("pricing",
	fx.Provide(NewCalculator),
)

// ComputeServiceCharge maps (billing model, usage) to a non-negative charge.
// Rounding happens once, at the final total, with banker's rounding.
func (c *Calculator) ComputeServiceCharge(plan plandomain.BillingPlan, in Inputs) (money.Amount, Explanation, error) {
	switch plan.BillingModel {
	case plandomain.BillingModelPercentage:
		return c.percentage(plan, in)
	case plandomain.BillingModelFixedPerUnit:
		return c.fixedPerUnit(plan, in)
	case plandomain.BillingModelTiered:
		return c.tiered(plan, in)
	default:
		return 0, Explanation{Model: plan.BillingModel}, ErrUnknownBillingModel
	}
}

func (c *Calculator) percentage(plan plandomain.BillingPlan, in Inputs) (money.Amount, Explanation, error) {
	expl := Explanation{Model: plan.BillingModel}
	if !plan.PercentageRate.Valid {
		c.log.Warn("percentage plan has no rate configured",
			zap.Int64("plan_id", int64(plan.ID)),
		)
		expl.MissingRate = true
		expl.Summary = "percentage rate not configured"
		return 0, expl, nil
	}

	rate := plan.PercentageRate.Decimal
	amount := money.FromDecimal(in.RentCollected.Decimal().Mul(rate).Div(decimal.NewFromInt(100)))
	if amount < 0 {
		amount = 0
	}
	expl.Summary = fmt.Sprintf("%s%% of rent collected (%s)",
		rate.String(), in.RentCollected.Format(plan.Currency))
	return amount, expl, nil
}

func (c *Calculator) fixedPerUnit(plan plandomain.BillingPlan, in Inputs) (money.Amount, Explanation, error) {
	expl := Explanation{Model: plan.BillingModel}
	units := in.UnitCount
	if units < 0 {
		units = 0
	}
	amount := money.Amount(int64(units)) * plan.FixedAmountPerUnit
	if amount < 0 {
		amount = 0
	}
	expl.Summary = fmt.Sprintf("%d units at %s per unit",
		units, plan.FixedAmountPerUnit.Format(plan.Currency))
	return amount, expl, nil
}

func (c *Calculator) tiered(plan plandomain.BillingPlan, in Inputs) (money.Amount, Explanation, error) {
	expl := Explanation{Model: plan.BillingModel}
	units := in.UnitCount
	if units < 0 {
		units = 0
	}

	for _, tier := range plan.Tiers {
		if !tier.Matches(units) {
			continue
		}
		amount := money.Amount(int64(units)) * tier.PricePerUnit
		if amount < 0 {
			amount = 0
		}
		expl.Summary = fmt.Sprintf("%d units at %s per unit (%s)",
			units, tier.PricePerUnit.Format(plan.Currency), tierRange(tier))
		return amount, expl, nil
	}

	// Gap in the ladder: charge zero rather than guess, but flag it so the
	// plan misconfiguration is visible to operators.
	c.log.Warn("no tier matched unit count",
		zap.Int64("plan_id", int64(plan.ID)),
		zap.Int("unit_count", units),
	)
	expl.TierNotMatched = true
	expl.Summary = fmt.Sprintf("no pricing tier covers %d units", units)
	return 0, expl, nil
}

func tierRange(tier plandomain.PlanTier) string {
	if tier.MaxUnits == nil {
		return fmt.Sprintf("tier %d+", tier.MinUnits)
	}
	return fmt.Sprintf("tier %d-%d", tier.MinUnits, *tier.MaxUnits)
}
