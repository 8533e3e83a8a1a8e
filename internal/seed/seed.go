// Package seed bootstraps the catalog data a fresh install needs before the
// first landlord signs up.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/nyumbanilabs/nyumbani/internal/plan/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// EnsureDefaultPlans seeds one plan per billing model so a new install can
// subscribe landlords immediately. Existing plans are left untouched; plans
// are matched by name.
func EnsureDefaultPlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, plan := range defaultPlans(node) {
			if err := ensurePlanTx(ctx, tx, plan); err != nil {
				return err
			}
		}
		return nil
	})
}

func defaultPlans(node *snowflake.Node) []plandomain.BillingPlan {
	growthID := node.Generate()
	maxStarterUnits := 10
	maxGrowthUnits := 50

	return []plandomain.BillingPlan{
		{
			ID:           node.Generate(),
			Name:         "Commission",
			BillingModel: plandomain.BillingModelPercentage,
			PercentageRate: decimal.NullDecimal{
				Decimal: decimal.NewFromInt(10),
				Valid:   true,
			},
			SmsCreditsIncluded: 100,
			Currency:           "KES",
		},
		{
			ID:                 node.Generate(),
			Name:               "Per Unit",
			BillingModel:       plandomain.BillingModelFixedPerUnit,
			FixedAmountPerUnit: 50_000,
			SmsCreditsIncluded: 100,
			Currency:           "KES",
		},
		{
			ID:                 growthID,
			Name:               "Growth",
			BillingModel:       plandomain.BillingModelTiered,
			SmsCreditsIncluded: 250,
			Currency:           "KES",
			Tiers: []plandomain.PlanTier{
				{ID: node.Generate(), PlanID: growthID, Position: 0, MinUnits: 1, MaxUnits: &maxStarterUnits, PricePerUnit: 60_000},
				{ID: node.Generate(), PlanID: growthID, Position: 1, MinUnits: 11, MaxUnits: &maxGrowthUnits, PricePerUnit: 45_000},
				{ID: node.Generate(), PlanID: growthID, Position: 2, MinUnits: 51, PricePerUnit: 35_000},
			},
		},
	}
}

func ensurePlanTx(ctx context.Context, tx *gorm.DB, plan plandomain.BillingPlan) error {
	var existing plandomain.BillingPlan
	err := tx.WithContext(ctx).First(&existing, "name = ?", plan.Name).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return tx.WithContext(ctx).Create(&plan).Error
}
