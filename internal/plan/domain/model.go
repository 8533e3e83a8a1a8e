package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/shopspring/decimal"
)

var ErrPlanNotFound = errors.New("billing_plan_not_found")

// BillingModel selects how a landlord's service charge is computed.
type BillingModel string

const (
	BillingModelPercentage   BillingModel = "percentage"
	BillingModelFixedPerUnit BillingModel = "fixed_per_unit"
	BillingModelTiered       BillingModel = "tiered"
)

func (m BillingModel) Valid() bool {
	switch m {
	case BillingModelPercentage, BillingModelFixedPerUnit, BillingModelTiered:
		return true
	default:
		return false
	}
}

// BillingPlan is immutable once referenced by an active subscription.
type BillingPlan struct {
	ID                 snowflake.ID        `json:"id" gorm:"primaryKey"`
	Name               string              `json:"name" gorm:"type:text;not null"`
	BillingModel       BillingModel        `json:"billing_model" gorm:"type:text;not null"`
	PercentageRate     decimal.NullDecimal `json:"percentage_rate" gorm:"type:numeric(8,4)"`
	FixedAmountPerUnit money.Amount        `json:"fixed_amount_per_unit" gorm:"type:bigint;not null;default:0"`
	SmsCreditsIncluded int                 `json:"sms_credits_included" gorm:"not null;default:0"`
	Currency           string              `json:"currency" gorm:"type:text;not null;default:KES"`
	Tiers              []PlanTier          `json:"tiers,omitempty" gorm:"foreignKey:PlanID;references:ID"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

func (BillingPlan) TableName() string { return "billing_plans" }

// PlanTier is one row of a tiered plan's price ladder. Rows are kept in
// ascending, non-overlapping order by Position. MaxUnits nil means unbounded.
type PlanTier struct {
	ID           snowflake.ID `json:"id" gorm:"primaryKey"`
	PlanID       snowflake.ID `json:"plan_id" gorm:"not null;index"`
	Position     int          `json:"position" gorm:"not null;default:0"`
	MinUnits     int          `json:"min_units" gorm:"not null"`
	MaxUnits     *int         `json:"max_units"`
	PricePerUnit money.Amount `json:"price_per_unit" gorm:"type:bigint;not null"`
}

func (PlanTier) TableName() string { return "billing_plan_tiers" }

// Matches reports whether unitCount falls inside this tier's range.
func (t PlanTier) Matches(unitCount int) bool {
	if unitCount < t.MinUnits {
		return false
	}
	return t.MaxUnits == nil || unitCount <= *t.MaxUnits
}
