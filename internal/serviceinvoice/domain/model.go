package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
)

var (
	ErrNoSubscription = errors.New("subscription_not_found")
	ErrNoBillingPlan  = errors.New("billing_plan_not_found")
)

type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
)

// ServiceChargeInvoice is the platform's bill to a landlord for one billing
// period. The unique index over (landlord_id, period_start, period_end) is
// the exactly-once guarantee; concurrent generators converge on one row.
type ServiceChargeInvoice struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	LandlordID    snowflake.ID `json:"landlord_id" gorm:"not null;uniqueIndex:idx_service_invoice_period"`
	PeriodStart   time.Time    `json:"period_start" gorm:"not null;uniqueIndex:idx_service_invoice_period"`
	PeriodEnd     time.Time    `json:"period_end" gorm:"not null;uniqueIndex:idx_service_invoice_period"`
	ServiceCharge money.Amount `json:"service_charge" gorm:"type:bigint;not null"`
	SmsCharge     money.Amount `json:"sms_charge" gorm:"type:bigint;not null"`
	Amount        money.Amount `json:"amount" gorm:"type:bigint;not null"`
	Currency      string       `json:"currency" gorm:"type:text;not null"`
	BillingModel  string       `json:"billing_model" gorm:"type:text;not null"`
	Status        Status       `json:"status" gorm:"type:text;not null;default:pending"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (ServiceChargeInvoice) TableName() string { return "service_charge_invoices" }
