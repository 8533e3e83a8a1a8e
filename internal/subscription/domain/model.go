package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var ErrSubscriptionNotFound = errors.New("subscription_not_found")

type Status string

const (
	StatusTrial        Status = "trial"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusTrialExpired Status = "trial_expired"
)

// Billable reports whether the subscription participates in monthly billing.
func (s Status) Billable() bool {
	return s == StatusTrial || s == StatusActive
}

// LandlordSubscription links a landlord to their billing plan. Exactly one
// row exists per landlord; plan changes upsert this row.
type LandlordSubscription struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	LandlordID      snowflake.ID `json:"landlord_id" gorm:"not null;uniqueIndex"`
	BillingPlanID   snowflake.ID `json:"billing_plan_id" gorm:"not null;index"`
	Status          Status       `json:"status" gorm:"type:text;not null;default:trial"`
	NextBillingDate *time.Time   `json:"next_billing_date"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func (LandlordSubscription) TableName() string { return "landlord_subscriptions" }
