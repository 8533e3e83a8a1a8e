package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
)

// SmsUsageRecord is one metered SMS send, priced at send time. Billing reads
// these as an aggregation input only.
type SmsUsageRecord struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	LandlordID snowflake.ID `json:"landlord_id" gorm:"not null;index:idx_sms_usage_landlord_sent"`
	Cost       money.Amount `json:"cost" gorm:"type:bigint;not null"`
	SentAt     time.Time    `json:"sent_at" gorm:"not null;index:idx_sms_usage_landlord_sent"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (SmsUsageRecord) TableName() string { return "sms_usage_records" }
