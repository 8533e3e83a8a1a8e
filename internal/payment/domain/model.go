package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"gorm.io/datatypes"
)

// Source identifies the payment rail an inbound payment arrived on.
type Source string

const (
	SourceMpesa    Source = "mpesa"
	SourceKopoKopo Source = "kopokopo"
	SourceJenga    Source = "jenga"
)

func (s Source) Valid() bool {
	switch s {
	case SourceMpesa, SourceKopoKopo, SourceJenga:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// MatchQuality grades how a payment was resolved to an invoice.
type MatchQuality string

const (
	MatchExact     MatchQuality = "exact"
	MatchReference MatchQuality = "reference"
	MatchProbable  MatchQuality = "probable"
	MatchFuzzy     MatchQuality = "fuzzy"
	MatchNone      MatchQuality = "none"
)

// InboundPayment is the normalized record of a payment notification from any
// rail. Adapters create rows with processed=false and invoice_id NULL; only
// the matcher and the allocation service mutate them afterwards. The unique
// index over (source, transaction_reference) makes webhook redelivery a no-op.
type InboundPayment struct {
	ID                   snowflake.ID   `json:"id" gorm:"primaryKey"`
	Source               Source         `json:"source" gorm:"type:text;not null;uniqueIndex:idx_inbound_payment_source_ref"`
	TransactionReference string         `json:"transaction_reference" gorm:"type:text;not null;uniqueIndex:idx_inbound_payment_source_ref"`
	LandlordID           snowflake.ID   `json:"landlord_id" gorm:"index"`
	Amount               money.Amount   `json:"amount" gorm:"type:bigint;not null"`
	Currency             string         `json:"currency" gorm:"type:text;not null;default:KES"`
	CustomerName         string         `json:"customer_name" gorm:"type:text"`
	CustomerMobile       string         `json:"customer_mobile" gorm:"type:text;index"`
	MerchantReference    string         `json:"merchant_reference" gorm:"type:text"`
	TransactionDate      time.Time      `json:"transaction_date" gorm:"not null"`
	Status               Status         `json:"status" gorm:"type:text;not null"`
	Processed            bool           `json:"processed" gorm:"not null;default:false;index"`
	InvoiceID            *snowflake.ID  `json:"invoice_id" gorm:"index"`
	RawPayload           datatypes.JSON `json:"raw_payload" gorm:"type:jsonb"`
	ReceivedAt           time.Time      `json:"received_at" gorm:"not null"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

func (InboundPayment) TableName() string { return "inbound_payments" }

// PaymentAllocation binds part of a payment's amount to one invoice's
// outstanding balance. A payment may split across invoices and an invoice may
// collect several partial payments.
type PaymentAllocation struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID snowflake.ID `json:"payment_id" gorm:"not null;index"`
	InvoiceID snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	Amount    money.Amount `json:"amount" gorm:"type:bigint;not null"`
	// CreatedBy records the origin: "matcher:<quality>" or "manual".
	CreatedBy string    `json:"created_by" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (PaymentAllocation) TableName() string { return "payment_allocations" }
