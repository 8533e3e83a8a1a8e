package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
)

var ErrTransactionNotFound = errors.New("mpesa_transaction_not_found")

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// MpesaTransaction tracks one STK push from initiation to its asynchronous
// callback. The only transition is pending to completed or failed, applied
// exactly once; a failed push needs a brand-new checkout request.
type MpesaTransaction struct {
	ID                 snowflake.ID  `json:"id" gorm:"primaryKey"`
	CheckoutRequestID  string        `json:"checkout_request_id" gorm:"type:text;not null;uniqueIndex"`
	MerchantRequestID  string        `json:"merchant_request_id" gorm:"type:text"`
	LandlordID         snowflake.ID  `json:"landlord_id" gorm:"index"`
	InvoiceID          *snowflake.ID `json:"invoice_id" gorm:"index"`
	Phone              string        `json:"phone" gorm:"type:text"`
	Amount             money.Amount  `json:"amount" gorm:"type:bigint;not null"`
	Status             Status        `json:"status" gorm:"type:text;not null;default:pending;index"`
	ResultCode         *int          `json:"result_code"`
	ResultDesc         string        `json:"result_desc" gorm:"type:text"`
	MpesaReceiptNumber string        `json:"mpesa_receipt_number" gorm:"type:text"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

func (MpesaTransaction) TableName() string { return "mpesa_transactions" }

// Update is the hub's fan-out unit: the transaction state a subscriber sees.
type Update struct {
	CheckoutRequestID  string        `json:"checkout_request_id"`
	InvoiceID          *snowflake.ID `json:"invoice_id,omitempty"`
	Status             Status        `json:"status"`
	ResultCode         *int          `json:"result_code,omitempty"`
	ResultDesc         string        `json:"result_desc,omitempty"`
	MpesaReceiptNumber string        `json:"mpesa_receipt_number,omitempty"`
	At                 time.Time     `json:"at"`
}

// Same reports whether two updates carry identical state. Consecutive
// identical states are deduplicated so no-op callbacks do not re-trigger
// downstream effects.
func (u Update) Same(other Update) bool {
	sameCode := (u.ResultCode == nil) == (other.ResultCode == nil) &&
		(u.ResultCode == nil || *u.ResultCode == *other.ResultCode)
	return u.CheckoutRequestID == other.CheckoutRequestID &&
		u.Status == other.Status &&
		sameCode &&
		u.MpesaReceiptNumber == other.MpesaReceiptNumber
}

func UpdateFrom(tx MpesaTransaction) Update {
	return Update{
		CheckoutRequestID:  tx.CheckoutRequestID,
		InvoiceID:          tx.InvoiceID,
		Status:             tx.Status,
		ResultCode:         tx.ResultCode,
		ResultDesc:         tx.ResultDesc,
		MpesaReceiptNumber: tx.MpesaReceiptNumber,
		At:                 tx.UpdatedAt,
	}
}
