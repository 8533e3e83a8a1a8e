package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
)

var (
	ErrInvoiceNotFound       = errors.New("invoice_not_found")
	ErrInvoiceAlreadySettled = errors.New("invoice_already_settled")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusUnpaid    Status = "unpaid"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Open reports whether the invoice can still receive allocations.
func (s Status) Open() bool {
	switch s {
	case StatusPending, StatusUnpaid, StatusOverdue:
		return true
	default:
		return false
	}
}

// OpenStatuses is the canonical set used in candidate queries.
var OpenStatuses = []Status{StatusPending, StatusUnpaid, StatusOverdue}

// Invoice is a tenant-facing rent invoice. OutstandingAmount decreases as
// payment allocations accrue; the row flips to paid at zero.
type Invoice struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey"`
	LandlordID        snowflake.ID `json:"landlord_id" gorm:"not null;index"`
	TenantID          snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	LeaseID           snowflake.ID `json:"lease_id" gorm:"index"`
	InvoiceNumber     string       `json:"invoice_number" gorm:"type:text;not null;uniqueIndex"`
	Amount            money.Amount `json:"amount" gorm:"type:bigint;not null"`
	OutstandingAmount money.Amount `json:"outstanding_amount" gorm:"type:bigint;not null"`
	Status            Status       `json:"status" gorm:"type:text;not null;default:pending"`
	IssuedAt          time.Time    `json:"issued_at" gorm:"not null;index"`
	DueDate           *time.Time   `json:"due_date"`
	CreatedAt         time.Time    `json:"created_at"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }
