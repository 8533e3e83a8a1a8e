package domain

import (
	"context"
	"errors"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
)

var (
	ErrInvalidProvider            = errors.New("invalid_provider")
	ErrProviderNotFound           = errors.New("provider_not_found")
	ErrInvalidPayload             = errors.New("invalid_payload")
	ErrInvalidSignature           = errors.New("invalid_signature")
	ErrInvalidConfig              = errors.New("invalid_provider_config")
	ErrEventIgnored               = errors.New("event_ignored")
	ErrPaymentNotFound            = errors.New("payment_not_found")
	ErrInvalidAmount              = errors.New("invalid_amount")
	ErrInsufficientPaymentBalance = errors.New("insufficient_payment_balance")
	ErrOverAllocation             = errors.New("over_allocation")
)

// AdapterConfig carries the resolved provider credentials an adapter
// authenticates and parses with. LandlordID zero means platform credentials.
type AdapterConfig struct {
	LandlordID snowflake.ID
	Provider   string
	Config     map[string]any
}

// ParsedPayment is an adapter's normalized view of one webhook delivery.
// The STK callback fields are only set by the mpesa adapter.
type ParsedPayment struct {
	Payment InboundPayment

	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
}

// PaymentAdapter maps one rail's payload into the normalized shape. Verify
// authenticates the delivery against the adapter's credentials; Parse only
// maps fields and never touches storage.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ParsedPayment, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// Service ingests provider webhooks. The bool result reports whether a new
// payment row was created; redelivery returns the existing row with false.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*InboundPayment, bool, error)
}

// ResolvedTransaction is the STK-push context recovered from a pending
// tracker row when its callback arrives.
type ResolvedTransaction struct {
	LandlordID snowflake.ID
	InvoiceID  *snowflake.ID
	Phone      string
	Amount     money.Amount
}

// StatusResolver lets webhook ingestion settle the transaction tracker for
// M-Pesa callbacks without importing it.
type StatusResolver interface {
	ResolveCallback(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc, receiptNumber string) (*ResolvedTransaction, error)
}
