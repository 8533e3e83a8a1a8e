package mpesa

import (
	"context"
	"testing"
	"time"

	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_14072026090000123456",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 45000.00},
          {"Name": "MpesaReceiptNumber", "Value": "RGH7YUI9X2"},
          {"Name": "TransactionDate", "Value": 20260714120315},
          {"Name": "PhoneNumber", "Value": 254708123456}
        ]
      }
    }
  }
}`

const failedCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-2",
      "CheckoutRequestID": "ws_CO_14072026090100123457",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

func newAdapter(t *testing.T) domain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider: Provider,
		Config:   map[string]any{"short_code": "174379", "passkey": "testpasskey"},
	})
	require.NoError(t, err)
	return adapter
}

func TestNewAdapter_RequiresPasskey(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider: Provider,
		Config:   map[string]any{"short_code": "174379"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestParse_SuccessfulCallback(t *testing.T) {
	adapter := newAdapter(t)

	parsed, err := adapter.Parse(context.Background(), []byte(successCallback))
	require.NoError(t, err)

	assert.Equal(t, "ws_CO_14072026090000123456", parsed.CheckoutRequestID)
	assert.Equal(t, 0, parsed.ResultCode)
	assert.Equal(t, "RGH7YUI9X2", parsed.ReceiptNumber)

	payment := parsed.Payment
	assert.Equal(t, domain.SourceMpesa, payment.Source)
	assert.Equal(t, "RGH7YUI9X2", payment.TransactionReference)
	assert.Equal(t, money.Amount(4_500_000), payment.Amount)
	assert.Equal(t, "254708123456", payment.CustomerMobile)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
	// 12:03:15 EAT is 09:03:15 UTC.
	assert.Equal(t, time.Date(2026, 7, 14, 9, 3, 15, 0, time.UTC), payment.TransactionDate)
}

func TestParse_FailedCallback(t *testing.T) {
	adapter := newAdapter(t)

	parsed, err := adapter.Parse(context.Background(), []byte(failedCallback))
	require.NoError(t, err)

	assert.Equal(t, 1032, parsed.ResultCode)
	assert.Empty(t, parsed.ReceiptNumber)
	assert.Equal(t, domain.StatusFailed, parsed.Payment.Status)
	// No receipt on a failed push; the checkout request id stays unique.
	assert.Equal(t, "ws_CO_14072026090100123457", parsed.Payment.TransactionReference)
}

func TestVerify_RejectsNonCallbackPayloads(t *testing.T) {
	adapter := newAdapter(t)

	err := adapter.Verify(context.Background(), []byte(`{"Body":{}}`), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	err = adapter.Verify(context.Background(), []byte(`not json`), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	assert.NoError(t, adapter.Verify(context.Background(), []byte(successCallback), nil))
}
