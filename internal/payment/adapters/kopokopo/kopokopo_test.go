package kopokopo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receivedWebhook = `{
  "topic": "buygoods_transaction_received",
  "event": {
    "type": "Buygoods Transaction",
    "resource": {
      "reference": "KKO-89345",
      "amount": "45000.00",
      "currency": "KES",
      "status": "Received",
      "sender_phone_number": "+254708123456",
      "sender_first_name": "Atieno",
      "sender_last_name": "Odhiambo",
      "till_number": "K512345",
      "origination_time": "2026-07-14T12:05:00+03:00"
    }
  },
  "metadata": {
    "reference": "INV-2026-000123"
  }
}`

func sign(key string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newAdapter(t *testing.T, apiKey string) domain.PaymentAdapter {
	t.Helper()
	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider: Provider,
		Config:   map[string]any{"api_key": apiKey},
	})
	require.NoError(t, err)
	return adapter
}

func TestVerify_Signature(t *testing.T) {
	adapter := newAdapter(t, "sekrit")
	payload := []byte(receivedWebhook)

	headers := http.Header{}
	headers.Set("X-Kopokopo-Signature", sign("sekrit", payload))
	assert.NoError(t, adapter.Verify(context.Background(), payload, headers))

	headers.Set("X-Kopokopo-Signature", sign("wrong-key", payload))
	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, headers), domain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(context.Background(), payload, http.Header{}), domain.ErrInvalidSignature)
}

func TestParse_ReceivedTransaction(t *testing.T) {
	adapter := newAdapter(t, "sekrit")

	parsed, err := adapter.Parse(context.Background(), []byte(receivedWebhook))
	require.NoError(t, err)

	payment := parsed.Payment
	assert.Equal(t, domain.SourceKopoKopo, payment.Source)
	assert.Equal(t, "KKO-89345", payment.TransactionReference)
	assert.Equal(t, money.Amount(4_500_000), payment.Amount)
	assert.Equal(t, "KES", payment.Currency)
	assert.Equal(t, "Atieno Odhiambo", payment.CustomerName)
	assert.Equal(t, "254708123456", payment.CustomerMobile)
	assert.Equal(t, "INV-2026-000123", payment.MerchantReference)
	assert.Equal(t, domain.StatusSuccess, payment.Status)
}

func TestParse_IgnoresOtherTopics(t *testing.T) {
	adapter := newAdapter(t, "sekrit")

	_, err := adapter.Parse(context.Background(), []byte(`{"topic":"settlement_transfer_completed"}`))
	assert.ErrorIs(t, err, domain.ErrEventIgnored)
}

func TestNewAdapter_RequiresAPIKey(t *testing.T) {
	_, err := NewFactory().NewAdapter(domain.AdapterConfig{Provider: Provider, Config: map[string]any{}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}
