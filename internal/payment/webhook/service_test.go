package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/jenga"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/kopokopo"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters/mpesa"
	"github.com/nyumbanilabs/nyumbani/internal/payment/credentials"
	"github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const kopokopoWebhook = `{
  "topic": "buygoods_transaction_received",
  "event": {
    "resource": {
      "reference": "KKO-89345",
      "amount": "45000.00",
      "currency": "KES",
      "status": "Received",
      "sender_phone_number": "+254708123456",
      "sender_first_name": "Atieno",
      "sender_last_name": "Odhiambo"
    }
  },
  "metadata": {"reference": "INV-2026-000123"}
}`

const stkCallback = `{
  "Body": {
    "stkCallback": {
      "CheckoutRequestID": "ws_CO_14072026090000123456",
      "ResultCode": 0,
      "ResultDesc": "Processed",
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

type resolverStub struct {
	resolved *domain.ResolvedTransaction
	calls    int
}

func (r *resolverStub) ResolveCallback(context.Context, string, int, string, string) (*domain.ResolvedTransaction, error) {
	r.calls++
	return r.resolved, nil
}

type webhookFixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	creds    credentials.Service
	resolver *resolverStub
	service  domain.Service
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.InboundPayment{}, &credentials.ProviderCredential{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()

	cfg := config.Config{
		MpesaConsumerKey:     "platform-consumer",
		MpesaConsumerSecret:  "platform-secret",
		MpesaShortCode:       "174379",
		MpesaPasskey:         "platform-passkey",
		KopoKopoAPIKey:       "platform-kopokopo-key",
		JengaAPIKey:          "platform-jenga-key",
		ProviderConfigSecret: "unit-test-secret",
	}
	creds := credentials.New(credentials.Params{DB: db, Log: log, GenID: node, Cfg: cfg})

	resolver := &resolverStub{}
	svc := NewService(Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Adapters: adapters.NewRegistry(
			mpesa.NewFactory(),
			kopokopo.NewFactory(),
			jenga.NewFactory(),
		),
		Credentials: creds,
		Status:      resolver,
	})

	return &webhookFixture{db: db, node: node, creds: creds, resolver: resolver, service: svc}
}

func signedHeaders(key, header string, payload []byte) http.Header {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write(payload)
	headers := http.Header{}
	headers.Set(header, hex.EncodeToString(mac.Sum(nil)))
	return headers
}

func TestIngestWebhook_KopoKopo(t *testing.T) {
	f := newWebhookFixture(t)
	payload := []byte(kopokopoWebhook)
	headers := signedHeaders("platform-kopokopo-key", "X-Kopokopo-Signature", payload)

	payment, created, err := f.service.IngestWebhook(context.Background(), "kopokopo", payload, headers)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.SourceKopoKopo, payment.Source)
	assert.Equal(t, money.Amount(4_500_000), payment.Amount)
	assert.Equal(t, "INV-2026-000123", payment.MerchantReference)
	assert.False(t, payment.Processed)
	assert.NotEmpty(t, payment.RawPayload)
}

func TestIngestWebhook_RedeliveryIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()
	payload := []byte(kopokopoWebhook)
	headers := signedHeaders("platform-kopokopo-key", "X-Kopokopo-Signature", payload)

	first, created, err := f.service.IngestWebhook(ctx, "kopokopo", payload, headers)
	require.NoError(t, err)
	require.True(t, created)

	second, created, err := f.service.IngestWebhook(ctx, "kopokopo", payload, headers)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, f.db.Model(&domain.InboundPayment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestIngestWebhook_RejectsBadSignature(t *testing.T) {
	f := newWebhookFixture(t)
	payload := []byte(kopokopoWebhook)
	headers := signedHeaders("some-other-key", "X-Kopokopo-Signature", payload)

	_, _, err := f.service.IngestWebhook(context.Background(), "kopokopo", payload, headers)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	var count int64
	require.NoError(t, f.db.Model(&domain.InboundPayment{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestIngestWebhook_UnknownProvider(t *testing.T) {
	f := newWebhookFixture(t)

	_, _, err := f.service.IngestWebhook(context.Background(), "paystack", []byte(`{}`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestIngestWebhook_RejectsInvalidJSON(t *testing.T) {
	f := newWebhookFixture(t)

	_, _, err := f.service.IngestWebhook(context.Background(), "kopokopo", []byte(`{"truncated`), http.Header{})
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestIngestWebhook_StkCallbackAttributesViaTracker(t *testing.T) {
	f := newWebhookFixture(t)

	landlordID := f.node.Generate()
	invoiceID := f.node.Generate()
	f.resolver.resolved = &domain.ResolvedTransaction{
		LandlordID: landlordID,
		InvoiceID:  &invoiceID,
		Phone:      "254708123456",
		Amount:     4_500_000,
	}

	payment, created, err := f.service.IngestWebhook(context.Background(), "mpesa", []byte(stkCallback), http.Header{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, f.resolver.calls)

	// The tracker row tells us which landlord and invoice the push was for.
	assert.Equal(t, landlordID, payment.LandlordID)
	require.NotNil(t, payment.InvoiceID)
	assert.Equal(t, invoiceID, *payment.InvoiceID)
	assert.Equal(t, "RGH7YUI9X2", payment.TransactionReference)
}

func TestIngestWebhook_PrefersLandlordCredentials(t *testing.T) {
	f := newWebhookFixture(t)
	ctx := context.Background()

	landlordID := f.node.Generate()
	require.NoError(t, f.creds.Store(ctx, landlordID, "kopokopo", map[string]any{
		"api_key": "landlord-kopokopo-key",
	}))

	payload := []byte(kopokopoWebhook)
	headers := signedHeaders("landlord-kopokopo-key", "X-Kopokopo-Signature", payload)

	payment, created, err := f.service.IngestWebhook(ctx, "kopokopo", payload, headers)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, landlordID, payment.LandlordID)
}
