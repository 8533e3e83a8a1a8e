// Package kopokopo normalizes Kopo Kopo buygoods webhooks.
package kopokopo

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	tenancydomain "github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
)

const (
	Provider        = "kopokopo"
	signatureHeader = "X-Kopokopo-Signature"
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (Factory) Provider() string { return Provider }

func (Factory) NewAdapter(cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	apiKey, _ := cfg.Config["api_key"].(string)
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &adapter{landlordID: cfg.LandlordID, apiKey: []byte(apiKey)}, nil
}

type adapter struct {
	landlordID snowflake.ID
	apiKey     []byte
}

type webhookBody struct {
	Topic string `json:"topic"`
	Event struct {
		Type     string `json:"type"`
		Resource struct {
			Reference         string `json:"reference"`
			Amount            string `json:"amount"`
			Currency          string `json:"currency"`
			Status            string `json:"status"`
			SenderPhoneNumber string `json:"sender_phone_number"`
			SenderFirstName   string `json:"sender_first_name"`
			SenderLastName    string `json:"sender_last_name"`
			TillNumber        string `json:"till_number"`
			System            string `json:"system"`
			OriginationTime   string `json:"origination_time"`
		} `json:"resource"`
	} `json:"event"`
	Metadata struct {
		// Merchants configure a free-form reference shown on the till,
		// typically an invoice number or property#unit code.
		Reference string `json:"reference"`
	} `json:"metadata"`
}

// Verify checks the HMAC-SHA256 signature Kopo Kopo computes over the raw
// body with the webhook's API key.
func (a *adapter) Verify(_ context.Context, payload []byte, headers http.Header) error {
	signature := strings.TrimSpace(headers.Get(signatureHeader))
	if signature == "" {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, a.apiKey)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *adapter) Parse(_ context.Context, payload []byte) (*domain.ParsedPayment, error) {
	var body webhookBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if body.Topic != "buygoods_transaction_received" {
		return nil, domain.ErrEventIgnored
	}

	resource := body.Event.Resource
	if strings.TrimSpace(resource.Reference) == "" {
		return nil, domain.ErrInvalidPayload
	}

	amount, err := money.Parse(resource.Amount)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	txTime := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, resource.OriginationTime); err == nil {
		txTime = parsed.UTC()
	}

	status := domain.StatusSuccess
	if !strings.EqualFold(resource.Status, "received") && !strings.EqualFold(resource.Status, "success") {
		status = domain.StatusFailed
	}

	currency := strings.ToUpper(strings.TrimSpace(resource.Currency))
	if currency == "" {
		currency = "KES"
	}

	return &domain.ParsedPayment{
		Payment: domain.InboundPayment{
			Source:               domain.SourceKopoKopo,
			TransactionReference: resource.Reference,
			LandlordID:           a.landlordID,
			Amount:               amount,
			Currency:             currency,
			CustomerName:         strings.TrimSpace(resource.SenderFirstName + " " + resource.SenderLastName),
			CustomerMobile:       tenancydomain.NormalizeMobile(resource.SenderPhoneNumber),
			MerchantReference:    strings.TrimSpace(body.Metadata.Reference),
			TransactionDate:      txTime,
			Status:               status,
		},
	}, nil
}
