// Package jenga normalizes Equity Jenga instant payment notifications.
package jenga

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
	Provider        = "jenga"
	signatureHeader = "X-Jenga-Signature"
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
	merchantCode, _ := cfg.Config["merchant_code"].(string)
	return &adapter{
		landlordID:   cfg.LandlordID,
		apiKey:       []byte(apiKey),
		merchantCode: strings.TrimSpace(merchantCode),
	}, nil
}

type adapter struct {
	landlordID   snowflake.ID
	apiKey       []byte
	merchantCode string
}

type ipnBody struct {
	Transaction struct {
		Reference   string `json:"reference"`
		Date        string `json:"date"`
		Amount      string `json:"amount"`
		Currency    string `json:"currency"`
		ServedBy    string `json:"servedBy"`
		OrderAmount string `json:"orderAmount"`
	} `json:"transaction"`
	Bank struct {
		Reference       string `json:"reference"`
		TransactionType string `json:"transactionType"`
		Account         string `json:"account"`
	} `json:"bank"`
	Customer struct {
		Name         string `json:"name"`
		MobileNumber string `json:"mobileNumber"`
		// Reference carries whatever the payer typed as the account number
		// at the branch or agent, our invoice or unit hint.
		Reference string `json:"reference"`
	} `json:"customer"`
}

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
	var body ipnBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}

	reference := strings.TrimSpace(body.Transaction.Reference)
	if reference == "" {
		reference = strings.TrimSpace(body.Bank.Reference)
	}
	if reference == "" {
		return nil, domain.ErrInvalidPayload
	}

	amount, err := money.Parse(body.Transaction.Amount)
	if err != nil {
		return nil, domain.ErrInvalidPayload
	}

	txTime := time.Now().UTC()
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, strings.TrimSpace(body.Transaction.Date)); err == nil {
			txTime = parsed.UTC()
			break
		}
	}

	currency := strings.ToUpper(strings.TrimSpace(body.Transaction.Currency))
	if currency == "" {
		currency = "KES"
	}

	return &domain.ParsedPayment{
		Payment: domain.InboundPayment{
			Source:               domain.SourceJenga,
			TransactionReference: reference,
			LandlordID:           a.landlordID,
			Amount:               amount,
			Currency:             currency,
			CustomerName:         strings.TrimSpace(body.Customer.Name),
			CustomerMobile:       tenancydomain.NormalizeMobile(body.Customer.MobileNumber),
			MerchantReference:    strings.TrimSpace(body.Customer.Reference),
			TransactionDate:      txTime,
			Status:               domain.StatusSuccess,
		},
	}, nil
}
