// Package mpesa normalizes Safaricom Daraja STK push callbacks.
package mpesa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	tenancydomain "github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
)

const Provider = "mpesa"

// Daraja timestamps are East Africa Time without an offset.
var nairobi = time.FixedZone("EAT", 3*60*60)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (Factory) Provider() string { return Provider }

func (Factory) NewAdapter(cfg domain.AdapterConfig) (domain.PaymentAdapter, error) {
	shortCode, _ := cfg.Config["short_code"].(string)
	passkey, _ := cfg.Config["passkey"].(string)
	if strings.TrimSpace(passkey) == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &adapter{
		landlordID: cfg.LandlordID,
		shortCode:  strings.TrimSpace(shortCode),
	}, nil
}

type adapter struct {
	landlordID snowflake.ID
	shortCode  string
}

type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// Verify checks the payload is a well-formed Daraja callback. Daraja does not
// sign callbacks; authenticity rests on the callback URL being unguessable
// and on the checkout_request_id matching a pending transaction of ours.
func (a *adapter) Verify(_ context.Context, payload []byte, _ http.Header) error {
	var body stkCallbackBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return domain.ErrInvalidPayload
	}
	if strings.TrimSpace(body.Body.StkCallback.CheckoutRequestID) == "" {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *adapter) Parse(_ context.Context, payload []byte) (*domain.ParsedPayment, error) {
	var body stkCallbackBody
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	callback := body.Body.StkCallback
	if strings.TrimSpace(callback.CheckoutRequestID) == "" {
		return nil, domain.ErrInvalidPayload
	}

	parsed := domain.ParsedPayment{
		CheckoutRequestID: callback.CheckoutRequestID,
		ResultCode:        callback.ResultCode,
		ResultDesc:        callback.ResultDesc,
	}

	var (
		amount  money.Amount
		receipt string
		phone   string
		txTime  time.Time
	)
	for _, item := range callback.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			var v float64
			if err := json.Unmarshal(item.Value, &v); err == nil {
				amount = money.FromFloat(v)
			}
		case "MpesaReceiptNumber":
			var v string
			if err := json.Unmarshal(item.Value, &v); err == nil {
				receipt = v
			}
		case "TransactionDate":
			txTime = parseTransactionDate(item.Value)
		case "PhoneNumber":
			phone = rawToString(item.Value)
		}
	}
	if txTime.IsZero() {
		txTime = time.Now().UTC()
	}

	status := domain.StatusSuccess
	reference := receipt
	if callback.ResultCode != 0 {
		status = domain.StatusFailed
		// Failed pushes carry no receipt; the checkout request id is still
		// unique per attempt.
		reference = callback.CheckoutRequestID
	}
	if reference == "" {
		return nil, domain.ErrInvalidPayload
	}

	parsed.ReceiptNumber = receipt
	parsed.Payment = domain.InboundPayment{
		Source:               domain.SourceMpesa,
		TransactionReference: reference,
		Amount:               amount,
		Currency:             "KES",
		CustomerMobile:       tenancydomain.NormalizeMobile(phone),
		MerchantReference:    callback.CheckoutRequestID,
		TransactionDate:      txTime,
		Status:               status,
	}
	return &parsed, nil
}

// parseTransactionDate handles Daraja's numeric yyyymmddhhmmss form, which
// arrives as a JSON number or string depending on the gateway version.
func parseTransactionDate(raw json.RawMessage) time.Time {
	s := rawToString(raw)
	if len(s) != 14 {
		return time.Time{}
	}
	t, err := time.ParseInLocation("20060102150405", s, nairobi)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return fmt.Sprintf("%.0f", f)
	}
	return ""
}
