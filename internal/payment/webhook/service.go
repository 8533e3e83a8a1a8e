package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/observability/metrics"
	"github.com/nyumbanilabs/nyumbani/internal/payment/adapters"
	"github.com/nyumbanilabs/nyumbani/internal/payment/credentials"
	"github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Adapters    *adapters.Registry
	Credentials credentials.Service
	Status      domain.StatusResolver `optional:"true"`
	Metrics     *metrics.Metrics      `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	adapters    *adapters.Registry
	credentials credentials.Service
	status      domain.StatusResolver
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.webhook"),
		genID:       p.GenID,
		adapters:    p.Adapters,
		credentials: p.Credentials,
		status:      p.Status,
		metrics:     p.Metrics,
	}
}

// IngestWebhook authenticates, normalizes and persists one provider delivery.
// Redelivery of a transaction_reference already seen for the source is a
// no-op returning the existing row; providers retry on non-2xx so the caller
// answers 200 either way.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.InboundPayment, bool, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, false, domain.ErrInvalidProvider
	}
	if !s.adapters.ProviderExists(provider) {
		return nil, false, domain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		return nil, false, domain.ErrInvalidPayload
	}

	candidates, err := s.credentials.ListActive(ctx, provider)
	if err != nil {
		if errors.Is(err, credentials.ErrNoCredentials) {
			return nil, false, domain.ErrProviderNotFound
		}
		return nil, false, err
	}

	parsed, creds, err := s.matchAdapter(ctx, provider, payload, headers, candidates)
	if err != nil {
		return nil, false, err
	}

	payment := parsed.Payment
	if payment.LandlordID == 0 {
		payment.LandlordID = creds.LandlordID
	}

	// STK callbacks settle their pending tracker row first; the tracker
	// knows which landlord and invoice the push was initiated for.
	if parsed.CheckoutRequestID != "" && s.status != nil {
		resolved, err := s.status.ResolveCallback(ctx,
			parsed.CheckoutRequestID, parsed.ResultCode, parsed.ResultDesc, parsed.ReceiptNumber)
		if err != nil {
			s.log.Warn("stk callback without a tracked transaction",
				zap.String("checkout_request_id", parsed.CheckoutRequestID),
				zap.Error(err),
			)
		} else if resolved != nil {
			payment.LandlordID = resolved.LandlordID
			payment.InvoiceID = resolved.InvoiceID
			if payment.CustomerMobile == "" {
				payment.CustomerMobile = resolved.Phone
			}
			if payment.Amount == 0 {
				payment.Amount = resolved.Amount
			}
		}
	}

	payment.ID = s.genID.Generate()
	payment.RawPayload = payload
	payment.ReceivedAt = time.Now().UTC()

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "source"},
				{Name: "transaction_reference"},
			},
			DoNothing: true,
		}).
		Create(&payment)
	if result.Error != nil {
		return nil, false, result.Error
	}
	if result.RowsAffected == 0 {
		var existing domain.InboundPayment
		err := s.db.WithContext(ctx).
			Where("source = ? AND transaction_reference = ?", payment.Source, payment.TransactionReference).
			First(&existing).Error
		if err != nil {
			return nil, false, err
		}
		s.metrics.RecordPaymentDuplicate(ctx, provider)
		s.log.Info("duplicate webhook delivery ignored",
			zap.String("provider", provider),
			zap.String("transaction_reference", payment.TransactionReference),
		)
		return &existing, false, nil
	}

	s.metrics.RecordPaymentIngested(ctx, provider)
	s.log.Info("inbound payment recorded",
		zap.String("provider", provider),
		zap.String("transaction_reference", payment.TransactionReference),
		zap.Int64("amount", payment.Amount.Cents()),
		zap.String("status", string(payment.Status)),
	)
	return &payment, true, nil
}

// matchAdapter tries each credential set until one authenticates the
// delivery, landlord configs before the platform fallback.
func (s *Service) matchAdapter(
	ctx context.Context,
	provider string,
	payload []byte,
	headers http.Header,
	candidates []credentials.Credentials,
) (*domain.ParsedPayment, credentials.Credentials, error) {
	var configErr error
	for _, creds := range candidates {
		adapter, err := s.adapters.NewAdapter(provider, domain.AdapterConfig{
			LandlordID: creds.LandlordID,
			Provider:   provider,
			Config:     creds.Config,
		})
		if err != nil {
			configErr = err
			continue
		}

		if err := adapter.Verify(ctx, payload, headers); err != nil {
			if errors.Is(err, domain.ErrInvalidSignature) {
				continue
			}
			return nil, credentials.Credentials{}, err
		}

		parsed, err := adapter.Parse(ctx, payload)
		if err != nil {
			return nil, credentials.Credentials{}, err
		}
		return parsed, creds, nil
	}

	if configErr != nil {
		return nil, credentials.Credentials{}, configErr
	}
	return nil, credentials.Credentials{}, domain.ErrInvalidSignature
}
