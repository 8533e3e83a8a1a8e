// Package allocation binds payments to invoices on an operator's say-so and
// kicks off the reconciliation sweep that may resolve the tenant's remaining
// ambiguous payments.
package allocation

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	auditservice "github.com/nyumbanilabs/nyumbani/internal/audit/service"
	invoicedomain "github.com/nyumbanilabs/nyumbani/internal/invoice/domain"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/observability/metrics"
	obscontext "github.com/nyumbanilabs/nyumbani/internal/observability/context"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"github.com/nyumbanilabs/nyumbani/internal/reconciliation"
	pkgdb "github.com/nyumbanilabs/nyumbani/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service interface {
	Allocate(ctx context.Context, paymentID, invoiceID snowflake.ID, amount money.Amount) (*paymentdomain.PaymentAllocation, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Matcher  reconciliation.Service
	Audit    auditservice.Service
	Metrics  *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	matcher reconciliation.Service
	audit   auditservice.Service
	metrics *metrics.Metrics
}

func New(p Params) Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("allocation.service"),
		genID:   p.GenID,
		matcher: p.Matcher,
		audit:   p.Audit,
		metrics: p.Metrics,
	}
}

var Module = fx.Module("allocation",
	fx.Provide(New),
)

// Allocate applies part of a payment to an invoice. Validation rejects and
// never clamps: an amount the payment's remaining balance or the invoice's
// outstanding balance cannot absorb fails with the specific constraint.
func (s *service) Allocate(ctx context.Context, paymentID, invoiceID snowflake.ID, amount money.Amount) (*paymentdomain.PaymentAllocation, error) {
	if amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	var (
		allocation paymentdomain.PaymentAllocation
		tenantID   snowflake.ID
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var payment paymentdomain.InboundPayment
		if err := pkgdb.ForUpdate(tx).First(&payment, "id = ?", paymentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return paymentdomain.ErrPaymentNotFound
			}
			return err
		}

		var invoice invoicedomain.Invoice
		if err := pkgdb.ForUpdate(tx).First(&invoice, "id = ?", invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicedomain.ErrInvoiceNotFound
			}
			return err
		}

		var allocated int64
		err := tx.Raw(
			`SELECT COALESCE(SUM(amount), 0) FROM payment_allocations WHERE payment_id = ?`,
			paymentID,
		).Scan(&allocated).Error
		if err != nil {
			return err
		}
		remaining := payment.Amount - money.Amount(allocated)
		if amount > remaining {
			return paymentdomain.ErrInsufficientPaymentBalance
		}

		if invoice.OutstandingAmount == 0 || !invoice.Status.Open() {
			return invoicedomain.ErrInvoiceAlreadySettled
		}
		if amount > invoice.OutstandingAmount {
			return paymentdomain.ErrOverAllocation
		}

		allocation = paymentdomain.PaymentAllocation{
			ID:        s.genID.Generate(),
			PaymentID: paymentID,
			InvoiceID: invoiceID,
			Amount:    amount,
			CreatedBy: "manual",
		}
		if err := tx.Create(&allocation).Error; err != nil {
			return err
		}

		outstanding := invoice.OutstandingAmount - amount
		invoiceUpdates := map[string]any{"outstanding_amount": outstanding}
		if outstanding == 0 {
			invoiceUpdates["status"] = invoicedomain.StatusPaid
		}
		if err := tx.Model(&invoicedomain.Invoice{}).Where("id = ?", invoiceID).Updates(invoiceUpdates).Error; err != nil {
			return err
		}

		paymentUpdates := map[string]any{}
		if payment.InvoiceID == nil {
			paymentUpdates["invoice_id"] = invoiceID
		}
		if remaining-amount == 0 {
			paymentUpdates["processed"] = true
		}
		if len(paymentUpdates) > 0 {
			if err := tx.Model(&paymentdomain.InboundPayment{}).Where("id = ?", paymentID).Updates(paymentUpdates).Error; err != nil {
				return err
			}
		}

		tenantID = invoice.TenantID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAllocation(ctx)
	s.log.Info("manual allocation applied",
		zap.Int64("payment_id", int64(paymentID)),
		zap.Int64("invoice_id", int64(invoiceID)),
		zap.Int64("amount", amount.Cents()),
	)

	_, actorID := obscontext.ActorFromContext(ctx)
	var actor snowflake.ID
	if parsed, err := snowflake.ParseString(actorID); err == nil {
		actor = parsed
	}
	s.audit.LogActivity(ctx, actor, "payment.allocated", "payment_allocation", allocation.ID.String(), map[string]any{
		"payment_id": paymentID.String(),
		"invoice_id": invoiceID.String(),
		"amount":     amount.Cents(),
	})

	// Resolving this payment may disambiguate the tenant's other unmatched
	// payments; sweep synchronously so the operator sees the knock-on result.
	if _, err := s.matcher.SweepTenant(ctx, tenantID); err != nil {
		s.log.Warn("post-allocation sweep failed",
			zap.Int64("tenant_id", int64(tenantID)),
			zap.Error(err),
		)
	}

	return &allocation, nil
}
