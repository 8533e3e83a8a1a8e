// Package reconciliation resolves inbound payments to tenant invoices using
// a tiered matching strategy. Ambiguity is data, not an error: a payment the
// matcher cannot resolve to exactly one invoice stays in the unmatched pool
// for manual allocation.
package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	invoicedomain "github.com/nyumbanilabs/nyumbani/internal/invoice/domain"
	"github.com/nyumbanilabs/nyumbani/internal/observability/metrics"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	tenancydomain "github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
	tenancy "github.com/nyumbanilabs/nyumbani/internal/tenancy/service"
	pkgdb "github.com/nyumbanilabs/nyumbani/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	invoiceNumberPattern = regexp.MustCompile(`(?i)\bINV[-/]?\d{4}[-/]?\d{3,}\b`)
	unitReferencePattern = regexp.MustCompile(`(?i)\b([A-Z][A-Z0-9]{1,9})#([A-Z0-9-]{1,10})\b`)
)

var errAlreadyProcessed = errors.New("payment_already_processed")

// MatchResult reports how one payment was (or was not) resolved.
type MatchResult struct {
	PaymentID snowflake.ID               `json:"payment_id"`
	InvoiceID *snowflake.ID              `json:"invoice_id,omitempty"`
	Quality   paymentdomain.MatchQuality `json:"quality"`
	Reason    string                     `json:"reason,omitempty"`
}

// UnmatchedFilter narrows the unmatched payment listing.
type UnmatchedFilter struct {
	LandlordID *snowflake.ID
	Source     paymentdomain.Source
	Limit      int
}

type Service interface {
	MatchPayment(ctx context.Context, payment *paymentdomain.InboundPayment) (MatchResult, error)
	SweepTenant(ctx context.Context, tenantID snowflake.ID) ([]MatchResult, error)
	ListUnmatched(ctx context.Context, filter UnmatchedFilter) ([]paymentdomain.InboundPayment, error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Tenancy tenancy.Service
	Policy  *config.BillingPolicyHolder
	Metrics *metrics.Metrics `optional:"true"`
}

type service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	tenancy tenancy.Service
	policy  *config.BillingPolicyHolder
	metrics *metrics.Metrics
	sweeps  *keyedMutex
}

func New(p Params) Service {
	return &service{
		db:      p.DB,
		log:     p.Log.Named("reconciliation.service"),
		genID:   p.GenID,
		tenancy: p.Tenancy,
		policy:  p.Policy,
		metrics: p.Metrics,
		sweeps:  newKeyedMutex(),
	}
}

var Module = fx.Module("reconciliation",
	fx.Provide(New),
)

// MatchPayment applies the tiers in strict priority order, stopping at the
// first tier that yields exactly one candidate. Multiple candidates at a
// tier fall through to the next; guessing is never allowed.
func (s *service) MatchPayment(ctx context.Context, payment *paymentdomain.InboundPayment) (MatchResult, error) {
	none := func(reason string) MatchResult {
		return MatchResult{PaymentID: payment.ID, Quality: paymentdomain.MatchNone, Reason: reason}
	}

	if payment.Processed {
		return none("already_processed"), nil
	}
	if payment.Status != paymentdomain.StatusSuccess {
		return none("payment_not_successful"), nil
	}
	if payment.Amount <= 0 {
		return none("non_positive_amount"), nil
	}

	type candidate struct {
		invoiceID snowflake.ID
		quality   paymentdomain.MatchQuality
	}
	var (
		chosen   *candidate
		lastMiss = "no_candidates"
	)

	// Tier 1: a previously resolved invoice reference.
	if payment.InvoiceID != nil {
		chosen = &candidate{invoiceID: *payment.InvoiceID, quality: paymentdomain.MatchExact}
	}

	// Tier 2: structured merchant reference.
	if chosen == nil {
		invoiceID, miss, err := s.matchByReference(ctx, payment)
		if err != nil {
			return MatchResult{}, err
		}
		if invoiceID != 0 {
			chosen = &candidate{invoiceID: invoiceID, quality: paymentdomain.MatchReference}
		} else if miss != "" {
			lastMiss = miss
		}
	}

	// Tier 3: the payer's open invoices with equal amount inside the window.
	if chosen == nil {
		invoiceID, miss, err := s.matchByAmountAndDate(ctx, payment)
		if err != nil {
			return MatchResult{}, err
		}
		if invoiceID != 0 {
			chosen = &candidate{invoiceID: invoiceID, quality: paymentdomain.MatchProbable}
		} else if miss != "" {
			lastMiss = miss
		}
	}

	// Tier 4: amount only, over all open invoices.
	if chosen == nil {
		invoiceID, miss, err := s.matchByAmount(ctx, payment)
		if err != nil {
			return MatchResult{}, err
		}
		if invoiceID != 0 {
			chosen = &candidate{invoiceID: invoiceID, quality: paymentdomain.MatchFuzzy}
		} else if miss != "" {
			lastMiss = miss
		}
	}

	if chosen == nil {
		s.metrics.RecordMatchResult(ctx, string(paymentdomain.MatchNone))
		s.log.Info("payment left unmatched",
			zap.Int64("payment_id", int64(payment.ID)),
			zap.String("reason", lastMiss),
		)
		return none(lastMiss), nil
	}

	if err := s.settle(ctx, payment, chosen.invoiceID, chosen.quality); err != nil {
		if errors.Is(err, errAlreadyProcessed) {
			return none("already_processed"), nil
		}
		if errors.Is(err, paymentdomain.ErrOverAllocation) || errors.Is(err, invoicedomain.ErrInvoiceAlreadySettled) {
			return none("candidate_cannot_absorb_amount"), nil
		}
		return MatchResult{}, err
	}

	s.metrics.RecordMatchResult(ctx, string(chosen.quality))
	s.log.Info("payment matched",
		zap.Int64("payment_id", int64(payment.ID)),
		zap.Int64("invoice_id", int64(chosen.invoiceID)),
		zap.String("quality", string(chosen.quality)),
	)
	invoiceID := chosen.invoiceID
	return MatchResult{
		PaymentID: payment.ID,
		InvoiceID: &invoiceID,
		Quality:   chosen.quality,
	}, nil
}

// matchByReference decodes the merchant reference into an invoice number or
// a property-code#unit pointer. Returns the invoice id, or a miss reason.
func (s *service) matchByReference(ctx context.Context, payment *paymentdomain.InboundPayment) (snowflake.ID, string, error) {
	reference := strings.TrimSpace(payment.MerchantReference)
	if reference == "" {
		return 0, "", nil
	}

	if number := invoiceNumberPattern.FindString(reference); number != "" {
		var invoice invoicedomain.Invoice
		err := s.db.WithContext(ctx).
			Where("UPPER(invoice_number) = ?", strings.ToUpper(normalizeInvoiceNumber(number))).
			First(&invoice).Error
		if err == nil {
			if !invoice.Status.Open() || invoice.OutstandingAmount < payment.Amount {
				return 0, "referenced_invoice_not_payable", nil
			}
			return invoice.ID, "", nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, "", err
		}
		return 0, "referenced_invoice_not_found", nil
	}

	if groups := unitReferencePattern.FindStringSubmatch(reference); groups != nil {
		tenant, err := s.tenancy.FindTenantByUnit(ctx, groups[1], groups[2])
		if err != nil {
			if isNotFound(err) {
				return 0, "referenced_unit_not_found", nil
			}
			return 0, "", err
		}

		candidates, err := s.openInvoices(ctx, func(q *gorm.DB) *gorm.DB {
			return q.Where("tenant_id = ? AND outstanding_amount >= ?", tenant.ID, payment.Amount)
		})
		if err != nil {
			return 0, "", err
		}
		switch len(candidates) {
		case 1:
			return candidates[0].ID, "", nil
		case 0:
			return 0, "referenced_unit_has_no_open_invoice", nil
		default:
			return 0, "referenced_unit_ambiguous", nil
		}
	}

	return 0, "", nil
}

func (s *service) matchByAmountAndDate(ctx context.Context, payment *paymentdomain.InboundPayment) (snowflake.ID, string, error) {
	tenant, err := s.tenancy.FindTenantByMobile(ctx, payment.CustomerMobile)
	if err != nil {
		if isNotFound(err) {
			return 0, "", nil
		}
		return 0, "", err
	}

	window := time.Duration(s.policy.Get().MatchWindowDays) * 24 * time.Hour
	from := payment.TransactionDate.Add(-window)
	to := payment.TransactionDate.Add(window)

	candidates, err := s.openInvoices(ctx, func(q *gorm.DB) *gorm.DB {
		return q.Where("tenant_id = ? AND amount = ? AND issued_at BETWEEN ? AND ?",
			tenant.ID, payment.Amount, from, to)
	})
	if err != nil {
		return 0, "", err
	}
	switch len(candidates) {
	case 1:
		if candidates[0].OutstandingAmount < payment.Amount {
			return 0, "candidate_partially_settled", nil
		}
		return candidates[0].ID, "", nil
	case 0:
		return 0, "", nil
	default:
		return 0, "ambiguous_amount_and_date", nil
	}
}

func (s *service) matchByAmount(ctx context.Context, payment *paymentdomain.InboundPayment) (snowflake.ID, string, error) {
	candidates, err := s.openInvoices(ctx, func(q *gorm.DB) *gorm.DB {
		q = q.Where("amount = ? AND outstanding_amount >= ?", payment.Amount, payment.Amount)
		if payment.LandlordID != 0 {
			q = q.Where("landlord_id = ?", payment.LandlordID)
		}
		return q
	})
	if err != nil {
		return 0, "", err
	}
	switch len(candidates) {
	case 1:
		return candidates[0].ID, "", nil
	case 0:
		return 0, "no_candidates", nil
	default:
		return 0, "ambiguous_amount", nil
	}
}

func (s *service) openInvoices(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	q := s.db.WithContext(ctx).
		Where("status IN ?", invoicedomain.OpenStatuses).
		Limit(25)
	err := scope(q).Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// settle allocates the full payment amount against the invoice and marks the
// payment processed, all inside one transaction with both rows locked.
func (s *service) settle(ctx context.Context, payment *paymentdomain.InboundPayment, invoiceID snowflake.ID, quality paymentdomain.MatchQuality) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked paymentdomain.InboundPayment
		if err := pkgdb.ForUpdate(tx).First(&locked, "id = ?", payment.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return paymentdomain.ErrPaymentNotFound
			}
			return err
		}
		if locked.Processed {
			return errAlreadyProcessed
		}

		var invoice invoicedomain.Invoice
		if err := pkgdb.ForUpdate(tx).First(&invoice, "id = ?", invoiceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return invoicedomain.ErrInvoiceNotFound
			}
			return err
		}
		if !invoice.Status.Open() || invoice.OutstandingAmount == 0 {
			return invoicedomain.ErrInvoiceAlreadySettled
		}
		if invoice.OutstandingAmount < locked.Amount {
			return paymentdomain.ErrOverAllocation
		}

		allocation := paymentdomain.PaymentAllocation{
			ID:        s.genID.Generate(),
			PaymentID: locked.ID,
			InvoiceID: invoice.ID,
			Amount:    locked.Amount,
			CreatedBy: fmt.Sprintf("matcher:%s", quality),
		}
		if err := tx.Create(&allocation).Error; err != nil {
			return err
		}

		outstanding := invoice.OutstandingAmount - locked.Amount
		updates := map[string]any{"outstanding_amount": outstanding}
		if outstanding == 0 {
			updates["status"] = invoicedomain.StatusPaid
		}
		if err := tx.Model(&invoicedomain.Invoice{}).Where("id = ?", invoice.ID).Updates(updates).Error; err != nil {
			return err
		}

		if err := tx.Model(&paymentdomain.InboundPayment{}).
			Where("id = ?", locked.ID).
			Updates(map[string]any{"processed": true, "invoice_id": invoice.ID}).Error; err != nil {
			return err
		}

		payment.Processed = true
		payment.InvoiceID = &invoice.ID
		return nil
	})
}

// SweepTenant re-attempts matching for the tenant's unmatched payments.
// Resolving one ambiguity often makes the remaining payments unambiguous.
// Sweeps for the same tenant are serialized.
func (s *service) SweepTenant(ctx context.Context, tenantID snowflake.ID) ([]MatchResult, error) {
	unlock := s.sweeps.Lock(tenantID)
	defer unlock()

	tenant, err := s.tenancy.FindTenant(ctx, tenantID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var payments []paymentdomain.InboundPayment
	query := s.db.WithContext(ctx).
		Where("processed = ? AND status = ? AND invoice_id IS NULL", false, paymentdomain.StatusSuccess).
		Order("transaction_date ASC")
	if tenant.Mobile != "" {
		query = query.Where("customer_mobile = ?", tenant.Mobile)
	} else {
		query = query.Where("landlord_id = ?", tenant.LandlordID)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}

	results := make([]MatchResult, 0, len(payments))
	for i := range payments {
		result, err := s.MatchPayment(ctx, &payments[i])
		if err != nil {
			s.log.Warn("sweep match failed",
				zap.Int64("tenant_id", int64(tenantID)),
				zap.Int64("payment_id", int64(payments[i].ID)),
				zap.Error(err),
			)
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *service) ListUnmatched(ctx context.Context, filter UnmatchedFilter) ([]paymentdomain.InboundPayment, error) {
	query := s.db.WithContext(ctx).
		Where("processed = ? AND invoice_id IS NULL AND status = ?", false, paymentdomain.StatusSuccess).
		Order("received_at DESC")
	if filter.LandlordID != nil {
		query = query.Where("landlord_id = ?", *filter.LandlordID)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var payments []paymentdomain.InboundPayment
	if err := query.Limit(limit).Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}

func normalizeInvoiceNumber(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	raw = strings.ReplaceAll(raw, "/", "-")
	if !strings.Contains(raw, "-") && strings.HasPrefix(raw, "INV") {
		// "INV2024000123" -> "INV-2024-000123"
		digits := raw[3:]
		if len(digits) > 4 {
			return "INV-" + digits[:4] + "-" + digits[4:]
		}
	}
	return raw
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) ||
		errors.Is(err, tenancydomain.ErrTenantNotFound) ||
		errors.Is(err, tenancydomain.ErrUnitNotFound)
}
