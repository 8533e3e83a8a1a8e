package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/observability/metrics"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"github.com/nyumbanilabs/nyumbani/internal/paymentstatus/domain"
	"github.com/nyumbanilabs/nyumbani/internal/paymentstatus/hub"
	tenancydomain "github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// InitiateInput describes a new STK push. CheckoutRequestID comes from the
// gateway when the push is initiated there; left empty, a local one is
// generated for flows where the gateway call happens out of process.
type InitiateInput struct {
	CheckoutRequestID string
	MerchantRequestID string
	LandlordID        snowflake.ID
	InvoiceID         *snowflake.ID
	Phone             string
	Amount            money.Amount
}

// Tracker is the MpesaTransaction state machine plus its subscription
// surface. The only transition is pending to completed or failed.
type Tracker interface {
	Initiate(ctx context.Context, in InitiateInput) (*domain.MpesaTransaction, error)
	Resolve(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc, receiptNumber string) (*domain.MpesaTransaction, bool, error)
	Lookup(ctx context.Context, key string) (*domain.MpesaTransaction, error)
	Watch(ctx context.Context, key string) (*domain.Update, *hub.Subscription, error)
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Hub     *hub.Hub
	Metrics *metrics.Metrics `optional:"true"`
}

type tracker struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	hub     *hub.Hub
	metrics *metrics.Metrics
}

func New(p Params) Tracker {
	return &tracker{
		db:      p.DB,
		log:     p.Log.Named("paymentstatus.tracker"),
		genID:   p.GenID,
		hub:     p.Hub,
		metrics: p.Metrics,
	}
}

var Module = fx.Module("paymentstatus",
	fx.Provide(hub.NewHub),
	fx.Provide(New),
	fx.Provide(func(t Tracker) paymentdomain.StatusResolver { return t.(*tracker) }),
)

func (t *tracker) Initiate(ctx context.Context, in InitiateInput) (*domain.MpesaTransaction, error) {
	id := t.genID.Generate()
	checkoutRequestID := strings.TrimSpace(in.CheckoutRequestID)
	if checkoutRequestID == "" {
		checkoutRequestID = fmt.Sprintf("ws_CO_%s_%d",
			time.Now().UTC().Format("02012006150405"), id.Int64())
	}

	tx := domain.MpesaTransaction{
		ID:                id,
		CheckoutRequestID: checkoutRequestID,
		MerchantRequestID: strings.TrimSpace(in.MerchantRequestID),
		LandlordID:        in.LandlordID,
		InvoiceID:         in.InvoiceID,
		Phone:             tenancydomain.NormalizeMobile(in.Phone),
		Amount:            in.Amount,
		Status:            domain.StatusPending,
	}
	if err := t.db.WithContext(ctx).Create(&tx).Error; err != nil {
		return nil, err
	}

	t.publish(tx)
	t.log.Info("stk push tracked",
		zap.String("checkout_request_id", tx.CheckoutRequestID),
		zap.Int64("amount", tx.Amount.Cents()),
	)
	return &tx, nil
}

// Resolve applies the provider callback. The guarded UPDATE makes the
// transition exactly-once under at-least-once delivery: a second callback
// finds no pending row and becomes a no-op. The bool reports whether this
// call performed the transition.
func (t *tracker) Resolve(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc, receiptNumber string) (*domain.MpesaTransaction, bool, error) {
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return nil, false, domain.ErrTransactionNotFound
	}

	status := domain.StatusCompleted
	if resultCode != 0 {
		status = domain.StatusFailed
	}

	result := t.db.WithContext(ctx).
		Model(&domain.MpesaTransaction{}).
		Where("checkout_request_id = ? AND status = ?", checkoutRequestID, domain.StatusPending).
		Updates(map[string]any{
			"status":               status,
			"result_code":          resultCode,
			"result_desc":          resultDesc,
			"mpesa_receipt_number": receiptNumber,
		})
	if result.Error != nil {
		return nil, false, result.Error
	}

	var tx domain.MpesaTransaction
	err := t.db.WithContext(ctx).First(&tx, "checkout_request_id = ?", checkoutRequestID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, domain.ErrTransactionNotFound
	}
	if err != nil {
		return nil, false, err
	}

	transitioned := result.RowsAffected > 0
	if transitioned {
		t.publish(tx)
		t.metrics.RecordStatusTransition(ctx, string(tx.Status))
		t.log.Info("stk transaction resolved",
			zap.String("checkout_request_id", checkoutRequestID),
			zap.String("status", string(tx.Status)),
			zap.Int("result_code", resultCode),
		)
	} else {
		t.log.Info("stk callback replay ignored",
			zap.String("checkout_request_id", checkoutRequestID),
			zap.String("status", string(tx.Status)),
		)
	}
	return &tx, transitioned, nil
}

// ResolveCallback lets webhook ingestion settle the tracker and recover the
// landlord and invoice the push was initiated for.
func (t *tracker) ResolveCallback(ctx context.Context, checkoutRequestID string, resultCode int, resultDesc, receiptNumber string) (*paymentdomain.ResolvedTransaction, error) {
	tx, _, err := t.Resolve(ctx, checkoutRequestID, resultCode, resultDesc, receiptNumber)
	if err != nil {
		return nil, err
	}
	return &paymentdomain.ResolvedTransaction{
		LandlordID: tx.LandlordID,
		InvoiceID:  tx.InvoiceID,
		Phone:      tx.Phone,
		Amount:     tx.Amount,
	}, nil
}

// Lookup finds a transaction by checkout request id, or by invoice id for
// merchant-side reconciliation flows.
func (t *tracker) Lookup(ctx context.Context, key string) (*domain.MpesaTransaction, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrTransactionNotFound
	}

	var tx domain.MpesaTransaction
	err := t.db.WithContext(ctx).First(&tx, "checkout_request_id = ?", key).Error
	if err == nil {
		return &tx, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if invoiceID, parseErr := snowflake.ParseString(key); parseErr == nil {
		err = t.db.WithContext(ctx).
			Order("created_at DESC").
			First(&tx, "invoice_id = ?", invoiceID).Error
		if err == nil {
			return &tx, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, domain.ErrTransactionNotFound
}

// Watch returns the current state plus a live subscription under the same
// key, so a subscriber cannot miss the transition between snapshot and
// stream.
func (t *tracker) Watch(ctx context.Context, key string) (*domain.Update, *hub.Subscription, error) {
	tx, err := t.Lookup(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	sub, last, err := t.hub.Subscribe(tx.CheckoutRequestID)
	if err != nil {
		return nil, nil, err
	}

	snapshot := domain.UpdateFrom(*tx)
	if last != nil && last.At.After(snapshot.At) {
		snapshot = *last
	}
	return &snapshot, sub, nil
}

func (t *tracker) publish(tx domain.MpesaTransaction) {
	keys := []string{tx.CheckoutRequestID}
	if tx.InvoiceID != nil {
		keys = append(keys, invoiceKey(*tx.InvoiceID))
	}
	t.hub.Publish(keys, domain.UpdateFrom(tx))
}

func invoiceKey(invoiceID snowflake.ID) string {
	return "invoice:" + invoiceID.String()
}
