package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nyumbanilabs/nyumbani/internal/paymentstatus/domain"
	"github.com/nyumbanilabs/nyumbani/internal/paymentstatus/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type trackerFixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	hub     *hub.Hub
	tracker Tracker
}

func newTrackerFixture(t *testing.T) *trackerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.MpesaTransaction{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	h := hub.NewHub()
	tracker := New(Params{DB: db, Log: zap.NewNop(), GenID: node, Hub: h})
	return &trackerFixture{db: db, node: node, hub: h, tracker: tracker}
}

func (f *trackerFixture) initiate(t *testing.T) *domain.MpesaTransaction {
	t.Helper()
	invoiceID := f.node.Generate()
	tx, err := f.tracker.Initiate(context.Background(), InitiateInput{
		LandlordID: f.node.Generate(),
		InvoiceID:  &invoiceID,
		Phone:      "0708123456",
		Amount:     4_500_000,
	})
	require.NoError(t, err)
	return tx
}

func TestInitiate_GeneratesCheckoutRequestID(t *testing.T) {
	f := newTrackerFixture(t)

	tx := f.initiate(t)
	assert.NotEmpty(t, tx.CheckoutRequestID)
	assert.Equal(t, domain.StatusPending, tx.Status)
	assert.Equal(t, "254708123456", tx.Phone)
}

func TestResolve_TransitionsExactlyOnce(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	tx := f.initiate(t)

	resolved, transitioned, err := f.tracker.Resolve(ctx, tx.CheckoutRequestID, 0, "Processed", "RGH7YUI9X2")
	require.NoError(t, err)
	assert.True(t, transitioned)
	assert.Equal(t, domain.StatusCompleted, resolved.Status)
	assert.Equal(t, "RGH7YUI9X2", resolved.MpesaReceiptNumber)
	require.NotNil(t, resolved.ResultCode)
	assert.Equal(t, 0, *resolved.ResultCode)

	// Provider redelivery: same callback again is a no-op.
	again, transitioned, err := f.tracker.Resolve(ctx, tx.CheckoutRequestID, 0, "Processed", "RGH7YUI9X2")
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, domain.StatusCompleted, again.Status)
}

func TestResolve_TerminalStateNeverChanges(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	tx := f.initiate(t)

	_, transitioned, err := f.tracker.Resolve(ctx, tx.CheckoutRequestID, 1032, "Request cancelled by user", "")
	require.NoError(t, err)
	require.True(t, transitioned)

	// A conflicting late callback cannot flip failed to completed.
	final, transitioned, err := f.tracker.Resolve(ctx, tx.CheckoutRequestID, 0, "Processed", "RGH7YUI9X2")
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Equal(t, domain.StatusFailed, final.Status)
}

func TestResolve_UnknownTransaction(t *testing.T) {
	f := newTrackerFixture(t)

	_, _, err := f.tracker.Resolve(context.Background(), "ws_CO_unknown", 0, "", "")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestLookup_ByCheckoutRequestIDAndInvoiceID(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	tx := f.initiate(t)

	byCheckout, err := f.tracker.Lookup(ctx, tx.CheckoutRequestID)
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byCheckout.ID)

	byInvoice, err := f.tracker.Lookup(ctx, tx.InvoiceID.String())
	require.NoError(t, err)
	assert.Equal(t, tx.ID, byInvoice.ID)

	_, err = f.tracker.Lookup(ctx, "ws_CO_missing")
	assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestWatch_SnapshotThenDelta(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	tx := f.initiate(t)

	snapshot, sub, err := f.tracker.Watch(ctx, tx.CheckoutRequestID)
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, domain.StatusPending, snapshot.Status)

	_, _, err = f.tracker.Resolve(ctx, tx.CheckoutRequestID, 0, "Processed", "RGH7YUI9X2")
	require.NoError(t, err)

	select {
	case got := <-sub.Updates():
		assert.Equal(t, domain.StatusCompleted, got.Status)
		assert.Equal(t, "RGH7YUI9X2", got.MpesaReceiptNumber)
	case <-time.After(time.Second):
		t.Fatal("no delta delivered after resolve")
	}
}

func TestWatch_ByInvoiceKeySeesTransition(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	tx := f.initiate(t)

	snapshot, sub, err := f.tracker.Watch(ctx, tx.InvoiceID.String())
	require.NoError(t, err)
	defer sub.Close()
	assert.Equal(t, domain.StatusPending, snapshot.Status)

	_, _, err = f.tracker.Resolve(ctx, tx.CheckoutRequestID, 0, "Processed", "RGH7YUI9X2")
	require.NoError(t, err)

	select {
	case got := <-sub.Updates():
		assert.Equal(t, domain.StatusCompleted, got.Status)
	case <-time.After(time.Second):
		t.Fatal("invoice-keyed subscriber missed the transition")
	}
}

func TestResolveCallback_ReturnsAttribution(t *testing.T) {
	f := newTrackerFixture(t)
	ctx := context.Background()
	tx := f.initiate(t)

	resolver, ok := f.tracker.(*tracker)
	require.True(t, ok)

	resolved, err := resolver.ResolveCallback(ctx, tx.CheckoutRequestID, 0, "Processed", "RGH7YUI9X2")
	require.NoError(t, err)
	assert.Equal(t, tx.LandlordID, resolved.LandlordID)
	require.NotNil(t, resolved.InvoiceID)
	assert.Equal(t, *tx.InvoiceID, *resolved.InvoiceID)
	assert.Equal(t, tx.Amount, resolved.Amount)
}
