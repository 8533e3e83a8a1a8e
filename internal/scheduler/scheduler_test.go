package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nyumbanilabs/nyumbani/internal/clock"
	"github.com/nyumbanilabs/nyumbani/internal/config"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	notificationdomain "github.com/nyumbanilabs/nyumbani/internal/notification/domain"
	notificationservice "github.com/nyumbanilabs/nyumbani/internal/notification/service"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	plandomain "github.com/nyumbanilabs/nyumbani/internal/plan/domain"
	"github.com/nyumbanilabs/nyumbani/internal/pricing"
	serviceinvoicedomain "github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/domain"
	serviceinvoice "github.com/nyumbanilabs/nyumbani/internal/serviceinvoice/service"
	smsusagedomain "github.com/nyumbanilabs/nyumbani/internal/smsusage/domain"
	smsusage "github.com/nyumbanilabs/nyumbani/internal/smsusage/service"
	subscriptiondomain "github.com/nyumbanilabs/nyumbani/internal/subscription/domain"
	tenancydomain "github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
	tenancy "github.com/nyumbanilabs/nyumbani/internal/tenancy/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type schedulerFixture struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	service *Service
}

func newSchedulerFixture(t *testing.T, policy config.BillingPolicy) *schedulerFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&tenancydomain.Landlord{},
		&tenancydomain.Property{},
		&tenancydomain.Unit{},
		&plandomain.BillingPlan{},
		&plandomain.PlanTier{},
		&subscriptiondomain.LandlordSubscription{},
		&smsusagedomain.SmsUsageRecord{},
		&paymentdomain.InboundPayment{},
		&serviceinvoicedomain.ServiceChargeInvoice{},
		&notificationdomain.Notification{},
	)
	require.NoError(t, err)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	log := zap.NewNop()
	fakeClock := clock.NewFakeClock(time.Date(2026, 8, 2, 3, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingPolicyHolder(policy)

	generator := serviceinvoice.New(serviceinvoice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Calculator: pricing.NewCalculator(log),
		SmsUsage:   smsusage.New(smsusage.Params{DB: db, Log: log, GenID: node}),
		Tenancy:    tenancy.New(tenancy.Params{DB: db, Log: log}),
		Notifications: notificationservice.New(notificationservice.Params{
			DB: db, Log: log, GenID: node,
		}),
		Policy: holder,
	})

	svc := New(Params{
		DB:        db,
		Log:       log,
		Clock:     fakeClock,
		Generator: generator,
		Policy:    holder,
	})

	return &schedulerFixture{db: db, node: node, clock: fakeClock, service: svc}
}

// subscribe seeds a landlord on a 10% commission plan and returns the
// landlord id. withPlan false leaves the subscription pointing at a plan
// that does not exist.
func (f *schedulerFixture) subscribe(t *testing.T, status subscriptiondomain.Status, withPlan bool) snowflake.ID {
	t.Helper()

	landlordID := f.node.Generate()
	require.NoError(t, f.db.Create(&tenancydomain.Landlord{ID: landlordID, Name: "Landlord"}).Error)

	planID := f.node.Generate()
	if withPlan {
		require.NoError(t, f.db.Create(&plandomain.BillingPlan{
			ID:             planID,
			Name:           landlordID.String(),
			BillingModel:   plandomain.BillingModelPercentage,
			PercentageRate: decimal.NullDecimal{Decimal: decimal.NewFromInt(10), Valid: true},
			Currency:       "KES",
		}).Error)
	}

	require.NoError(t, f.db.Create(&subscriptiondomain.LandlordSubscription{
		ID:            f.node.Generate(),
		LandlordID:    landlordID,
		BillingPlanID: planID,
		Status:        status,
	}).Error)
	return landlordID
}

func (f *schedulerFixture) seedRent(t *testing.T, landlordID snowflake.ID, amount money.Amount) {
	t.Helper()
	// The fixture clock sits in early August 2026; the run bills July.
	at := time.Date(2026, 7, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.db.Create(&paymentdomain.InboundPayment{
		ID:                   f.node.Generate(),
		Source:               paymentdomain.SourceMpesa,
		TransactionReference: f.node.Generate().String(),
		LandlordID:           landlordID,
		Amount:               amount,
		Currency:             "KES",
		TransactionDate:      at,
		Status:               paymentdomain.StatusSuccess,
		ReceivedAt:           at,
	}).Error)
}

func TestRunMonthlyBilling_PartialFailureIsolation(t *testing.T) {
	f := newSchedulerFixture(t, config.DefaultBillingPolicy())
	ctx := context.Background()

	healthy := f.subscribe(t, subscriptiondomain.StatusActive, true)
	f.seedRent(t, healthy, 10_000_000)
	broken := f.subscribe(t, subscriptiondomain.StatusActive, false)
	f.seedRent(t, broken, 10_000_000)

	result, err := f.service.RunMonthlyBilling(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	byLandlord := make(map[snowflake.ID]LandlordResult, len(result.Results))
	for _, r := range result.Results {
		byLandlord[r.LandlordID] = r
	}
	assert.True(t, byLandlord[healthy].Created)
	assert.Equal(t, money.Amount(1_000_000), byLandlord[healthy].Amount)
	assert.NotEmpty(t, byLandlord[broken].Err)

	var invoices int64
	require.NoError(t, f.db.Model(&serviceinvoicedomain.ServiceChargeInvoice{}).Count(&invoices).Error)
	assert.Equal(t, int64(1), invoices)
}

func TestRunMonthlyBilling_SkipsNonBillableStatuses(t *testing.T) {
	f := newSchedulerFixture(t, config.DefaultBillingPolicy())

	active := f.subscribe(t, subscriptiondomain.StatusActive, true)
	f.seedRent(t, active, 10_000_000)
	trial := f.subscribe(t, subscriptiondomain.StatusTrial, true)
	f.seedRent(t, trial, 10_000_000)
	suspended := f.subscribe(t, subscriptiondomain.StatusSuspended, true)
	f.seedRent(t, suspended, 10_000_000)
	expired := f.subscribe(t, subscriptiondomain.StatusTrialExpired, true)
	f.seedRent(t, expired, 10_000_000)

	result, err := f.service.RunMonthlyBilling(context.Background())
	require.NoError(t, err)

	// Trial and active bill; suspended and trial_expired never enter the run.
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Succeeded)
}

func TestRunMonthlyBilling_RerunReportsSkips(t *testing.T) {
	f := newSchedulerFixture(t, config.DefaultBillingPolicy())
	ctx := context.Background()

	landlordID := f.subscribe(t, subscriptiondomain.StatusActive, true)
	f.seedRent(t, landlordID, 10_000_000)

	first, err := f.service.RunMonthlyBilling(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Succeeded)

	second, err := f.service.RunMonthlyBilling(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Succeeded)
	assert.Equal(t, 1, second.Skipped)

	var invoices int64
	require.NoError(t, f.db.Model(&serviceinvoicedomain.ServiceChargeInvoice{}).Count(&invoices).Error)
	assert.Equal(t, int64(1), invoices)
}

func TestRunMonthlyBilling_DisabledByPolicy(t *testing.T) {
	policy := config.DefaultBillingPolicy()
	policy.AutomatedBillingEnabled = false
	f := newSchedulerFixture(t, policy)

	landlordID := f.subscribe(t, subscriptiondomain.StatusActive, true)
	f.seedRent(t, landlordID, 10_000_000)

	result, err := f.service.RunMonthlyBilling(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Disabled)
	assert.Equal(t, 0, result.Processed)

	var invoices int64
	require.NoError(t, f.db.Model(&serviceinvoicedomain.ServiceChargeInvoice{}).Count(&invoices).Error)
	assert.Equal(t, int64(0), invoices)
}

func TestRunMonthlyBilling_AdvancesNextBillingDate(t *testing.T) {
	f := newSchedulerFixture(t, config.DefaultBillingPolicy())

	landlordID := f.subscribe(t, subscriptiondomain.StatusActive, true)
	f.seedRent(t, landlordID, 10_000_000)

	_, err := f.service.RunMonthlyBilling(context.Background())
	require.NoError(t, err)

	var sub subscriptiondomain.LandlordSubscription
	require.NoError(t, f.db.First(&sub, "landlord_id = ?", landlordID).Error)
	require.NotNil(t, sub.NextBillingDate)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), sub.NextBillingDate.UTC())
}
