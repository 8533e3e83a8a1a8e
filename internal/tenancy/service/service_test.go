package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	paymentdomain "github.com/nyumbanilabs/nyumbani/internal/payment/domain"
	"github.com/nyumbanilabs/nyumbani/internal/period"
	"github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type tenancyFixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	service  Service
	landlord domain.Landlord
	property domain.Property
}

func newTenancyFixture(t *testing.T) *tenancyFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.Landlord{}, &domain.Property{}, &domain.Unit{}, &domain.Tenant{},
		&paymentdomain.InboundPayment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &tenancyFixture{
		db:      db,
		node:    node,
		service: New(Params{DB: db, Log: zap.NewNop()}),
	}
	f.landlord = domain.Landlord{ID: node.Generate(), Name: "Wanjiku Holdings"}
	require.NoError(t, db.Create(&f.landlord).Error)
	f.property = domain.Property{ID: node.Generate(), LandlordID: f.landlord.ID, Name: "Nyumbani Court", Code: "NYB12"}
	require.NoError(t, db.Create(&f.property).Error)
	return f
}

func (f *tenancyFixture) seedUnit(t *testing.T, label string) domain.Unit {
	t.Helper()
	unit := domain.Unit{ID: f.node.Generate(), PropertyID: f.property.ID, Label: label, Occupied: true}
	require.NoError(t, f.db.Create(&unit).Error)
	return unit
}

func (f *tenancyFixture) seedTenant(t *testing.T, name, mobile string, unitID *snowflake.ID) domain.Tenant {
	t.Helper()
	tenant := domain.Tenant{
		ID:         f.node.Generate(),
		LandlordID: f.landlord.ID,
		UnitID:     unitID,
		FullName:   name,
		Mobile:     domain.NormalizeMobile(mobile),
	}
	require.NoError(t, f.db.Create(&tenant).Error)
	return tenant
}

func (f *tenancyFixture) seedPayment(t *testing.T, amount money.Amount, status paymentdomain.Status, txDate time.Time) {
	t.Helper()
	payment := paymentdomain.InboundPayment{
		ID:                   f.node.Generate(),
		LandlordID:           f.landlord.ID,
		Source:               paymentdomain.SourceMpesa,
		TransactionReference: f.node.Generate().String(),
		Amount:               amount,
		Currency:             "KES",
		Status:               status,
		TransactionDate:      txDate,
		ReceivedAt:           txDate,
		RawPayload:           []byte(`{}`),
	}
	require.NoError(t, f.db.Create(&payment).Error)
}

func TestBillingInputs_SumsSuccessfulPaymentsInPeriod(t *testing.T) {
	f := newTenancyFixture(t)
	july := period.Of(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	f.seedPayment(t, 10_000_000, paymentdomain.StatusSuccess, time.Date(2026, 7, 10, 9, 0, 0, 0, time.UTC))
	f.seedPayment(t, 2_500_000, paymentdomain.StatusSuccess, time.Date(2026, 7, 28, 18, 0, 0, 0, time.UTC))
	f.seedPayment(t, 4_000_000, paymentdomain.StatusFailed, time.Date(2026, 7, 12, 9, 0, 0, 0, time.UTC))
	f.seedPayment(t, 9_000_000, paymentdomain.StatusSuccess, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	f.seedUnit(t, "A1")
	f.seedUnit(t, "A2")
	f.seedUnit(t, "B7")

	inputs, err := f.service.BillingInputs(context.Background(), f.landlord.ID, july)
	require.NoError(t, err)
	assert.Equal(t, money.Amount(12_500_000), inputs.RentCollected)
	assert.Equal(t, 3, inputs.UnitCount)
}

func TestBillingInputs_EmptyLandlord(t *testing.T) {
	f := newTenancyFixture(t)

	inputs, err := f.service.BillingInputs(context.Background(), f.node.Generate(), period.Of(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), inputs.RentCollected)
	assert.Equal(t, 0, inputs.UnitCount)
}

func TestFindTenantByMobile_NormalizesInput(t *testing.T) {
	f := newTenancyFixture(t)
	tenant := f.seedTenant(t, "Atieno Odhiambo", "0708123456", nil)

	for _, raw := range []string{"0708123456", "+254708123456", "254708123456", "708123456"} {
		found, err := f.service.FindTenantByMobile(context.Background(), raw)
		require.NoError(t, err, raw)
		assert.Equal(t, tenant.ID, found.ID, raw)
	}
}

func TestFindTenantByMobile_SharedNumberIsAmbiguous(t *testing.T) {
	f := newTenancyFixture(t)
	f.seedTenant(t, "Atieno Odhiambo", "0708123456", nil)
	f.seedTenant(t, "Brian Odhiambo", "0708123456", nil)

	_, err := f.service.FindTenantByMobile(context.Background(), "0708123456")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestFindTenantByUnit_CaseInsensitive(t *testing.T) {
	f := newTenancyFixture(t)
	unit := f.seedUnit(t, "B7")
	tenant := f.seedTenant(t, "Atieno Odhiambo", "0708123456", &unit.ID)

	found, err := f.service.FindTenantByUnit(context.Background(), "nyb12", "b7")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, found.ID)
}

func TestFindTenantByUnit_VacantUnit(t *testing.T) {
	f := newTenancyFixture(t)
	f.seedUnit(t, "C3")

	_, err := f.service.FindTenantByUnit(context.Background(), "NYB12", "C3")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	_, err = f.service.FindTenantByUnit(context.Background(), "NYB12", "Z9")
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
}
