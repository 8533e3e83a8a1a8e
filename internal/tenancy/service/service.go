package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/period"
	"github.com/nyumbanilabs/nyumbani/internal/tenancy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// BillingInputs are the usage metrics pricing runs on for one landlord and
// period.
type BillingInputs struct {
	RentCollected money.Amount
	UnitCount     int
}

// Service is the read surface the billing engine has over the
// property-management store.
type Service interface {
	BillingInputs(ctx context.Context, landlordID snowflake.ID, p period.Period) (BillingInputs, error)
	FindTenantByMobile(ctx context.Context, mobile string) (*domain.Tenant, error)
	FindTenantByUnit(ctx context.Context, propertyCode, unitLabel string) (*domain.Tenant, error)
	FindTenant(ctx context.Context, tenantID snowflake.ID) (*domain.Tenant, error)
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type service struct {
	db  *gorm.DB
	log *zap.Logger
}

func New(p Params) Service {
	return &service{db: p.DB, log: p.Log.Named("tenancy.service")}
}

var Module = fx.Module("tenancy",
	fx.Provide(New),
)

// BillingInputs sums successful inbound payments received for the landlord's
// tenants during the period and counts the landlord's units.
func (s *service) BillingInputs(ctx context.Context, landlordID snowflake.ID, p period.Period) (BillingInputs, error) {
	var rentCollected int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0)
		 FROM inbound_payments
		 WHERE landlord_id = ?
		   AND status = 'success'
		   AND transaction_date >= ? AND transaction_date < ?`,
		landlordID, p.Start, p.NextStart(),
	).Scan(&rentCollected).Error
	if err != nil {
		return BillingInputs{}, err
	}

	var unitCount int64
	err = s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM units u
		 JOIN properties pr ON pr.id = u.property_id
		 WHERE pr.landlord_id = ?`,
		landlordID,
	).Scan(&unitCount).Error
	if err != nil {
		return BillingInputs{}, err
	}

	return BillingInputs{
		RentCollected: money.Amount(rentCollected),
		UnitCount:     int(unitCount),
	}, nil
}

func (s *service) FindTenantByMobile(ctx context.Context, mobile string) (*domain.Tenant, error) {
	normalized := domain.NormalizeMobile(mobile)
	if normalized == "" {
		return nil, domain.ErrTenantNotFound
	}

	var tenants []domain.Tenant
	err := s.db.WithContext(ctx).
		Where("mobile = ?", normalized).
		Limit(2).
		Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	// A shared number is ambiguous, not a match.
	if len(tenants) != 1 {
		return nil, domain.ErrTenantNotFound
	}
	return &tenants[0], nil
}

func (s *service) FindTenantByUnit(ctx context.Context, propertyCode, unitLabel string) (*domain.Tenant, error) {
	propertyCode = strings.ToUpper(strings.TrimSpace(propertyCode))
	unitLabel = strings.ToUpper(strings.TrimSpace(unitLabel))
	if propertyCode == "" || unitLabel == "" {
		return nil, domain.ErrUnitNotFound
	}

	var unit domain.Unit
	err := s.db.WithContext(ctx).Raw(
		`SELECT u.*
		 FROM units u
		 JOIN properties pr ON pr.id = u.property_id
		 WHERE UPPER(pr.code) = ? AND UPPER(u.label) = ?`,
		propertyCode, unitLabel,
	).Scan(&unit).Error
	if err != nil {
		return nil, err
	}
	if unit.ID == 0 {
		return nil, domain.ErrUnitNotFound
	}

	var tenant domain.Tenant
	err = s.db.WithContext(ctx).
		Where("unit_id = ?", unit.ID).
		First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

func (s *service) FindTenant(ctx context.Context, tenantID snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := s.db.WithContext(ctx).First(&tenant, "id = ?", tenantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
