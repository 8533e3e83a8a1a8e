package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/money"
	"github.com/nyumbanilabs/nyumbani/internal/period"
	"github.com/nyumbanilabs/nyumbani/internal/smsusage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service aggregates metered SMS cost for billing and records sends for the
// SMS transport collaborator.
type Service interface {
	SumCost(ctx context.Context, landlordID snowflake.ID, p period.Period) (money.Amount, error)
	Record(ctx context.Context, landlordID snowflake.ID, cost money.Amount, sentAt time.Time) error
}

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func New(p Params) Service {
	return &service{
		db:    p.DB,
		log:   p.Log.Named("smsusage.service"),
		genID: p.GenID,
	}
}

var Module = fx.Module("smsusage",
	fx.Provide(New),
)

func (s *service) SumCost(ctx context.Context, landlordID snowflake.ID, p period.Period) (money.Amount, error) {
	var total int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(cost), 0)
		 FROM sms_usage_records
		 WHERE landlord_id = ? AND sent_at >= ? AND sent_at < ?`,
		landlordID, p.Start, p.NextStart(),
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return money.Amount(total), nil
}

func (s *service) Record(ctx context.Context, landlordID snowflake.ID, cost money.Amount, sentAt time.Time) error {
	record := domain.SmsUsageRecord{
		ID:         s.genID.Generate(),
		LandlordID: landlordID,
		Cost:       cost,
		SentAt:     sentAt.UTC(),
	}
	return s.db.WithContext(ctx).Create(&record).Error
}
