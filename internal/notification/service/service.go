package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/notification/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service is the notification sink. Billing treats delivery as fire and
// forget; callers log failures and carry on.
type Service interface {
	Notify(ctx context.Context, userID snowflake.ID, title, message, relatedType, relatedID string) error
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
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
	}
}

var Module = fx.Module("notification",
	fx.Provide(New),
)

func (s *service) Notify(ctx context.Context, userID snowflake.ID, title, message, relatedType, relatedID string) error {
	row := domain.Notification{
		ID:          s.genID.Generate(),
		UserID:      userID,
		Title:       title,
		Message:     message,
		RelatedType: relatedType,
		RelatedID:   relatedID,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Error("failed to persist notification",
			zap.Int64("user_id", int64(userID)),
			zap.String("related_type", relatedType),
			zap.Error(err),
		)
		return err
	}
	return nil
}
