package service

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
	"github.com/nyumbanilabs/nyumbani/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service records operator-visible activity. Best effort: persistence
// failures are logged and swallowed so they never fail the calling operation.
type Service interface {
	LogActivity(ctx context.Context, userID snowflake.ID, action, entityType, entityID string, details map[string]any)
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
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
	}
}

var Module = fx.Module("audit",
	fx.Provide(New),
)

func (s *service) LogActivity(ctx context.Context, userID snowflake.ID, action, entityType, entityID string, details map[string]any) {
	var payload []byte
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			s.log.Warn("failed to encode audit details", zap.String("action", action), zap.Error(err))
		} else {
			payload = raw
		}
	}

	row := domain.ActivityLog{
		ID:         s.genID.Generate(),
		UserID:     userID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    payload,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.log.Warn("failed to persist activity log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.Error(err),
		)
	}
}
