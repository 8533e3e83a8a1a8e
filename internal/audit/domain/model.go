package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActivityLog struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	UserID     snowflake.ID   `json:"user_id" gorm:"index"`
	Action     string         `json:"action" gorm:"type:text;not null"`
	EntityType string         `json:"entity_type" gorm:"type:text;not null;index"`
	EntityID   string         `json:"entity_id" gorm:"type:text;index"`
	Details    datatypes.JSON `json:"details" gorm:"type:jsonb"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (ActivityLog) TableName() string { return "activity_logs" }
