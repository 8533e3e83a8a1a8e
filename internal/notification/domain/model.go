package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Notification struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	UserID      snowflake.ID `json:"user_id" gorm:"not null;index"`
	Title       string       `json:"title" gorm:"type:text;not null"`
	Message     string       `json:"message" gorm:"type:text;not null"`
	RelatedType string       `json:"related_type" gorm:"type:text"`
	RelatedID   string       `json:"related_id" gorm:"type:text"`
	ReadAt      *time.Time   `json:"read_at"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }
