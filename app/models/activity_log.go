package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is an append-only record of user-visible marketplace actions.
type ActivityLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	UserID     string            `gorm:"type:char(36);index" json:"user_id"`
	Action     string            `gorm:"type:varchar(64);index" json:"action"`
	EntityType string            `gorm:"type:varchar(32)" json:"entity_type"`
	EntityID   string            `gorm:"type:varchar(191);index" json:"entity_id"`
	Metadata   datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt  time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}
