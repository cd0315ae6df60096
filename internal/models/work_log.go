package models

import "time"

// WorkLog is an append-only timed activity entry on a work order.
type WorkLog struct {
	ID            uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkOrderID   uint         `gorm:"not null;index" json:"workOrderId"`
	ActivityType  ActivityType `gorm:"size:16;not null" json:"activityType"`
	Description   string       `gorm:"type:text" json:"description"`
	PerformedBy   string       `gorm:"size:64;not null" json:"performedBy"`
	StartedAt     time.Time    `gorm:"not null" json:"startedAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`
	ActualMinutes *int         `json:"actualMinutes,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}
