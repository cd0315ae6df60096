package models

import "time"

// DowntimeLog is one interval during which the affected machine was down.
// OpenSlot carries the work-order id while the interval is open and is
// cleared on close; its unique index keeps at most one open log per order.
type DowntimeLog struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkOrderID  uint       `gorm:"not null;index" json:"workOrderId"`
	MachineID    *uint      `gorm:"index" json:"machineId,omitempty"`
	StartedAt    time.Time  `gorm:"not null" json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	TotalMinutes *int       `json:"totalMinutes,omitempty"`
	OpenSlot     *uint      `gorm:"uniqueIndex" json:"-"`
	Notes        string     `gorm:"type:text" json:"notes"`
	OpenedBy     string     `gorm:"size:64" json:"openedBy"`
	ClosedBy     string     `gorm:"size:64" json:"closedBy"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// IsOpen reports whether the interval has not been closed yet.
func (d DowntimeLog) IsOpen() bool {
	return d.EndedAt == nil
}
