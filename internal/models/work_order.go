package models

import "time"

// WorkOrder is a corrective maintenance order (OT). SLA values are derived
// at read time and never stored.
type WorkOrder struct {
	ID          uint     `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID   uint     `gorm:"not null;index:idx_company_status" json:"companyId"`
	MachineID   *uint    `gorm:"index" json:"machineId,omitempty"`
	Title       string   `gorm:"size:255;not null" json:"title"`
	Description string   `gorm:"type:text" json:"description"`
	Priority    Priority `gorm:"size:8;not null;default:P3" json:"priority"`
	Status      Status   `gorm:"size:16;not null;default:PENDING;index:idx_company_status" json:"status"`
	AssignedTo  string   `gorm:"size:64;index" json:"assignedTo"`
	CreatedBy   string   `gorm:"size:64" json:"createdBy"`

	RequiresQA bool   `gorm:"default:false" json:"requiresQa"`
	QAStatus   string `gorm:"size:16" json:"qaStatus"`

	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	ScheduledDate *time.Time `json:"scheduledDate,omitempty"`
	StartedDate   *time.Time `json:"startedDate,omitempty"`
	CompletedDate *time.Time `json:"completedDate,omitempty"`

	// Waiting fields are kept after resume as a historical trace.
	WaitingReason      WaitingReason `gorm:"size:16" json:"waitingReason"`
	WaitingDescription string        `gorm:"type:text" json:"waitingDescription"`
	WaitingETA         *time.Time    `gorm:"index" json:"waitingEta,omitempty"`
	WaitingSince       *time.Time    `json:"waitingSince,omitempty"`

	RequiresReturnToProduction    bool       `gorm:"not null;default:false" json:"requiresReturnToProduction"`
	ReturnToProductionConfirmed   bool       `gorm:"not null;default:false" json:"returnToProductionConfirmed"`
	ReturnToProductionConfirmedAt *time.Time `json:"returnToProductionConfirmedAt,omitempty"`
	ReturnToProductionConfirmedBy string     `gorm:"size:64" json:"returnToProductionConfirmedBy"`
	ReturnToProductionNotes       string     `gorm:"type:text" json:"returnToProductionNotes"`

	ClosureTitle        string      `gorm:"size:255" json:"closureTitle"`
	DiagnosisNotes      string      `gorm:"type:text" json:"diagnosisNotes"`
	WorkPerformedNotes  string      `gorm:"type:text" json:"workPerformedNotes"`
	ResultNotes         Outcome     `gorm:"size:16" json:"resultNotes"`
	ConfirmedCause      string      `gorm:"size:255" json:"confirmedCause"`
	FixType             FixType     `gorm:"size:16" json:"fixType"`
	ClosingMode         ClosingMode `gorm:"size:16" json:"closingMode"`
	FinalComponentID    *uint       `json:"finalComponentId,omitempty"`
	FinalSubcomponentID *uint       `json:"finalSubcomponentId,omitempty"`
	Effectiveness       *int        `json:"effectiveness,omitempty"`
	ClosureNotes        string      `gorm:"type:text" json:"closureNotes"`
	ClosedBy            string      `gorm:"size:64" json:"closedBy"`

	CancelReason string     `gorm:"type:text" json:"cancelReason"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`

	Failures     []FailureOccurrence `gorm:"many2many:work_order_failures" json:"failures,omitempty"`
	DowntimeLogs []DowntimeLog       `gorm:"foreignKey:WorkOrderID" json:"downtimeLogs,omitempty"`
	WorkLogs     []WorkLog           `gorm:"foreignKey:WorkOrderID" json:"workLogs,omitempty"`
}

// FailureOccurrence is a fault report raised from the shop floor. The
// lifecycle only reads its flags; it never mutates the record.
type FailureOccurrence struct {
	ID                uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID         uint       `gorm:"not null;index" json:"companyId"`
	MachineID         *uint      `gorm:"index" json:"machineId,omitempty"`
	ComponentID       *uint      `gorm:"index" json:"componentId,omitempty"`
	Title             string     `gorm:"size:255;not null" json:"title"`
	Description       string     `gorm:"type:text" json:"description"`
	CausedDowntime    bool       `gorm:"default:false" json:"causedDowntime"`
	IsSafetyRelated   bool       `gorm:"default:false" json:"isSafetyRelated"`
	IsObservation     bool       `gorm:"default:false" json:"isObservation"`
	DowntimeStartedAt *time.Time `json:"downtimeStartedAt,omitempty"`
	ReportedBy        string     `gorm:"size:64" json:"reportedBy"`
	ReportedAt        time.Time  `json:"reportedAt"`
	CreatedAt         time.Time  `json:"createdAt"`
}

// WorkOrderWatcher is a user following a work order's transitions.
type WorkOrderWatcher struct {
	WorkOrderID uint      `gorm:"primaryKey" json:"workOrderId"`
	UserID      string    `gorm:"primaryKey;size:64" json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WorkOrderTransition is one committed lifecycle change, kept for audit.
type WorkOrderTransition struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	WorkOrderID uint      `gorm:"not null;index" json:"workOrderId"`
	Transition  string    `gorm:"size:32;not null" json:"transition"`
	FromStatus  Status    `gorm:"size:16" json:"fromStatus"`
	ToStatus    Status    `gorm:"size:16" json:"toStatus"`
	Actor       string    `gorm:"size:64" json:"actor"`
	Note        string    `gorm:"type:text" json:"note"`
	CreatedAt   time.Time `json:"createdAt"`
}
