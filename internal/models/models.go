package models

import (
	"time"

	"gorm.io/datatypes"
)

// Lead lifecycle statuses.
const (
	LeadStatusNew       = "NEW"
	LeadStatusContacted = "CONTACTED"
	LeadStatusHot       = "HOT"
	LeadStatusWarm      = "WARM"
	LeadStatusCold      = "COLD"
	LeadStatusBooked    = "BOOKED"
	LeadStatusClosed    = "CLOSED"
	LeadStatusLost      = "LOST"
)

// TerminalStatuses are never followed up.
var TerminalStatuses = []string{LeadStatusClosed, LeadStatusLost}

func IsTerminalStatus(status string) bool {
	for _, s := range TerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func IsValidLeadStatus(status string) bool {
	switch status {
	case LeadStatusNew, LeadStatusContacted, LeadStatusHot, LeadStatusWarm,
		LeadStatusCold, LeadStatusBooked, LeadStatusClosed, LeadStatusLost:
		return true
	}
	return false
}

const (
	RoleAdmin = "ADMIN"
	RoleStaff = "STAFF"
)

const (
	DirectionInbound  = "INBOUND"
	DirectionOutbound = "OUTBOUND"
)

// Activity types written by the automation engine.
const (
	ActivityAutomationExecuted = "AUTOMATION_EXECUTED"
	ActivityAutomationReply    = "AUTOMATION_REPLY"
	ActivityFollowUpNeeded     = "FOLLOW_UP_NEEDED"
)

// Clinic is the tenant boundary
type Clinic struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Clinic) TableName() string {
	return "clinics"
}

// User is a clinic staff member
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ClinicID  uint      `gorm:"index;not null" json:"clinic_id"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex" json:"email"`
	Role      string    `gorm:"type:varchar(20);not null;default:'STAFF'" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Lead represents a prospective patient
type Lead struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ClinicID        uint       `gorm:"index:idx_leads_clinic_status;not null" json:"clinic_id"`
	Name            string     `gorm:"type:varchar(255)" json:"name"`
	Phone           string     `gorm:"type:varchar(50);index" json:"phone"`
	Email           string     `gorm:"type:varchar(255)" json:"email"`
	Status          string     `gorm:"type:varchar(20);not null;index:idx_leads_clinic_status" json:"status"`
	LastContactedAt *time.Time `json:"last_contacted_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Executions []AutomationExecution `gorm:"foreignKey:LeadID;constraint:OnDelete:CASCADE;" json:"-"`
	Messages   []Message             `gorm:"foreignKey:LeadID;constraint:OnDelete:CASCADE;" json:"-"`
}

func (Lead) TableName() string {
	return "leads"
}

// Message is a message exchanged with a lead
type Message struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LeadID    uint      `gorm:"index;not null" json:"lead_id"`
	ClinicID  uint      `gorm:"index;not null" json:"clinic_id"`
	Direction string    `gorm:"type:varchar(10);not null" json:"direction"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// AutomationRule is a nurture policy: when a lead in TargetStatus has been
// inactive for one of TriggerDays, Message is recorded against it.
type AutomationRule struct {
	ID                    uint                        `gorm:"primaryKey" json:"id"`
	ClinicID              uint                        `gorm:"index;not null" json:"clinic_id"`
	Name                  string                      `gorm:"type:varchar(255);not null" json:"name"`
	TriggerDays           datatypes.JSONSlice[int]    `json:"trigger_days"`
	Message               string                      `gorm:"type:text;not null" json:"message"`
	PersonalizationFields datatypes.JSONSlice[string] `json:"personalization_fields"`
	TargetStatus          string                      `gorm:"type:varchar(20);not null" json:"target_status"`
	IsActive              bool                        `gorm:"index" json:"is_active"`
	NotifyOnReply         bool                        `gorm:"default:false" json:"notify_on_reply"`
	TotalExecutions       int64                       `gorm:"default:0" json:"total_executions"`
	ReplyCount            int64                       `gorm:"default:0" json:"reply_count"`
	SuccessRate           *float64                    `json:"success_rate"`
	LastExecutedAt        *time.Time                  `json:"last_executed_at"`
	CreatedAt             time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`

	Executions []AutomationExecution `gorm:"foreignKey:AutomationID;constraint:OnDelete:CASCADE;" json:"-"`
}

func (AutomationRule) TableName() string {
	return "automation_rules"
}

// AutomationExecution is one firing of a rule against a lead. Only Replied
// and RepliedAt change after insert.
type AutomationExecution struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	AutomationID uint       `gorm:"not null;index:idx_exec_rule_lead_time,priority:1;uniqueIndex:idx_exec_window,priority:1" json:"automation_id"`
	LeadID       uint       `gorm:"not null;index:idx_exec_rule_lead_time,priority:2;uniqueIndex:idx_exec_window,priority:2" json:"lead_id"`
	ExecutedAt   time.Time  `gorm:"not null;index:idx_exec_rule_lead_time,priority:3" json:"executed_at"`
	WindowKey    string     `gorm:"type:varchar(32);not null;uniqueIndex:idx_exec_window,priority:3" json:"-"`
	Message      string     `gorm:"type:text" json:"message"`
	Replied      bool       `gorm:"default:false" json:"replied"`
	RepliedAt    *time.Time `json:"replied_at"`
}

func (AutomationExecution) TableName() string {
	return "automation_executions"
}

// Activity is an audit trail entry
type Activity struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ClinicID    uint      `gorm:"index;not null" json:"clinic_id"`
	UserID      *uint     `gorm:"index" json:"user_id"`
	LeadID      *uint     `gorm:"index" json:"lead_id"`
	Type        string    `gorm:"type:varchar(50);not null" json:"type"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Activity) TableName() string {
	return "activities"
}

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{
		&Clinic{},
		&User{},
		&Lead{},
		&Message{},
		&AutomationRule{},
		&AutomationExecution{},
		&Activity{},
	}
}
