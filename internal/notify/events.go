package notify

import "time"

// ExecutionEvent is handed to the external transport for every recorded
// execution.
type ExecutionEvent struct {
	EventID      string    `json:"event_id"`
	ExecutionID  uint      `json:"execution_id"`
	AutomationID uint      `json:"automation_id"`
	LeadID       uint      `json:"lead_id"`
	ClinicID     uint      `json:"clinic_id"`
	TriggerDay   int       `json:"trigger_day"`
	Message      string    `json:"message"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// ReplyEvent is posted when a lead answers an automation whose rule asks to
// be notified.
type ReplyEvent struct {
	ExecutionID    uint      `json:"execution_id"`
	AutomationID   uint      `json:"automation_id"`
	AutomationName string    `json:"automation_name"`
	LeadID         uint      `json:"lead_id"`
	ClinicID       uint      `json:"clinic_id"`
	RepliedAt      time.Time `json:"replied_at"`
}
