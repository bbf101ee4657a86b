package models

import "time"

// AuditEventType enumerates auditable events across the pipeline.
type AuditEventType string

const (
	AuditIncidentCreated  AuditEventType = "incident_created"
	AuditIncidentUpdated  AuditEventType = "incident_updated"
	AuditIncidentResolved AuditEventType = "incident_resolved"
	AuditHealingStarted   AuditEventType = "healing_started"
	AuditHealingCompleted AuditEventType = "healing_completed"
	AuditHealingFailed    AuditEventType = "healing_failed"
	AuditActionExecuted   AuditEventType = "action_executed"
	AuditDecisionMade     AuditEventType = "decision_made"
)

// AuditRecord is one append-only entry in the audit trail. Records are
// never mutated after write.
type AuditRecord struct {
	RecordID  string         `json:"record_id"`
	EventType AuditEventType `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`

	ServiceName string `json:"service_name"`
	Namespace   string `json:"namespace"`
	IncidentID  string `json:"incident_id,omitempty"`
	HealingID   string `json:"healing_id,omitempty"`

	Description string   `json:"description"`
	Reasoning   string   `json:"reasoning,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`

	Success      *bool  `json:"success,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}
