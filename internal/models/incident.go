package models

import "time"

// IncidentStatus tracks the incident lifecycle.
type IncidentStatus string

const (
	IncidentNew              IncidentStatus = "new"
	IncidentAnalyzing        IncidentStatus = "analyzing"
	IncidentHealing          IncidentStatus = "healing"
	IncidentAwaitingApproval IncidentStatus = "awaiting_approval"
	IncidentResolved         IncidentStatus = "resolved"
	IncidentFailed           IncidentStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentFailed
}

// Severity captures impact levels.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity maps a free-form severity string to a known level,
// defaulting to medium for unrecognised values.
func ParseSeverity(value string) Severity {
	switch Severity(value) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(value)
	default:
		return SeverityMedium
	}
}

// Incident is a correlated, deduplicated record of one or more raw signals
// affecting a single service/namespace pair.
type Incident struct {
	IncidentID  string         `json:"incident_id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Status      IncidentStatus `json:"status"`
	Severity    Severity       `json:"severity"`

	TargetService   string `json:"target_service"`
	TargetNamespace string `json:"target_namespace"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	EventIDs   []string `json:"event_ids"`
	EventCount int      `json:"event_count"`

	RootCause  string  `json:"root_cause,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`

	HealingPlanID  string   `json:"healing_plan_id,omitempty"`
	HealingActions []string `json:"healing_actions,omitempty"`
	HealingResult  string   `json:"healing_result,omitempty"`
}

// AnomalySignal is an anomaly event emitted by the monitoring collaborator.
type AnomalySignal struct {
	EventID         string    `json:"event_id" binding:"required"`
	Timestamp       time.Time `json:"timestamp"`
	SourceService   string    `json:"source_service"`
	AnomalyType     string    `json:"anomaly_type" binding:"required"`
	Severity        string    `json:"severity"`
	TargetService   string    `json:"target_service" binding:"required"`
	TargetNamespace string    `json:"target_namespace"`
	MetricName      string    `json:"metric_name"`
	CurrentValue    float64   `json:"current_value"`
	ThresholdValue  float64   `json:"threshold_value"`
}

// LogAnalysisSignal is a classified log finding emitted by the
// log-intelligence collaborator.
type LogAnalysisSignal struct {
	EventID            string    `json:"event_id" binding:"required"`
	Timestamp          time.Time `json:"timestamp"`
	SourceService      string    `json:"source_service"`
	ServiceName        string    `json:"service_name" binding:"required"`
	Namespace          string    `json:"namespace"`
	ErrorCategory      string    `json:"error_category" binding:"required"`
	ErrorCount         int       `json:"error_count"`
	Severity           string    `json:"severity"`
	RootCause          string    `json:"root_cause"`
	Confidence         float64   `json:"confidence"`
	SampleMessage      string    `json:"sample_message"`
	RecommendedActions []string  `json:"recommended_actions"`
}
