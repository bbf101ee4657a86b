package models

import "time"

// HealingStatus tracks a healing run through the OODA phases.
type HealingStatus string

const (
	HealingPending    HealingStatus = "pending"
	HealingObserving  HealingStatus = "observing"
	HealingOrienting  HealingStatus = "orienting"
	HealingDeciding   HealingStatus = "deciding"
	HealingActing     HealingStatus = "acting"
	HealingValidating HealingStatus = "validating"
	HealingCompleted  HealingStatus = "completed"
	HealingFailed     HealingStatus = "failed"
	HealingCancelled  HealingStatus = "cancelled"
)

// Terminal reports whether the status is an end state.
func (s HealingStatus) Terminal() bool {
	return s == HealingCompleted || s == HealingFailed || s == HealingCancelled
}

// ActionType enumerates supported remediation actions.
type ActionType string

const (
	ActionRestartPod        ActionType = "restart_pod"
	ActionScaleUp           ActionType = "scale_up"
	ActionScaleDown         ActionType = "scale_down"
	ActionRollback          ActionType = "rollback"
	ActionIncreaseResources ActionType = "increase_resources"
	ActionCircuitBreaker    ActionType = "circuit_breaker"
	ActionFailover          ActionType = "failover"
	ActionRateLimit         ActionType = "rate_limit"
	ActionCustom            ActionType = "custom"
)

// KnownActionType reports whether t is a supported action type.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionRestartPod, ActionScaleUp, ActionScaleDown, ActionRollback,
		ActionIncreaseResources, ActionCircuitBreaker, ActionFailover,
		ActionRateLimit, ActionCustom:
		return true
	}
	return false
}

// RiskLevel is a coarse classification of an action's potential for
// unwanted side effects.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// HealingRequest asks the engine to start a healing run for an incident.
type HealingRequest struct {
	IncidentID         string   `json:"incident_id" binding:"required"`
	TargetService      string   `json:"target_service" binding:"required"`
	TargetNamespace    string   `json:"target_namespace"`
	Severity           string   `json:"severity"`
	RootCause          string   `json:"root_cause"`
	RecommendedActions []string `json:"recommended_actions"`
	Force              bool     `json:"force"`
}

// HealingAction is a single planned remediation step.
type HealingAction struct {
	ActionID   string         `json:"action_id"`
	ActionType ActionType     `json:"action_type"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning"`
	RiskLevel  RiskLevel      `json:"risk_level"`
	Reversible bool           `json:"reversible"`
}

// HealingPlan is the immutable output of the Decide phase: an ordered
// sequence of actions plus the reasoning narrative that produced them.
type HealingPlan struct {
	PlanID                   string          `json:"plan_id"`
	IncidentID               string          `json:"incident_id"`
	Observation              string          `json:"observation"`
	Orientation              string          `json:"orientation"`
	Decision                 string          `json:"decision"`
	Actions                  []HealingAction `json:"actions"`
	EstimatedDurationSeconds int             `json:"estimated_duration_seconds"`
	Confidence               float64         `json:"confidence"`
	RiskAssessment           string          `json:"risk_assessment"`
}

// HealingResult tracks one healing run from trigger to terminal state.
type HealingResult struct {
	HealingID     string        `json:"healing_id"`
	IncidentID    string        `json:"incident_id"`
	TargetService string        `json:"target_service"`
	Status        HealingStatus `json:"status"`
	Plan          *HealingPlan  `json:"plan,omitempty"`

	ActionsExecuted   int `json:"actions_executed"`
	ActionsSuccessful int `json:"actions_successful"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ResultMessage string `json:"result_message,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// OODAPhase names the loop phase a healing run is in.
type OODAPhase string

const (
	PhasePending  OODAPhase = "pending"
	PhaseObserve  OODAPhase = "observe"
	PhaseOrient   OODAPhase = "orient"
	PhaseDecide   OODAPhase = "decide"
	PhaseAct      OODAPhase = "act"
	PhaseValidate OODAPhase = "validate"
)

// OODAState exposes mid-flight introspection of a healing run.
type OODAState struct {
	HealingID   string    `json:"healing_id"`
	Phase       OODAPhase `json:"phase"`
	Observation string    `json:"observation,omitempty"`
	Orientation string    `json:"orientation,omitempty"`
	Decision    string    `json:"decision,omitempty"`
}
