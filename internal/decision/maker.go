package decision

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/autohealai/autoheal-core/internal/models"
)

// candidate pairs an action type with the reasoning that selected it.
type candidate struct {
	actionType models.ActionType
	reasoning  string
}

// causeRule maps a normalized root-cause keyword to its ordered remedies.
// Declaration order matters: the first matching rule wins and later rules
// are not merged in.
type causeRule struct {
	pattern string
	actions []candidate
}

var causeRules = []causeRule{
	{"error_rate_spike", []candidate{
		{models.ActionRestartPod, "Restart problematic pods to clear state"},
		{models.ActionScaleUp, "Scale up to handle load if needed"},
	}},
	{"latency_spike", []candidate{
		{models.ActionScaleUp, "Scale up to reduce load per instance"},
		{models.ActionCircuitBreaker, "Enable circuit breaker for slow dependencies"},
	}},
	{"cpu_overload", []candidate{
		{models.ActionScaleUp, "Add more replicas to distribute load"},
		{models.ActionIncreaseResources, "Increase CPU limits if scaling not possible"},
	}},
	{"memory_overload", []candidate{
		{models.ActionRestartPod, "Restart pods to clear memory"},
		{models.ActionIncreaseResources, "Increase memory limits"},
	}},
	{"pod_crash_loop", []candidate{
		{models.ActionRollback, "Rollback to previous stable version"},
		{models.ActionRestartPod, "Restart with fresh state"},
	}},
	{"connection_error", []candidate{
		{models.ActionCircuitBreaker, "Enable circuit breaker"},
		{models.ActionFailover, "Failover to healthy instances"},
	}},
	{"timeout", []candidate{
		{models.ActionScaleUp, "Add capacity to reduce latency"},
		{models.ActionRateLimit, "Apply rate limiting to prevent overload"},
	}},
	{"out_of_memory", []candidate{
		{models.ActionRestartPod, "Restart to clear memory state"},
		{models.ActionIncreaseResources, "Increase memory allocation"},
	}},
	{"database", []candidate{
		{models.ActionRestartPod, "Restart to reset connections"},
		{models.ActionFailover, "Failover to replica if available"},
	}},
}

// Maker generates healing orientations and plans. It is pure and stateless
// aside from its static cause table: identical inputs produce the same
// action sequence, risk and confidence (only ids differ).
type Maker struct{}

// NewMaker constructs a decision maker.
func NewMaker() *Maker {
	return &Maker{}
}

// Analyze produces the orientation narrative for an incident: root-cause
// presence, whether it matches a known cause pattern, severity urgency and
// available hints.
func (m *Maker) Analyze(rootCause, severity string, hints []string) string {
	parts := make([]string, 0, 4)

	if rootCause != "" {
		parts = append(parts, fmt.Sprintf("Root cause identified: %s", rootCause))
		if matchesKnownPattern(normalize(rootCause)) {
			parts = append(parts, "Known pattern detected - automated healing available")
		} else {
			parts = append(parts, "Unknown pattern - conservative approach recommended")
		}
	} else {
		parts = append(parts, "No root cause identified - will attempt general recovery")
	}

	switch severity {
	case "critical", "high":
		parts = append(parts, fmt.Sprintf("%s severity - immediate action required", strings.ToUpper(severity)))
	default:
		parts = append(parts, fmt.Sprintf("%s severity - standard remediation", titleCase(severity)))
	}

	if len(hints) > 0 {
		parts = append(parts, fmt.Sprintf("Recommendations available: %d actions", len(hints)))
	}

	return strings.Join(parts, " | ")
}

// Plan builds a healing plan from the observation and orientation produced
// by the earlier OODA phases, plus any caller-supplied action hints.
func (m *Maker) Plan(incidentID, service, namespace, observation, orientation string, hints []string) models.HealingPlan {
	target := fmt.Sprintf("%s/%s", namespace, service)

	actions := make([]models.HealingAction, 0, 3)
	for _, cand := range selectCandidates(observation, hints) {
		actions = append(actions, models.HealingAction{
			ActionID:   uuid.NewString(),
			ActionType: cand.actionType,
			Target:     target,
			Parameters: actionParameters(cand.actionType, service, namespace),
			Reasoning:  cand.reasoning,
			RiskLevel:  actionRisk(cand.actionType),
			Reversible: cand.actionType != models.ActionCustom,
		})
	}

	// Safe default when nothing matched.
	if len(actions) == 0 {
		actions = append(actions, models.HealingAction{
			ActionID:   uuid.NewString(),
			ActionType: models.ActionRestartPod,
			Target:     target,
			Parameters: map[string]any{"replicas": 1, "strategy": "rolling"},
			Reasoning:  "Default recovery action - restart pods with rolling update",
			RiskLevel:  models.RiskLow,
			Reversible: true,
		})
	}

	return models.HealingPlan{
		PlanID:                   uuid.NewString(),
		IncidentID:               incidentID,
		Observation:              observation,
		Orientation:              orientation,
		Decision:                 fmt.Sprintf("Execute %d healing actions for %s", len(actions), service),
		Actions:                  actions,
		EstimatedDurationSeconds: len(actions) * 30,
		Confidence:               planConfidence(actions, orientation),
		RiskAssessment:           planRisk(actions),
	}
}

// selectCandidates picks actions from the cause table (first matching rule
// wins) and from the first two hint strings, deduplicated by action type
// and truncated to three.
func selectCandidates(observation string, hints []string) []candidate {
	selected := make([]candidate, 0, 4)
	obs := strings.ToLower(observation)

	for _, rule := range causeRules {
		spaced := strings.ReplaceAll(rule.pattern, "_", " ")
		if strings.Contains(obs, spaced) || strings.Contains(obs, rule.pattern) {
			selected = append(selected, rule.actions...)
			break
		}
	}

	for _, hint := range firstN(hints, 2) {
		h := strings.ToLower(hint)
		switch {
		case strings.Contains(h, "restart"):
			selected = append(selected, candidate{models.ActionRestartPod, hint})
		case strings.Contains(h, "scale"):
			selected = append(selected, candidate{models.ActionScaleUp, hint})
		case strings.Contains(h, "rollback"):
			selected = append(selected, candidate{models.ActionRollback, hint})
		case strings.Contains(h, "circuit"):
			selected = append(selected, candidate{models.ActionCircuitBreaker, hint})
		}
	}

	seen := make(map[models.ActionType]struct{}, len(selected))
	unique := make([]candidate, 0, len(selected))
	for _, cand := range selected {
		if _, ok := seen[cand.actionType]; ok {
			continue
		}
		seen[cand.actionType] = struct{}{}
		unique = append(unique, cand)
	}

	if len(unique) > 3 {
		unique = unique[:3]
	}
	return unique
}

func actionParameters(t models.ActionType, service, namespace string) map[string]any {
	params := map[string]any{
		"service":   service,
		"namespace": namespace,
	}

	switch t {
	case models.ActionRestartPod:
		params["strategy"] = "rolling"
		params["max_unavailable"] = 1
	case models.ActionScaleUp:
		params["increment"] = 1
		params["max_replicas"] = 10
	case models.ActionRollback:
		params["revision"] = -1
	case models.ActionIncreaseResources:
		params["cpu_multiplier"] = 1.5
		params["memory_multiplier"] = 1.5
	}

	return params
}

func actionRisk(t models.ActionType) models.RiskLevel {
	switch t {
	case models.ActionRollback, models.ActionScaleDown, models.ActionCustom:
		return models.RiskHigh
	case models.ActionIncreaseResources, models.ActionFailover:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// planRisk is the max of action risks, rendered as a review banner.
func planRisk(actions []models.HealingAction) string {
	hasMedium := false
	for _, a := range actions {
		switch a.RiskLevel {
		case models.RiskHigh:
			return "HIGH: Plan contains high-risk actions. Manual review recommended."
		case models.RiskMedium:
			hasMedium = true
		}
	}
	if hasMedium {
		return "MEDIUM: Plan contains moderately risky actions. Monitor closely."
	}
	return "LOW: Plan contains low-risk, reversible actions."
}

// planConfidence starts at 0.7, rewarded for a recognised pattern in the
// orientation, penalised for an unknown pattern or high-risk actions, and
// clamped to [0.3, 0.95].
func planConfidence(actions []models.HealingAction, orientation string) float64 {
	confidence := 0.7
	lower := strings.ToLower(orientation)

	// "unknown pattern" also contains "known pattern", so an unknown
	// cause nets -0.05 overall.
	if strings.Contains(lower, "known pattern") {
		confidence += 0.15
	}
	if strings.Contains(lower, "unknown pattern") {
		confidence -= 0.2
	}
	for _, a := range actions {
		if a.RiskLevel == models.RiskHigh {
			confidence -= 0.1
			break
		}
	}

	if confidence < 0.3 {
		return 0.3
	}
	if confidence > 0.95 {
		return 0.95
	}
	return confidence
}

func matchesKnownPattern(normalized string) bool {
	for _, rule := range causeRules {
		if strings.Contains(normalized, rule.pattern) {
			return true
		}
	}
	return false
}

// normalize lowercases and folds separators so "Error-Rate Spike" matches
// the error_rate_spike table entry.
func normalize(value string) string {
	v := strings.ToLower(value)
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "-", "_")
	return v
}

func titleCase(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + strings.ToLower(value[1:])
}

func firstN(values []string, n int) []string {
	if len(values) <= n {
		return values
	}
	return values[:n]
}
