package decision

import (
	"strings"
	"testing"

	"github.com/autohealai/autoheal-core/internal/models"
)

func TestAnalyzeKnownPattern(t *testing.T) {
	m := NewMaker()

	got := m.Analyze("error_rate_spike", "high", []string{"restart the pods"})

	if !strings.Contains(got, "Root cause identified: error_rate_spike") {
		t.Errorf("missing root cause part: %q", got)
	}
	if !strings.Contains(got, "Known pattern detected - automated healing available") {
		t.Errorf("expected known-pattern part: %q", got)
	}
	if !strings.Contains(got, "HIGH severity - immediate action required") {
		t.Errorf("expected urgency part: %q", got)
	}
	if !strings.Contains(got, "Recommendations available: 1 actions") {
		t.Errorf("expected recommendations part: %q", got)
	}
}

func TestAnalyzeVariants(t *testing.T) {
	m := NewMaker()

	tests := []struct {
		name      string
		rootCause string
		severity  string
		want      string
	}{
		{"unknown cause", "solar flares", "medium", "Unknown pattern - conservative approach recommended"},
		{"no cause", "", "low", "No root cause identified - will attempt general recovery"},
		{"normalized cause matches", "Error-Rate Spike", "low", "Known pattern detected"},
		{"standard severity", "timeout", "low", "Low severity - standard remediation"},
		{"critical severity", "timeout", "critical", "CRITICAL severity - immediate action required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := m.Analyze(tt.rootCause, tt.severity, nil)
			if !strings.Contains(got, tt.want) {
				t.Errorf("Analyze(%q, %q) = %q, want substring %q", tt.rootCause, tt.severity, got, tt.want)
			}
		})
	}
}

func TestPlanCauseTable(t *testing.T) {
	m := NewMaker()

	tests := []struct {
		name        string
		observation string
		wantTypes   []models.ActionType
	}{
		{
			"error rate spike",
			"Incident i-1 affecting checkout | Suspected root cause: error_rate_spike",
			[]models.ActionType{models.ActionRestartPod, models.ActionScaleUp},
		},
		{
			"spaced pattern form",
			"detected pod crash loop on payments",
			[]models.ActionType{models.ActionRollback, models.ActionRestartPod},
		},
		{
			"database connections",
			"database connection pool exhausted",
			[]models.ActionType{models.ActionRestartPod, models.ActionFailover},
		},
		{
			"no match falls back to restart",
			"something entirely novel",
			[]models.ActionType{models.ActionRestartPod},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := m.Plan("i-1", "checkout", "prod", tt.observation, "", nil)
			if len(plan.Actions) != len(tt.wantTypes) {
				t.Fatalf("got %d actions, want %d: %+v", len(plan.Actions), len(tt.wantTypes), plan.Actions)
			}
			for i, want := range tt.wantTypes {
				if plan.Actions[i].ActionType != want {
					t.Errorf("action[%d] = %s, want %s", i, plan.Actions[i].ActionType, want)
				}
			}
		})
	}
}

func TestPlanFirstMatchWins(t *testing.T) {
	m := NewMaker()

	// Observation mentions two table causes; only the first declared rule
	// contributes actions.
	plan := m.Plan("i-1", "svc", "ns", "error_rate_spike after latency_spike", "", nil)

	types := actionTypes(plan)
	want := []models.ActionType{models.ActionRestartPod, models.ActionScaleUp}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("got %v, want %v", types, want)
		}
	}
}

func TestPlanHints(t *testing.T) {
	m := NewMaker()

	// Only the first two hints are considered; duplicates by type collapse.
	plan := m.Plan("i-1", "svc", "ns", "cpu_overload detected",
		"", []string{"scale up the service", "rollback the deploy", "enable circuit breaker"})

	types := actionTypes(plan)
	// cpu_overload gives scale_up + increase_resources; hint 1 scale_up is a
	// duplicate, hint 2 adds rollback, hint 3 is ignored. Max three actions.
	want := []models.ActionType{models.ActionScaleUp, models.ActionIncreaseResources, models.ActionRollback}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("got %v, want %v", types, want)
		}
	}
}

func TestPlanShape(t *testing.T) {
	m := NewMaker()

	plan := m.Plan("i-9", "checkout", "prod", "memory_overload", "orientation text", nil)

	if plan.PlanID == "" {
		t.Error("plan id not set")
	}
	if plan.IncidentID != "i-9" {
		t.Errorf("incident id = %q", plan.IncidentID)
	}
	if plan.Decision != "Execute 2 healing actions for checkout" {
		t.Errorf("decision = %q", plan.Decision)
	}
	if plan.EstimatedDurationSeconds != 60 {
		t.Errorf("estimated duration = %d, want 60", plan.EstimatedDurationSeconds)
	}
	for _, a := range plan.Actions {
		if a.Target != "prod/checkout" {
			t.Errorf("action target = %q, want prod/checkout", a.Target)
		}
		if a.ActionID == "" {
			t.Error("action id not set")
		}
		if a.Parameters["service"] != "checkout" || a.Parameters["namespace"] != "prod" {
			t.Errorf("action parameters missing target fields: %v", a.Parameters)
		}
	}
}

func TestPlanConfidence(t *testing.T) {
	m := NewMaker()

	tests := []struct {
		name        string
		observation string
		orientation string
		want        float64
	}{
		// Known pattern: 0.7 + 0.15, low-risk actions only.
		{"known pattern", "error_rate_spike", "Known pattern detected - automated healing available", 0.85},
		// "Unknown pattern" contains "known pattern" too: 0.7 + 0.15 - 0.2.
		{"unknown pattern nets small penalty", "novel issue", "Unknown pattern - conservative approach recommended", 0.65},
		// No pattern wording at all, fallback restart only.
		{"neutral orientation", "novel issue", "No root cause identified", 0.7},
		// pod_crash_loop includes rollback, a high-risk action: 0.85 - 0.1.
		{"high risk penalty", "pod_crash_loop", "Known pattern detected", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := m.Plan("i-1", "svc", "ns", tt.observation, tt.orientation, nil)
			if diff := plan.Confidence - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("confidence = %v, want %v", plan.Confidence, tt.want)
			}
		})
	}
}

func TestPlanRiskAssessment(t *testing.T) {
	m := NewMaker()

	high := m.Plan("i-1", "svc", "ns", "pod_crash_loop", "", nil)
	if !strings.HasPrefix(high.RiskAssessment, "HIGH:") {
		t.Errorf("risk = %q, want HIGH banner", high.RiskAssessment)
	}

	medium := m.Plan("i-1", "svc", "ns", "connection_error", "", nil)
	if !strings.HasPrefix(medium.RiskAssessment, "MEDIUM:") {
		t.Errorf("risk = %q, want MEDIUM banner", medium.RiskAssessment)
	}

	low := m.Plan("i-1", "svc", "ns", "nothing recognizable", "", nil)
	if !strings.HasPrefix(low.RiskAssessment, "LOW:") {
		t.Errorf("risk = %q, want LOW banner", low.RiskAssessment)
	}
}

func TestPlanDeterminism(t *testing.T) {
	m := NewMaker()

	a := m.Plan("i-1", "svc", "ns", "timeout calling upstream", "Known pattern detected", []string{"restart it"})
	b := m.Plan("i-1", "svc", "ns", "timeout calling upstream", "Known pattern detected", []string{"restart it"})

	if len(a.Actions) != len(b.Actions) {
		t.Fatalf("action counts differ: %d vs %d", len(a.Actions), len(b.Actions))
	}
	for i := range a.Actions {
		if a.Actions[i].ActionType != b.Actions[i].ActionType {
			t.Errorf("action[%d] types differ: %s vs %s", i, a.Actions[i].ActionType, b.Actions[i].ActionType)
		}
	}
	if a.Confidence != b.Confidence {
		t.Errorf("confidence differs: %v vs %v", a.Confidence, b.Confidence)
	}
	if a.RiskAssessment != b.RiskAssessment {
		t.Errorf("risk differs: %q vs %q", a.RiskAssessment, b.RiskAssessment)
	}
}

func actionTypes(plan models.HealingPlan) []models.ActionType {
	types := make([]models.ActionType, 0, len(plan.Actions))
	for _, a := range plan.Actions {
		types = append(types, a.ActionType)
	}
	return types
}
