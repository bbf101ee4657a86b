package incident

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autohealai/autoheal-core/internal/models"
)

type recordingSink struct {
	mu      sync.Mutex
	records []models.AuditRecord
}

func (s *recordingSink) Record(rec models.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *recordingSink) byType(t models.AuditEventType) []models.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AuditRecord
	for _, rec := range s.records {
		if rec.EventType == t {
			out = append(out, rec)
		}
	}
	return out
}

type recordingNotifier struct {
	mu       sync.Mutex
	requests []models.HealingRequest
}

func (n *recordingNotifier) RequestHealing(req models.HealingRequest) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.requests = append(n.requests, req)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.requests)
}

func anomaly(eventID, service string) models.AnomalySignal {
	return models.AnomalySignal{
		EventID:        eventID,
		AnomalyType:    "error_rate_spike",
		Severity:       "high",
		TargetService:  service,
		MetricName:     "error_rate",
		CurrentValue:   0.42,
		ThresholdValue: 0.05,
	}
}

func TestIngestAnomalyCreates(t *testing.T) {
	store := NewStore()
	sink := &recordingSink{}
	c := NewCorrelator(store, 15*time.Minute, sink, nil, false, nil)

	result := c.IngestAnomaly(anomaly("e-1", "checkout"))
	if !result.Created || result.Action != "created" {
		t.Fatalf("unexpected result: %+v", result)
	}

	inc, ok := store.Get(result.IncidentID)
	if !ok {
		t.Fatal("incident not stored")
	}
	if inc.Title != "Error Rate Spike on checkout" {
		t.Errorf("title = %q", inc.Title)
	}
	if inc.Description != "Detected error_rate_spike: error_rate = 0.42 (threshold: 0.05)" {
		t.Errorf("description = %q", inc.Description)
	}
	if inc.Status != models.IncidentNew || inc.Severity != models.SeverityHigh {
		t.Errorf("status/severity = %s/%s", inc.Status, inc.Severity)
	}
	if inc.RootCause != "Possible cause: error_rate_spike" {
		t.Errorf("root cause = %q", inc.RootCause)
	}
	if inc.Confidence != 0.7 {
		t.Errorf("confidence = %v, want 0.7", inc.Confidence)
	}
	if inc.TargetNamespace != "default" {
		t.Errorf("namespace = %q, want default", inc.TargetNamespace)
	}

	if got := sink.byType(models.AuditIncidentCreated); len(got) != 1 {
		t.Errorf("incident_created audit records = %d, want 1", len(got))
	}
}

func TestIngestAnomalyCorrelates(t *testing.T) {
	store := NewStore()
	sink := &recordingSink{}
	c := NewCorrelator(store, 15*time.Minute, sink, nil, false, nil)

	first := c.IngestAnomaly(anomaly("e-1", "checkout"))
	second := c.IngestAnomaly(anomaly("e-2", "checkout"))

	if second.Created || second.Action != "correlated" {
		t.Fatalf("unexpected result: %+v", second)
	}
	if second.IncidentID != first.IncidentID {
		t.Errorf("correlated into %s, want %s", second.IncidentID, first.IncidentID)
	}

	inc, _ := store.Get(first.IncidentID)
	if inc.EventCount != 2 || len(inc.EventIDs) != 2 {
		t.Errorf("event count = %d, event ids = %v", inc.EventCount, inc.EventIDs)
	}
	if got := sink.byType(models.AuditIncidentUpdated); len(got) != 1 {
		t.Errorf("incident_updated audit records = %d, want 1", len(got))
	}
}

func TestIngestLogAnalysisOverwritesFindings(t *testing.T) {
	store := NewStore()
	c := NewCorrelator(store, 15*time.Minute, nil, nil, false, nil)

	first := c.IngestLogAnalysis(models.LogAnalysisSignal{
		EventID:            "e-1",
		ServiceName:        "payments",
		Namespace:          "prod",
		ErrorCategory:      "connection_error",
		ErrorCount:         7,
		Severity:           "critical",
		RootCause:          "db pool exhausted",
		Confidence:         0.6,
		SampleMessage:      "connection refused",
		RecommendedActions: []string{"restart pods"},
	})

	inc, _ := store.Get(first.IncidentID)
	if inc.Title != "Connection Error Error in payments" {
		t.Errorf("title = %q", inc.Title)
	}
	if inc.Status != models.IncidentAnalyzing {
		t.Errorf("status = %s, want analyzing", inc.Status)
	}
	if inc.EventCount != 7 {
		t.Errorf("event count seeded = %d, want 7", inc.EventCount)
	}

	// A newer signal's findings replace the stored ones.
	c.IngestLogAnalysis(models.LogAnalysisSignal{
		EventID:            "e-2",
		ServiceName:        "payments",
		Namespace:          "prod",
		ErrorCategory:      "connection_error",
		RootCause:          "replica down",
		Confidence:         0.9,
		RecommendedActions: []string{"failover"},
	})

	inc, _ = store.Get(first.IncidentID)
	if inc.RootCause != "replica down" || inc.Confidence != 0.9 {
		t.Errorf("findings not overwritten: cause=%q confidence=%v", inc.RootCause, inc.Confidence)
	}
	if len(inc.HealingActions) != 1 || inc.HealingActions[0] != "failover" {
		t.Errorf("healing actions = %v", inc.HealingActions)
	}
	if inc.EventCount != 2 {
		t.Errorf("event count after merge = %d, want 2", inc.EventCount)
	}
}

func TestIngestLogAnalysisTruncatesDescription(t *testing.T) {
	store := NewStore()
	c := NewCorrelator(store, 15*time.Minute, nil, nil, false, nil)

	result := c.IngestLogAnalysis(models.LogAnalysisSignal{
		EventID:       "e-1",
		ServiceName:   "payments",
		ErrorCategory: "timeout",
		SampleMessage: strings.Repeat("x", 600),
	})

	inc, _ := store.Get(result.IncidentID)
	if len(inc.Description) != 500 {
		t.Errorf("description length = %d, want 500", len(inc.Description))
	}
}

func TestAutoTriggerOnCreateOnly(t *testing.T) {
	store := NewStore()
	notifier := &recordingNotifier{}
	c := NewCorrelator(store, 15*time.Minute, nil, notifier, true, nil)

	c.IngestAnomaly(anomaly("e-1", "checkout"))
	c.IngestAnomaly(anomaly("e-2", "checkout"))

	if got := notifier.count(); got != 1 {
		t.Errorf("healing requests = %d, want 1 (creation only)", got)
	}
}

func TestAutoTriggerDisabled(t *testing.T) {
	store := NewStore()
	notifier := &recordingNotifier{}
	c := NewCorrelator(store, 15*time.Minute, nil, notifier, false, nil)

	c.IngestAnomaly(anomaly("e-1", "checkout"))

	if got := notifier.count(); got != 0 {
		t.Errorf("healing requests = %d, want 0", got)
	}
}

func TestResolve(t *testing.T) {
	store := NewStore()
	sink := &recordingSink{}
	c := NewCorrelator(store, 15*time.Minute, sink, nil, false, nil)

	result := c.IngestAnomaly(anomaly("e-1", "checkout"))

	inc, ok := c.Resolve(result.IncidentID)
	if !ok {
		t.Fatal("resolve failed")
	}
	if inc.Status != models.IncidentResolved || inc.ResolvedAt == nil {
		t.Errorf("incident not resolved: %+v", inc)
	}
	if got := sink.byType(models.AuditIncidentResolved); len(got) != 1 {
		t.Errorf("incident_resolved audit records = %d, want 1", len(got))
	}

	if _, ok := c.Resolve("missing"); ok {
		t.Error("resolving unknown incident must report false")
	}
}

func TestTitleWords(t *testing.T) {
	tests := []struct{ in, want string }{
		{"error_rate_spike", "Error Rate Spike"},
		{"pod-crash-loop", "Pod Crash Loop"},
		{"timeout", "Timeout"},
		{"OUT_OF_MEMORY", "Out Of Memory"},
	}
	for _, tt := range tests {
		if got := titleWords(tt.in); got != tt.want {
			t.Errorf("titleWords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
