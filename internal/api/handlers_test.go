package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/autohealai/autoheal-core/internal/audit"
	"github.com/autohealai/autoheal-core/internal/config"
	"github.com/autohealai/autoheal-core/internal/decision"
	"github.com/autohealai/autoheal-core/internal/engine"
	"github.com/autohealai/autoheal-core/internal/incident"
	"github.com/autohealai/autoheal-core/internal/models"
)

type noopDispatcher struct{}

func (noopDispatcher) Execute(context.Context, models.HealingAction) (bool, string) {
	return true, "Action completed successfully"
}

type testEnv struct {
	router *gin.Engine
	store  *incident.Store
	engine *engine.Engine
	trail  *audit.Trail
}

func newTestEnv(t *testing.T, mode config.HealingMode) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Incident: config.IncidentConfig{CorrelationWindow: 15 * time.Minute},
		Healing: config.HealingConfig{
			Enabled:               true,
			Mode:                  mode,
			MaxConcurrentHealings: 3,
			Cooldown:              10 * time.Minute,
		},
		Audit: config.AuditConfig{MaxRecords: 1000},
	}

	trail := audit.NewTrail(cfg.Audit.MaxRecords, nil)
	store := incident.NewStore()
	updater := incident.NewStatusUpdater(store, nil)
	eng := engine.New(cfg.Healing, decision.NewMaker(), noopDispatcher{},
		engine.Options{Incidents: updater, Sink: trail}, nil)
	correlator := incident.NewCorrelator(store, cfg.Incident.CorrelationWindow, trail, nil, false, nil)

	router := gin.New()
	NewHandler(correlator, store, eng, trail, cfg, nil).RegisterRoutes(router)

	return &testEnv{router: router, store: store, engine: eng, trail: trail}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func anomalyBody(eventID string) map[string]any {
	return map[string]any{
		"event_id":        eventID,
		"anomaly_type":    "error_rate_spike",
		"severity":        "high",
		"target_service":  "checkout",
		"metric_name":     "error_rate",
		"current_value":   0.4,
		"threshold_value": 0.05,
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "healthy" || body["healing_mode"] != "auto" {
		t.Errorf("body = %v", body)
	}
}

func TestIngestAndListIncidents(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)

	rec := env.do(t, http.MethodPost, "/api/v1/events/anomaly", anomalyBody("e-1"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	first := decodeBody(t, rec)
	if first["action"] != "created" {
		t.Errorf("first ingest action = %v", first["action"])
	}

	rec = env.do(t, http.MethodPost, "/api/v1/events/anomaly", anomalyBody("e-2"))
	if action := decodeBody(t, rec)["action"]; action != "correlated" {
		t.Errorf("second ingest action = %v", action)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/incidents?status=new", nil)
	body := decodeBody(t, rec)
	if body["total"].(float64) != 1 {
		t.Errorf("total = %v", body["total"])
	}

	incidentID := first["incident_id"].(string)
	rec = env.do(t, http.MethodGet, "/api/v1/incidents/"+incidentID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get incident status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/incidents/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing incident status = %d", rec.Code)
	}
}

func TestIngestValidation(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)

	// target_service is required.
	rec := env.do(t, http.MethodPost, "/api/v1/events/anomaly", map[string]any{
		"event_id":     "e-1",
		"anomaly_type": "error_rate_spike",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPatchAndResolveIncident(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)

	created := decodeBody(t, env.do(t, http.MethodPost, "/api/v1/events/anomaly", anomalyBody("e-1")))
	id := created["incident_id"].(string)

	rec := env.do(t, http.MethodPatch, "/api/v1/incidents/"+id, map[string]any{"severity": "low"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch status = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["severity"] != "low" {
		t.Errorf("severity = %v", body["severity"])
	}

	rec = env.do(t, http.MethodPatch, "/api/v1/incidents/"+id, map[string]any{"status": "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus status patch = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/api/v1/incidents/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d", rec.Code)
	}
	inc, _ := env.store.Get(id)
	if inc.Status != models.IncidentResolved {
		t.Errorf("status = %s, want resolved", inc.Status)
	}
}

func TestTriggerHealingLifecycle(t *testing.T) {
	env := newTestEnv(t, config.ModeSemiAuto)

	rec := env.do(t, http.MethodPost, "/api/v1/heal", map[string]any{
		"incident_id":    "i-1",
		"target_service": "checkout",
		"root_cause":     "error_rate_spike",
		"severity":       "high",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("trigger status = %d body=%s", rec.Code, rec.Body.String())
	}
	healingID := decodeBody(t, rec)["healing_id"].(string)

	eventually(t, "run to halt at deciding", func() bool {
		result, ok := env.engine.Get(healingID)
		return ok && result.Status == models.HealingDeciding
	})

	// Duplicate trigger for the same incident conflicts.
	rec = env.do(t, http.MethodPost, "/api/v1/heal", map[string]any{
		"incident_id":    "i-1",
		"target_service": "checkout",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate trigger status = %d, want 409", rec.Code)
	}
	if reason := decodeBody(t, rec)["reason"]; reason != "already_healing" {
		t.Errorf("reason = %v", reason)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/heal/"+healingID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get healing status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/heal/"+healingID+"/state", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get state status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/heal/"+healingID+"/approve", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve status = %d body=%s", rec.Code, rec.Body.String())
	}
	eventually(t, "approved run to complete", func() bool {
		result, _ := env.engine.Get(healingID)
		return result.Status == models.HealingCompleted
	})

	// Cancel after completion is an invalid transition.
	rec = env.do(t, http.MethodPost, "/api/v1/heal/"+healingID+"/cancel", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("cancel terminal status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/heal/history?service=checkout", nil)
	body := decodeBody(t, rec)
	if body["count"].(float64) != 1 {
		t.Errorf("history count = %v", body["count"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/heal/stats", nil)
	stats := decodeBody(t, rec)
	if stats["success_rate"].(float64) != 1.0 {
		t.Errorf("success rate = %v", stats["success_rate"])
	}
}

func TestCooldownMapsTo429(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)

	rec := env.do(t, http.MethodPost, "/api/v1/heal", map[string]any{
		"incident_id":    "i-1",
		"target_service": "checkout",
	})
	healingID := decodeBody(t, rec)["healing_id"].(string)
	eventually(t, "run to complete", func() bool {
		result, _ := env.engine.Get(healingID)
		return result.Status == models.HealingCompleted
	})

	rec = env.do(t, http.MethodPost, "/api/v1/heal", map[string]any{
		"incident_id":    "i-2",
		"target_service": "checkout",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("cooldown trigger status = %d, want 429", rec.Code)
	}
	if reason := decodeBody(t, rec)["reason"]; reason != "cooldown_active" {
		t.Errorf("reason = %v", reason)
	}
}

func TestHealIncidentEndpoint(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)

	created := decodeBody(t, env.do(t, http.MethodPost, "/api/v1/events/anomaly", anomalyBody("e-1")))
	id := created["incident_id"].(string)

	rec := env.do(t, http.MethodPost, "/api/v1/incidents/"+id+"/heal", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("heal incident status = %d body=%s", rec.Code, rec.Body.String())
	}
	healingID := decodeBody(t, rec)["healing_id"].(string)
	eventually(t, "incident healing to complete", func() bool {
		result, _ := env.engine.Get(healingID)
		return result.Status.Terminal()
	})

	// The incident reflects the healing outcome.
	inc, _ := env.store.Get(id)
	if inc.Status != models.IncidentResolved {
		t.Errorf("incident status = %s, want resolved", inc.Status)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/incidents/"+id+"/heal", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("healing a resolved incident = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/incidents/missing/heal", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("healing unknown incident = %d, want 404", rec.Code)
	}
}

func TestAuditEndpoints(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)

	rec := env.do(t, http.MethodPost, "/api/v1/audit/records", map[string]any{
		"event_type":   "incident_created",
		"service_name": "checkout",
		"incident_id":  "i-1",
		"description":  "opened",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("append status = %d body=%s", rec.Code, rec.Body.String())
	}
	recordID := decodeBody(t, rec)["record_id"].(string)

	rec = env.do(t, http.MethodPost, "/api/v1/audit/records", map[string]any{"description": "no type"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing event_type status = %d, want 400", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/records?incident_id=i-1", nil)
	body := decodeBody(t, rec)
	if body["total"].(float64) != 1 {
		t.Errorf("total = %v", body["total"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/records/"+recordID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get record status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/incidents/i-1/timeline", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("timeline status = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/audit/stats", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("audit stats status = %d", rec.Code)
	}
}

func TestIncidentStats(t *testing.T) {
	env := newTestEnv(t, config.ModeAuto)
	for i := 0; i < 3; i++ {
		body := anomalyBody(fmt.Sprintf("e-%d", i))
		body["target_service"] = fmt.Sprintf("svc-%d", i)
		env.do(t, http.MethodPost, "/api/v1/events/anomaly", body)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/incidents/stats", nil)
	stats := decodeBody(t, rec)
	if stats["total"].(float64) != 3 || stats["active"].(float64) != 3 {
		t.Errorf("stats = %v", stats)
	}
}

func TestEffectiveConfig(t *testing.T) {
	env := newTestEnv(t, config.ModeSemiAuto)

	rec := env.do(t, http.MethodGet, "/api/v1/config", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["healing_mode"] != "semi_auto" {
		t.Errorf("mode = %v", body["healing_mode"])
	}
	if body["max_concurrent_healings"].(float64) != 3 {
		t.Errorf("max concurrent = %v", body["max_concurrent_healings"])
	}
}
