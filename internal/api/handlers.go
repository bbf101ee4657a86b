package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/autohealai/autoheal-core/internal/audit"
	"github.com/autohealai/autoheal-core/internal/config"
	"github.com/autohealai/autoheal-core/internal/engine"
	"github.com/autohealai/autoheal-core/internal/incident"
	"github.com/autohealai/autoheal-core/internal/models"
	"github.com/autohealai/autoheal-core/internal/utils"
)

// Handler exposes the autoheal pipeline over REST.
type Handler struct {
	correlator *incident.Correlator
	store      *incident.Store
	engine     *engine.Engine
	trail      *audit.Trail
	cfg        *config.Config
	logger     *slog.Logger

	healLatency *utils.LatencyTracker
}

// NewHandler wires the transport layer to the pipeline components.
func NewHandler(correlator *incident.Correlator, store *incident.Store, eng *engine.Engine, trail *audit.Trail, cfg *config.Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		correlator:  correlator,
		store:       store,
		engine:      eng,
		trail:       trail,
		cfg:         cfg,
		logger:      logger,
		healLatency: utils.NewLatencyTracker(512),
	}
}

// RegisterRoutes mounts all versioned routes plus the health probe.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/events/anomaly", h.ingestAnomaly)
		v1.POST("/events/log-analysis", h.ingestLogAnalysis)

		v1.GET("/incidents", h.listIncidents)
		v1.GET("/incidents/stats", h.incidentStats)
		v1.GET("/incidents/:id", h.getIncident)
		v1.PATCH("/incidents/:id", h.updateIncident)
		v1.DELETE("/incidents/:id", h.resolveIncident)
		v1.POST("/incidents/:id/heal", h.healIncident)

		v1.POST("/heal", h.triggerHealing)
		v1.GET("/heal/history", h.healingHistory)
		v1.GET("/heal/stats", h.healingStats)
		v1.GET("/heal/:id", h.getHealing)
		v1.GET("/heal/:id/state", h.getHealingState)
		v1.POST("/heal/:id/approve", h.approveHealing)
		v1.POST("/heal/:id/cancel", h.cancelHealing)

		v1.POST("/audit/records", h.appendAuditRecord)
		v1.GET("/audit/records", h.listAuditRecords)
		v1.GET("/audit/records/:id", h.getAuditRecord)
		v1.GET("/audit/incidents/:id/timeline", h.incidentTimeline)
		v1.GET("/audit/healings/:id/trace", h.healingTrace)
		v1.GET("/audit/stats", h.auditStats)

		v1.GET("/config", h.effectiveConfig)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"healing_mode":     string(h.engine.Mode()),
		"active_healings":  h.engine.ActiveCount(),
		"active_incidents": h.store.CountActive(),
	})
}

// --- events ---

func (h *Handler) ingestAnomaly(c *gin.Context) {
	var sig models.AnomalySignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := h.correlator.IngestAnomaly(sig)
	c.JSON(http.StatusAccepted, result)
}

func (h *Handler) ingestLogAnalysis(c *gin.Context) {
	var sig models.LogAnalysisSignal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := h.correlator.IngestLogAnalysis(sig)
	c.JSON(http.StatusAccepted, result)
}

// --- incidents ---

func (h *Handler) listIncidents(c *gin.Context) {
	filter := incident.Filter{
		Status:   models.IncidentStatus(c.Query("status")),
		Severity: models.Severity(c.Query("severity")),
		Service:  c.Query("service"),
	}
	page := intQuery(c, "page", 1)
	pageSize := intQuery(c, "page_size", 20)

	incidents, total := h.store.List(filter, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"incidents": incidents,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

func (h *Handler) getIncident(c *gin.Context) {
	inc, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

type incidentPatch struct {
	Status   *string `json:"status"`
	Severity *string `json:"severity"`
}

func (h *Handler) updateIncident(c *gin.Context) {
	var patch incidentPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	upd := incident.Update{}
	if patch.Status != nil {
		status := models.IncidentStatus(*patch.Status)
		switch status {
		case models.IncidentNew, models.IncidentAnalyzing, models.IncidentHealing,
			models.IncidentAwaitingApproval, models.IncidentResolved, models.IncidentFailed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status: " + *patch.Status})
			return
		}
		upd.Status = &status
	}
	if patch.Severity != nil {
		severity := models.ParseSeverity(*patch.Severity)
		upd.Severity = &severity
	}

	inc, ok := h.store.Apply(c.Param("id"), upd)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

func (h *Handler) resolveIncident(c *gin.Context) {
	inc, ok := h.correlator.Resolve(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	c.JSON(http.StatusOK, inc)
}

// healIncident triggers healing for a known incident, deriving the request
// from the stored incident record.
func (h *Handler) healIncident(c *gin.Context) {
	inc, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		return
	}
	if inc.Status.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "incident is already " + string(inc.Status)})
		return
	}

	h.runTrigger(c, models.HealingRequest{
		IncidentID:         inc.IncidentID,
		TargetService:      inc.TargetService,
		TargetNamespace:    inc.TargetNamespace,
		Severity:           string(inc.Severity),
		RootCause:          inc.RootCause,
		RecommendedActions: inc.HealingActions,
		Force:              c.Query("force") == "true",
	})
}

func (h *Handler) incidentStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total":       h.store.Count(incident.Filter{}),
		"active":      h.store.CountActive(),
		"by_status":   h.store.CountByStatus(),
		"by_severity": h.store.CountBySeverity(),
		"last_24h":    h.store.CountRecent(24 * time.Hour),
	})
}

// --- healing ---

func (h *Handler) triggerHealing(c *gin.Context) {
	var req models.HealingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.runTrigger(c, req)
}

func (h *Handler) runTrigger(c *gin.Context, req models.HealingRequest) {
	start := time.Now()
	result, err := h.engine.Trigger(c.Request.Context(), req)
	if err != nil {
		h.renderEngineError(c, err)
		return
	}

	h.healLatency.Observe(time.Since(start))
	if n := h.healLatency.Count(); n%20 == 0 {
		h.logger.Info("healing trigger latency",
			slog.Duration("p95", h.healLatency.Percentile(95)),
			slog.Int("samples", n))
	}

	c.JSON(http.StatusAccepted, result)
}

func (h *Handler) getHealing(c *gin.Context) {
	result, ok := h.engine.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "healing not found"})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getHealingState(c *gin.Context) {
	state, ok := h.engine.State(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "healing not found"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *Handler) approveHealing(c *gin.Context) {
	if err := h.engine.Approve(c.Param("id")); err != nil {
		h.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"healing_id": c.Param("id"), "status": "approved"})
}

func (h *Handler) cancelHealing(c *gin.Context) {
	result, err := h.engine.Cancel(c.Param("id"))
	if err != nil {
		h.renderEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) healingHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 20)
	history := h.engine.History(c.Query("service"), limit)
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

func (h *Handler) healingStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"mode":                     string(h.engine.Mode()),
		"active":                   h.engine.ActiveCount(),
		"total":                    h.engine.TotalCount(),
		"success_rate":             h.engine.SuccessRate(),
		"average_duration_seconds": h.engine.AverageDuration().Seconds(),
	})
}

// --- audit ---

func (h *Handler) appendAuditRecord(c *gin.Context) {
	var rec models.AuditRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rec.EventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_type is required"})
		return
	}
	stored := h.trail.Append(rec)
	c.JSON(http.StatusCreated, stored)
}

func (h *Handler) listAuditRecords(c *gin.Context) {
	q := audit.Query{
		EventType:   models.AuditEventType(c.Query("event_type")),
		ServiceName: c.Query("service"),
		IncidentID:  c.Query("incident_id"),
		HealingID:   c.Query("healing_id"),
		Page:        intQuery(c, "page", 1),
		PageSize:    intQuery(c, "page_size", 50),
	}
	records, total := h.trail.List(q)
	c.JSON(http.StatusOK, gin.H{
		"records":   records,
		"total":     total,
		"page":      q.Page,
		"page_size": q.PageSize,
	})
}

func (h *Handler) getAuditRecord(c *gin.Context) {
	rec, ok := h.trail.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit record not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) incidentTimeline(c *gin.Context) {
	records := h.trail.Timeline(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"incident_id": c.Param("id"), "timeline": records})
}

func (h *Handler) healingTrace(c *gin.Context) {
	records := h.trail.Trace(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"healing_id": c.Param("id"), "trace": records})
}

func (h *Handler) auditStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"total":         h.trail.Count(audit.Query{}),
		"by_event_type": h.trail.CountByEventType(),
		"last_24h":      h.trail.CountRecent(24 * time.Hour),
		"success_rate":  h.trail.SuccessRate(),
	})
}

// --- config ---

func (h *Handler) effectiveConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"healing_mode":            string(h.cfg.Healing.Mode),
		"healing_enabled":         h.cfg.Healing.Enabled,
		"approval_required":       h.cfg.Healing.ApprovalRequired,
		"max_concurrent_healings": h.cfg.Healing.MaxConcurrentHealings,
		"cooldown_seconds":        h.cfg.Healing.Cooldown.Seconds(),
		"correlation_window":      h.cfg.Incident.CorrelationWindow.String(),
		"executor_url":            h.cfg.Executor.BaseURL,
	})
}

// renderEngineError maps engine rejections to HTTP statuses. Anything that
// is not an admission rejection is a server error.
func (h *Handler) renderEngineError(c *gin.Context, err error) {
	var admission *engine.AdmissionError
	if !errors.As(err, &admission) {
		h.logger.Error("healing request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusBadRequest
	switch admission.Reason {
	case engine.ReasonAlreadyHealing:
		status = http.StatusConflict
	case engine.ReasonConcurrencyLimit, engine.ReasonCooldownActive:
		status = http.StatusTooManyRequests
	case engine.ReasonNotFound:
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"error": admission.Message, "reason": string(admission.Reason)})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v := c.Query(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
