package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autohealai/autoheal-core/internal/audit"
	"github.com/autohealai/autoheal-core/internal/config"
	"github.com/autohealai/autoheal-core/internal/metrics"
	"github.com/autohealai/autoheal-core/internal/models"
)

// Planner produces orientations and healing plans from incident context.
type Planner interface {
	Analyze(rootCause, severity string, hints []string) string
	Plan(incidentID, service, namespace, observation, orientation string, hints []string) models.HealingPlan
}

// ActionDispatcher executes one planned action against the cluster
// backend. It reports failure as a false result, never as an error.
type ActionDispatcher interface {
	Execute(ctx context.Context, action models.HealingAction) (bool, string)
}

// Observer assembles the Observe-phase context for a healing run. The
// default implementation is local-only; a production observer would pull
// live metrics, logs and topology here.
type Observer interface {
	Observe(ctx context.Context, req models.HealingRequest) (string, error)
}

// Validator performs the post-action health check against the target
// service.
type Validator interface {
	Validate(ctx context.Context, service string) (bool, error)
}

// IncidentUpdater lets the engine reflect healing progress onto the owning
// incident. Calls are best-effort: the engine ignores their outcome.
type IncidentUpdater interface {
	MarkHealing(incidentID, planID string)
	MarkOutcome(incidentID string, succeeded bool, message string)
}

// Engine drives a single incident's healing from Observe through
// Act/Validate, enforcing per-target cooldowns, a global concurrency cap
// and mode-dependent approval gating. It is a shared mutable registry:
// every registry mutation happens under one lock, and the admission checks
// in Trigger are atomic with the registration write.
type Engine struct {
	mu        sync.Mutex
	healings  map[string]*models.HealingResult
	states    map[string]*models.OODAState
	requests  map[string]models.HealingRequest
	cooldowns map[string]time.Time
	history   []*models.HealingResult

	mode          config.HealingMode
	maxConcurrent int
	cooldown      time.Duration

	planner    Planner
	dispatcher ActionDispatcher
	observer   Observer
	validator  Validator
	incidents  IncidentUpdater
	sink       audit.Sink
	logger     *slog.Logger
}

// Options collects optional engine collaborators. Nil fields fall back to
// local defaults (stub observer/validator, no incident updates, no audit).
type Options struct {
	Observer  Observer
	Validator Validator
	Incidents IncidentUpdater
	Sink      audit.Sink
}

// New constructs an engine with the given safety limits and collaborators.
func New(cfg config.HealingConfig, planner Planner, dispatcher ActionDispatcher, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = localObserver{}
	}
	validator := opts.Validator
	if validator == nil {
		validator = stubValidator{}
	}
	maxConcurrent := cfg.MaxConcurrentHealings
	if maxConcurrent < 1 {
		maxConcurrent = 3
	}

	return &Engine{
		healings:      make(map[string]*models.HealingResult),
		states:        make(map[string]*models.OODAState),
		requests:      make(map[string]models.HealingRequest),
		cooldowns:     make(map[string]time.Time),
		mode:          cfg.Mode,
		maxConcurrent: maxConcurrent,
		cooldown:      cfg.Cooldown,
		planner:       planner,
		dispatcher:    dispatcher,
		observer:      observer,
		validator:     validator,
		incidents:     opts.Incidents,
		sink:          opts.Sink,
		logger:        logger,
	}
}

// Mode returns the configured healing mode.
func (e *Engine) Mode() config.HealingMode { return e.mode }

// Trigger admits and starts a healing run for an incident. The admission
// checks (already healing, concurrency cap, cooldown) and the registration
// are atomic as a group, so two concurrent triggers for one incident
// cannot both pass. The pipeline itself runs asynchronously.
func (e *Engine) Trigger(ctx context.Context, req models.HealingRequest) (models.HealingResult, error) {
	if req.TargetNamespace == "" {
		req.TargetNamespace = "default"
	}

	e.mu.Lock()
	if e.isHealingLocked(req.IncidentID) {
		e.mu.Unlock()
		return models.HealingResult{}, alreadyHealing(req.IncidentID)
	}
	if e.activeCountLocked() >= e.maxConcurrent {
		e.mu.Unlock()
		return models.HealingResult{}, concurrencyLimit(e.maxConcurrent)
	}
	if until, ok := e.cooldowns[req.TargetService]; ok && time.Now().UTC().Before(until) && !req.Force {
		e.mu.Unlock()
		return models.HealingResult{}, cooldownActive(req.TargetService)
	}

	healingID := uuid.NewString()
	result := &models.HealingResult{
		HealingID:     healingID,
		IncidentID:    req.IncidentID,
		TargetService: req.TargetService,
		Status:        models.HealingObserving,
		StartedAt:     time.Now().UTC(),
	}
	e.healings[healingID] = result
	e.states[healingID] = &models.OODAState{HealingID: healingID, Phase: PhaseForStatus(models.HealingPending)}
	e.requests[healingID] = req
	snapshot := *result
	e.mu.Unlock()

	e.logger.Info("healing triggered",
		slog.String("healing_id", healingID),
		slog.String("incident_id", req.IncidentID),
		slog.String("mode", string(e.mode)))
	e.emit(models.AuditRecord{
		EventType:   models.AuditHealingStarted,
		ServiceName: req.TargetService,
		Namespace:   req.TargetNamespace,
		IncidentID:  req.IncidentID,
		HealingID:   healingID,
		Description: fmt.Sprintf("Healing started in %s mode", e.mode),
		Reasoning:   req.RootCause,
	})

	switch e.mode {
	case config.ModeSemiAuto:
		go e.planOnly(healingID, req)
	case config.ModeManual:
		go e.analyzeOnly(healingID, req)
	default:
		go e.runLoop(healingID, req)
	}

	return snapshot, nil
}

// Approve resumes a semi-auto healing run that halted at the decide phase.
// Valid only while the run's status is deciding.
func (e *Engine) Approve(healingID string) error {
	e.mu.Lock()
	result, ok := e.healings[healingID]
	if !ok {
		e.mu.Unlock()
		return notFound(healingID)
	}
	if result.Status != models.HealingDeciding {
		status := string(result.Status)
		e.mu.Unlock()
		return invalidState(healingID, status)
	}
	result.Status = models.HealingActing
	req := e.requests[healingID]
	e.mu.Unlock()

	e.logger.Info("healing plan approved", slog.String("healing_id", healingID))
	go e.executeApproved(healingID, req)
	return nil
}

// Cancel force-sets a non-terminal healing run to cancelled. In-flight
// action calls are not interrupted; the act loop observes the cancelled
// status between actions and skips the remainder.
func (e *Engine) Cancel(healingID string) (models.HealingResult, error) {
	e.mu.Lock()
	result, ok := e.healings[healingID]
	if !ok {
		e.mu.Unlock()
		return models.HealingResult{}, notFound(healingID)
	}
	if result.Status.Terminal() {
		status := string(result.Status)
		e.mu.Unlock()
		return models.HealingResult{}, invalidState(healingID, status)
	}
	now := time.Now().UTC()
	result.Status = models.HealingCancelled
	result.CompletedAt = &now
	result.ResultMessage = "Healing cancelled"
	e.history = append(e.history, result)
	snapshot := *result
	e.mu.Unlock()

	metrics.ObserveHealing(string(models.HealingCancelled), now.Sub(snapshot.StartedAt))
	e.logger.Info("healing cancelled", slog.String("healing_id", healingID))
	return snapshot, nil
}

// Get returns a snapshot of a healing run.
func (e *Engine) Get(healingID string) (models.HealingResult, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, ok := e.healings[healingID]
	if !ok {
		return models.HealingResult{}, false
	}
	return *result, true
}

// State returns the OODA introspection state for a healing run.
func (e *Engine) State(healingID string) (models.OODAState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[healingID]
	if !ok {
		return models.OODAState{}, false
	}
	return *state, true
}

// IsHealing reports whether any non-terminal run exists for an incident.
func (e *Engine) IsHealing(incidentID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isHealingLocked(incidentID)
}

// IsInCooldown reports whether a service is inside its post-healing
// cooldown window.
func (e *Engine) IsInCooldown(service string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldowns[service]
	return ok && time.Now().UTC().Before(until)
}

// ActiveCount returns the number of non-terminal healing runs.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCountLocked()
}

// TotalCount returns active runs plus archived history.
func (e *Engine) TotalCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCountLocked() + len(e.history)
}

// SuccessRate returns the completed fraction of archived runs.
func (e *Engine) SuccessRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) == 0 {
		return 0
	}
	completed := 0
	for _, h := range e.history {
		if h.Status == models.HealingCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(e.history))
}

// AverageDuration returns the mean wall time of archived runs carrying
// both timestamps.
func (e *Engine) AverageDuration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()

	var total time.Duration
	count := 0
	for _, h := range e.history {
		if h.CompletedAt == nil {
			continue
		}
		total += h.CompletedAt.Sub(h.StartedAt)
		count++
	}
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

// History returns archived runs, optionally filtered by target service,
// sorted by started_at descending and truncated to limit.
func (e *Engine) History(service string, limit int) []models.HealingResult {
	if limit <= 0 {
		limit = 20
	}

	e.mu.Lock()
	results := make([]models.HealingResult, 0, len(e.history))
	for _, h := range e.history {
		if service != "" && h.TargetService != service {
			continue
		}
		results = append(results, *h)
	}
	e.mu.Unlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

// runLoop executes the full OODA pipeline (auto mode).
func (e *Engine) runLoop(healingID string, req models.HealingRequest) {
	defer e.recoverPipeline(healingID)

	ctx := context.Background()

	plan, err := e.observeOrientDecide(ctx, healingID, req)
	if err != nil {
		e.fail(healingID, err)
		return
	}

	if e.cancelled(healingID) {
		return
	}

	e.act(ctx, healingID, plan)
	e.validateAndFinalize(ctx, healingID, req)
}

// planOnly runs observe-orient-decide and halts awaiting approval
// (semi-auto mode).
func (e *Engine) planOnly(healingID string, req models.HealingRequest) {
	defer e.recoverPipeline(healingID)

	ctx := context.Background()
	if _, err := e.observeOrientDecide(ctx, healingID, req); err != nil {
		e.fail(healingID, err)
		return
	}

	e.mu.Lock()
	if result, ok := e.healings[healingID]; ok && result.Status == models.HealingDeciding {
		result.ResultMessage = "Plan generated, awaiting approval"
	}
	e.mu.Unlock()
}

// analyzeOnly runs observe-orient then finalizes without acting (manual
// mode). No actions are ever executed and no cooldown is set.
func (e *Engine) analyzeOnly(healingID string, req models.HealingRequest) {
	defer e.recoverPipeline(healingID)

	ctx := context.Background()

	observation, err := e.observe(ctx, healingID, req)
	if err != nil {
		e.fail(healingID, err)
		return
	}
	if _, err := e.orient(healingID, req, observation); err != nil {
		e.fail(healingID, err)
		return
	}

	now := time.Now().UTC()
	e.mu.Lock()
	result, ok := e.healings[healingID]
	if !ok || result.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	result.Status = models.HealingCompleted
	result.ResultMessage = "Analysis complete. Manual action required."
	result.CompletedAt = &now
	e.history = append(e.history, result)
	started := result.StartedAt
	e.mu.Unlock()

	metrics.ObserveHealing(string(models.HealingCompleted), now.Sub(started))
}

// executeApproved resumes an approved semi-auto run through act and
// validate.
func (e *Engine) executeApproved(healingID string, req models.HealingRequest) {
	defer e.recoverPipeline(healingID)

	ctx := context.Background()

	e.mu.Lock()
	result, ok := e.healings[healingID]
	if !ok {
		e.mu.Unlock()
		return
	}
	plan := result.Plan
	e.mu.Unlock()

	if plan == nil {
		e.fail(healingID, fmt.Errorf("no plan recorded for healing %s", healingID))
		return
	}

	e.act(ctx, healingID, plan)
	e.validateAndFinalize(ctx, healingID, req)
}

func (e *Engine) observeOrientDecide(ctx context.Context, healingID string, req models.HealingRequest) (*models.HealingPlan, error) {
	observation, err := e.observe(ctx, healingID, req)
	if err != nil {
		return nil, err
	}
	orientation, err := e.orient(healingID, req, observation)
	if err != nil {
		return nil, err
	}
	return e.decide(healingID, req, observation, orientation)
}

func (e *Engine) observe(ctx context.Context, healingID string, req models.HealingRequest) (string, error) {
	e.setPhase(healingID, models.PhaseObserve, models.HealingObserving)

	observation, err := e.observer.Observe(ctx, req)
	if err != nil {
		return "", fmt.Errorf("observe: %w", err)
	}

	e.mu.Lock()
	if state, ok := e.states[healingID]; ok {
		state.Observation = observation
	}
	e.mu.Unlock()

	e.logger.Debug("observe phase complete", slog.String("healing_id", healingID))
	return observation, nil
}

func (e *Engine) orient(healingID string, req models.HealingRequest, observation string) (string, error) {
	e.setPhase(healingID, models.PhaseOrient, models.HealingOrienting)

	orientation := e.planner.Analyze(req.RootCause, req.Severity, req.RecommendedActions)

	e.mu.Lock()
	if state, ok := e.states[healingID]; ok {
		state.Orientation = orientation
	}
	e.mu.Unlock()

	e.logger.Debug("orient phase complete", slog.String("healing_id", healingID))
	return orientation, nil
}

func (e *Engine) decide(healingID string, req models.HealingRequest, observation, orientation string) (*models.HealingPlan, error) {
	e.setPhase(healingID, models.PhaseDecide, models.HealingDeciding)

	plan := e.planner.Plan(req.IncidentID, req.TargetService, req.TargetNamespace, observation, orientation, req.RecommendedActions)

	e.mu.Lock()
	result, ok := e.healings[healingID]
	if ok {
		result.Plan = &plan
	}
	if state, ok := e.states[healingID]; ok {
		state.Decision = plan.Decision
	}
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("healing %s disappeared during decide", healingID)
	}

	e.emit(models.AuditRecord{
		EventType:   models.AuditDecisionMade,
		ServiceName: req.TargetService,
		Namespace:   req.TargetNamespace,
		IncidentID:  req.IncidentID,
		HealingID:   healingID,
		Description: plan.Decision,
		Reasoning:   plan.Orientation,
		Confidence:  &plan.Confidence,
	})
	if e.incidents != nil {
		e.incidents.MarkHealing(req.IncidentID, plan.PlanID)
	}

	e.logger.Info("decide phase complete",
		slog.String("healing_id", healingID),
		slog.Int("actions", len(plan.Actions)),
		slog.Float64("confidence", plan.Confidence))
	return &plan, nil
}

// act dispatches the plan's actions strictly in order. A single action's
// failure does not abort the batch; a cancellation observed between
// actions skips the remainder.
func (e *Engine) act(ctx context.Context, healingID string, plan *models.HealingPlan) {
	e.setPhase(healingID, models.PhaseAct, models.HealingActing)

	e.mu.Lock()
	req := e.requests[healingID]
	e.mu.Unlock()

	for _, action := range plan.Actions {
		if e.cancelled(healingID) {
			e.logger.Info("skipping remaining actions after cancellation",
				slog.String("healing_id", healingID))
			return
		}

		success, message := e.dispatcher.Execute(ctx, action)

		e.mu.Lock()
		if result, ok := e.healings[healingID]; ok {
			result.ActionsExecuted++
			if success {
				result.ActionsSuccessful++
			}
		}
		e.mu.Unlock()

		metrics.ObserveAction(success)
		e.emit(models.AuditRecord{
			EventType:    models.AuditActionExecuted,
			ServiceName:  req.TargetService,
			Namespace:    req.TargetNamespace,
			IncidentID:   plan.IncidentID,
			HealingID:    healingID,
			Description:  fmt.Sprintf("Executed %s on %s", action.ActionType, action.Target),
			Reasoning:    action.Reasoning,
			Success:      &success,
			ErrorMessage: failureMessage(success, message),
		})

		e.logger.Info("action dispatched",
			slog.String("healing_id", healingID),
			slog.String("action_type", string(action.ActionType)),
			slog.Bool("success", success))
	}
}

func (e *Engine) validateAndFinalize(ctx context.Context, healingID string, req models.HealingRequest) {
	if e.cancelled(healingID) {
		return
	}
	e.setPhase(healingID, models.PhaseValidate, models.HealingValidating)

	healthy, err := e.validator.Validate(ctx, req.TargetService)
	if err != nil {
		e.fail(healingID, fmt.Errorf("validate: %w", err))
		return
	}

	now := time.Now().UTC()
	status := models.HealingCompleted
	message := "Healing completed successfully"
	if !healthy {
		status = models.HealingFailed
		message = "Healing validation failed"
	}

	e.mu.Lock()
	result, ok := e.healings[healingID]
	if !ok || result.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	result.Status = status
	result.ResultMessage = message
	result.CompletedAt = &now
	// Cooldown applies on success and failure alike to prevent thrashing.
	e.cooldowns[req.TargetService] = now.Add(e.cooldown)
	e.history = append(e.history, result)
	started := result.StartedAt
	e.mu.Unlock()

	metrics.ObserveHealing(string(status), now.Sub(started))
	eventType := models.AuditHealingCompleted
	if status == models.HealingFailed {
		eventType = models.AuditHealingFailed
	}
	succeeded := status == models.HealingCompleted
	e.emit(models.AuditRecord{
		EventType:   eventType,
		ServiceName: req.TargetService,
		Namespace:   req.TargetNamespace,
		IncidentID:  req.IncidentID,
		HealingID:   healingID,
		Description: message,
		Success:     &succeeded,
	})
	if e.incidents != nil {
		e.incidents.MarkOutcome(req.IncidentID, succeeded, message)
	}

	e.logger.Info("healing finished",
		slog.String("healing_id", healingID),
		slog.String("status", string(status)))
}

// fail terminates one healing run without crashing the engine or touching
// other runs. The error text is captured verbatim.
func (e *Engine) fail(healingID string, cause error) {
	now := time.Now().UTC()

	e.mu.Lock()
	result, ok := e.healings[healingID]
	if !ok || result.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	result.Status = models.HealingFailed
	result.ErrorMessage = cause.Error()
	result.CompletedAt = &now
	e.history = append(e.history, result)
	started := result.StartedAt
	incidentID := result.IncidentID
	req := e.requests[healingID]
	e.mu.Unlock()

	metrics.ObserveHealing(string(models.HealingFailed), now.Sub(started))
	failed := false
	e.emit(models.AuditRecord{
		EventType:    models.AuditHealingFailed,
		ServiceName:  req.TargetService,
		Namespace:    req.TargetNamespace,
		IncidentID:   incidentID,
		HealingID:    healingID,
		Description:  "Healing pipeline failed",
		Success:      &failed,
		ErrorMessage: cause.Error(),
	})
	if e.incidents != nil {
		e.incidents.MarkOutcome(incidentID, false, cause.Error())
	}

	e.logger.Error("healing pipeline failed",
		slog.String("healing_id", healingID),
		slog.Any("error", cause))
}

func (e *Engine) recoverPipeline(healingID string) {
	if r := recover(); r != nil {
		e.fail(healingID, fmt.Errorf("pipeline panic: %v", r))
	}
}

func (e *Engine) setPhase(healingID string, phase models.OODAPhase, status models.HealingStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state, ok := e.states[healingID]; ok {
		state.Phase = phase
	}
	if result, ok := e.healings[healingID]; ok && !result.Status.Terminal() {
		result.Status = status
	}
}

func (e *Engine) cancelled(healingID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	result, ok := e.healings[healingID]
	return ok && result.Status == models.HealingCancelled
}

func (e *Engine) isHealingLocked(incidentID string) bool {
	for _, h := range e.healings {
		if h.IncidentID == incidentID && !h.Status.Terminal() {
			return true
		}
	}
	return false
}

func (e *Engine) activeCountLocked() int {
	count := 0
	for _, h := range e.healings {
		if !h.Status.Terminal() {
			count++
		}
	}
	return count
}

func (e *Engine) emit(rec models.AuditRecord) {
	if e.sink == nil {
		return
	}
	e.sink.Record(rec)
}

func failureMessage(success bool, message string) string {
	if success {
		return ""
	}
	return message
}

// PhaseForStatus maps a healing status to the loop phase it runs in.
func PhaseForStatus(status models.HealingStatus) models.OODAPhase {
	switch status {
	case models.HealingObserving:
		return models.PhaseObserve
	case models.HealingOrienting:
		return models.PhaseOrient
	case models.HealingDeciding:
		return models.PhaseDecide
	case models.HealingActing:
		return models.PhaseAct
	case models.HealingValidating:
		return models.PhaseValidate
	default:
		return models.PhasePending
	}
}

// localObserver assembles the Observe-phase context from the request
// alone. Parts are joined with a fixed delimiter.
type localObserver struct{}

func (localObserver) Observe(_ context.Context, req models.HealingRequest) (string, error) {
	parts := []string{
		fmt.Sprintf("Incident %s affecting %s", req.IncidentID, req.TargetService),
		fmt.Sprintf("Severity: %s", req.Severity),
	}
	if req.RootCause != "" {
		parts = append(parts, fmt.Sprintf("Suspected root cause: %s", req.RootCause))
	}
	if len(req.RecommendedActions) > 0 {
		parts = append(parts, fmt.Sprintf("Recommended actions: %s", strings.Join(req.RecommendedActions, ", ")))
	}
	return strings.Join(parts, " | "), nil
}

// stubValidator always reports healthy. A production validator would check
// the service health endpoint and error rates.
type stubValidator struct{}

func (stubValidator) Validate(context.Context, string) (bool, error) {
	return true, nil
}
