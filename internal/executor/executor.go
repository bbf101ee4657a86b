package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/autohealai/autoheal-core/internal/metrics"
	"github.com/autohealai/autoheal-core/internal/models"
)

// Executor dispatches healing actions to the cluster-action backend.
// Execute never returns an error: dispatch failures become a false result
// with a descriptive message so a single bad action cannot abort a batch.
type Executor interface {
	Execute(ctx context.Context, action models.HealingAction) (bool, string)
	Validate(action models.HealingAction) (bool, string)
}

// ActionOutcome reports one action's result within a batch.
type ActionOutcome struct {
	ActionID   string            `json:"action_id"`
	ActionType models.ActionType `json:"action_type"`
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
}

// BatchResult summarises a sequential batch execution.
type BatchResult struct {
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Details    []ActionOutcome `json:"details"`
}

// Dispatcher is the HTTP Executor targeting the external cluster-action
// backend. The backend is expected to be idempotent per action_id.
type Dispatcher struct {
	baseURL     string
	executePath string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewDispatcher constructs a dispatcher for the configured backend.
func NewDispatcher(baseURL, executePath string, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if executePath == "" {
		executePath = "/api/v1/execute"
	}
	return &Dispatcher{
		baseURL:     strings.TrimRight(baseURL, "/"),
		executePath: executePath,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type actionRequest struct {
	ActionID   string         `json:"action_id"`
	ActionType string         `json:"action_type"`
	Target     string         `json:"target"`
	Parameters map[string]any `json:"parameters"`
}

// Execute dispatches a single action. Any 2xx response is success; a
// timeout or transport error is reported as a failed action, not an error.
func (d *Dispatcher) Execute(ctx context.Context, action models.HealingAction) (bool, string) {
	payload, err := json.Marshal(actionRequest{
		ActionID:   action.ActionID,
		ActionType: string(action.ActionType),
		Target:     action.Target,
		Parameters: action.Parameters,
	})
	if err != nil {
		return false, fmt.Sprintf("encode action: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+d.executePath, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return false, "Action execution timed out"
		}
		d.logger.Error("action dispatch failed", slog.String("action_id", action.ActionID), slog.Any("error", err))
		return false, err.Error()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.logger.Info("action executed",
			slog.String("action_id", action.ActionID),
			slog.String("action_type", string(action.ActionType)))
		return true, "Action completed successfully"
	}
	return false, fmt.Sprintf("Executor returned status %d", resp.StatusCode)
}

// ExecuteBatch runs actions strictly in plan order, sequentially. Later
// actions may depend on earlier ones having applied, so there is no
// parallelism here and a failure does not stop the batch.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, actions []models.HealingAction) BatchResult {
	result := BatchResult{
		Total:   len(actions),
		Details: make([]ActionOutcome, 0, len(actions)),
	}

	for _, action := range actions {
		success, message := d.Execute(ctx, action)
		result.Details = append(result.Details, ActionOutcome{
			ActionID:   action.ActionID,
			ActionType: action.ActionType,
			Success:    success,
			Message:    message,
		})
		if success {
			result.Successful++
		} else {
			result.Failed++
		}
		metrics.ObserveAction(success)
	}

	return result
}

// Validate runs pre-flight checks on an action. Failures are reported,
// never raised.
func (d *Dispatcher) Validate(action models.HealingAction) (bool, string) {
	return ValidateAction(action)
}

// ValidateAction checks the action type is known, the target is set, and
// type-specific required parameters are present.
func ValidateAction(action models.HealingAction) (bool, string) {
	if !models.KnownActionType(action.ActionType) {
		return false, fmt.Sprintf("Unsupported action type: %s", action.ActionType)
	}
	if action.Target == "" {
		return false, "Action target not specified"
	}
	if action.ActionType == models.ActionScaleUp {
		if _, ok := action.Parameters["increment"]; !ok {
			return false, "scale_up requires 'increment' parameter"
		}
	}
	return true, "Action is valid"
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
