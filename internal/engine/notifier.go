package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/autohealai/autoheal-core/internal/models"
)

// AsyncNotifier triggers healing runs in the background on behalf of
// signal ingestion. Rejections are expected outcomes at this boundary
// (cooldown, concurrency cap) and are logged at info, not error.
type AsyncNotifier struct {
	engine *Engine
	logger *slog.Logger
}

// NewAsyncNotifier wraps the engine for fire-and-forget triggering.
func NewAsyncNotifier(engine *Engine, logger *slog.Logger) *AsyncNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncNotifier{engine: engine, logger: logger}
}

// RequestHealing triggers a healing run without blocking the caller.
func (n *AsyncNotifier) RequestHealing(req models.HealingRequest) {
	go func() {
		result, err := n.engine.Trigger(context.Background(), req)
		if err != nil {
			var admission *AdmissionError
			if errors.As(err, &admission) {
				n.logger.Info("automatic healing not admitted",
					slog.String("incident_id", req.IncidentID),
					slog.String("reason", string(admission.Reason)))
				return
			}
			n.logger.Error("automatic healing trigger failed",
				slog.String("incident_id", req.IncidentID),
				slog.Any("error", err))
			return
		}
		n.logger.Info("automatic healing triggered",
			slog.String("incident_id", req.IncidentID),
			slog.String("healing_id", result.HealingID))
	}()
}
