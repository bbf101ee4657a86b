package incident

import (
	"log/slog"

	"github.com/autohealai/autoheal-core/internal/models"
)

// StatusUpdater reflects healing progress onto the owning incident. All
// updates are best-effort: a missing incident is logged and dropped, never
// surfaced to the healing pipeline.
type StatusUpdater struct {
	store  *Store
	logger *slog.Logger
}

// NewStatusUpdater constructs an updater over the given store.
func NewStatusUpdater(store *Store, logger *slog.Logger) *StatusUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusUpdater{store: store, logger: logger}
}

// MarkHealing moves an incident into the healing status and links the plan.
func (u *StatusUpdater) MarkHealing(incidentID, planID string) {
	status := models.IncidentHealing
	upd := Update{Status: &status}
	if planID != "" {
		upd.HealingPlanID = &planID
	}
	if _, ok := u.store.Apply(incidentID, upd); !ok {
		u.logger.Warn("cannot mark unknown incident as healing",
			slog.String("incident_id", incidentID))
	}
}

// MarkOutcome records the healing outcome on the incident: resolved on
// success, failed otherwise, with the result message attached.
func (u *StatusUpdater) MarkOutcome(incidentID string, succeeded bool, message string) {
	status := models.IncidentFailed
	if succeeded {
		status = models.IncidentResolved
	}
	if _, ok := u.store.Apply(incidentID, Update{Status: &status, HealingResult: &message}); !ok {
		u.logger.Warn("cannot record healing outcome on unknown incident",
			slog.String("incident_id", incidentID))
	}
}
