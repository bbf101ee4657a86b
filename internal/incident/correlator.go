package incident

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/autohealai/autoheal-core/internal/audit"
	"github.com/autohealai/autoheal-core/internal/metrics"
	"github.com/autohealai/autoheal-core/internal/models"
)

// HealingNotifier requests a healing run for an incident. Dispatch is
// fire-and-forget: failures are logged by the implementation, never
// propagated back to signal ingestion.
type HealingNotifier interface {
	RequestHealing(req models.HealingRequest)
}

// IngestResult reports what a signal did to the incident set.
type IngestResult struct {
	IncidentID string `json:"incident_id"`
	Created    bool   `json:"-"`
	Action     string `json:"action"`
}

// Correlator decides whether an incoming signal belongs to an existing open
// incident (same target within the correlation window) or opens a new one.
type Correlator struct {
	store    *Store
	window   time.Duration
	sink     audit.Sink
	notifier HealingNotifier
	logger   *slog.Logger

	autoTrigger bool
}

// NewCorrelator constructs a correlator over the given store. autoTrigger
// enables the fire-and-forget healing request on incident creation (healing
// enabled and approval not required).
func NewCorrelator(store *Store, window time.Duration, sink audit.Sink, notifier HealingNotifier, autoTrigger bool, logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &Correlator{
		store:       store,
		window:      window,
		sink:        sink,
		notifier:    notifier,
		logger:      logger,
		autoTrigger: autoTrigger,
	}
}

// IngestAnomaly correlates or creates an incident for an anomaly signal.
func (c *Correlator) IngestAnomaly(sig models.AnomalySignal) IngestResult {
	namespace := sig.TargetNamespace
	if namespace == "" {
		namespace = "default"
	}

	inc, created := c.store.CorrelateOrCreate(
		sig.TargetService, namespace, c.window,
		func() models.Incident {
			return models.Incident{
				IncidentID:      uuid.NewString(),
				Title:           fmt.Sprintf("%s on %s", titleWords(sig.AnomalyType), sig.TargetService),
				Description:     fmt.Sprintf("Detected %s: %s = %v (threshold: %v)", sig.AnomalyType, sig.MetricName, sig.CurrentValue, sig.ThresholdValue),
				Status:          models.IncidentNew,
				Severity:        models.ParseSeverity(sig.Severity),
				TargetService:   sig.TargetService,
				TargetNamespace: namespace,
				EventIDs:        []string{sig.EventID},
				EventCount:      1,
				RootCause:       fmt.Sprintf("Possible cause: %s", sig.AnomalyType),
				Confidence:      0.7,
			}
		},
		func(inc *models.Incident) {
			inc.EventIDs = append(inc.EventIDs, sig.EventID)
			inc.EventCount = len(inc.EventIDs)
		},
	)

	return c.finishIngest(inc, created, sig.EventID)
}

// IngestLogAnalysis correlates or creates an incident for a log-analysis
// signal. On correlation, the newer signal's root cause, confidence and
// action hints overwrite the incident's (last-write-wins).
func (c *Correlator) IngestLogAnalysis(sig models.LogAnalysisSignal) IngestResult {
	namespace := sig.Namespace
	if namespace == "" {
		namespace = "default"
	}
	description := sig.SampleMessage
	if len(description) > 500 {
		description = description[:500]
	}
	eventCount := sig.ErrorCount
	if eventCount < 1 {
		eventCount = 1
	}

	inc, created := c.store.CorrelateOrCreate(
		sig.ServiceName, namespace, c.window,
		func() models.Incident {
			return models.Incident{
				IncidentID:      uuid.NewString(),
				Title:           fmt.Sprintf("%s Error in %s", titleWords(sig.ErrorCategory), sig.ServiceName),
				Description:     description,
				Status:          models.IncidentAnalyzing,
				Severity:        models.ParseSeverity(sig.Severity),
				TargetService:   sig.ServiceName,
				TargetNamespace: namespace,
				EventIDs:        []string{sig.EventID},
				EventCount:      eventCount,
				RootCause:       sig.RootCause,
				Confidence:      sig.Confidence,
				HealingActions:  append([]string(nil), sig.RecommendedActions...),
			}
		},
		func(inc *models.Incident) {
			inc.EventIDs = append(inc.EventIDs, sig.EventID)
			inc.EventCount = len(inc.EventIDs)
			inc.RootCause = sig.RootCause
			inc.Confidence = sig.Confidence
			inc.HealingActions = append([]string(nil), sig.RecommendedActions...)
		},
	)

	return c.finishIngest(inc, created, sig.EventID)
}

func (c *Correlator) finishIngest(inc models.Incident, created bool, eventID string) IngestResult {
	if !created {
		metrics.ObserveIngest(metrics.IngestCorrelated)
		c.logger.Info("correlated signal into open incident",
			slog.String("event_id", eventID),
			slog.String("incident_id", inc.IncidentID),
			slog.Int("event_count", inc.EventCount))
		c.emit(models.AuditRecord{
			EventType:   models.AuditIncidentUpdated,
			ServiceName: inc.TargetService,
			Namespace:   inc.TargetNamespace,
			IncidentID:  inc.IncidentID,
			Description: fmt.Sprintf("Correlated event %s into incident (%d events)", eventID, inc.EventCount),
		})
		return IngestResult{IncidentID: inc.IncidentID, Created: false, Action: "correlated"}
	}

	metrics.ObserveIngest(metrics.IngestCreated)
	c.logger.Info("created incident",
		slog.String("incident_id", inc.IncidentID),
		slog.String("service", inc.TargetService),
		slog.String("severity", string(inc.Severity)))
	c.emit(models.AuditRecord{
		EventType:   models.AuditIncidentCreated,
		ServiceName: inc.TargetService,
		Namespace:   inc.TargetNamespace,
		IncidentID:  inc.IncidentID,
		Description: inc.Title,
		Confidence:  confidencePtr(inc.Confidence),
	})

	if c.autoTrigger && c.notifier != nil {
		c.notifier.RequestHealing(models.HealingRequest{
			IncidentID:         inc.IncidentID,
			TargetService:      inc.TargetService,
			TargetNamespace:    inc.TargetNamespace,
			Severity:           string(inc.Severity),
			RootCause:          inc.RootCause,
			RecommendedActions: inc.HealingActions,
		})
	}

	return IngestResult{IncidentID: inc.IncidentID, Created: true, Action: "created"}
}

// Resolve closes an incident and emits the resolution audit record.
func (c *Correlator) Resolve(incidentID string) (models.Incident, bool) {
	inc, ok := c.store.Close(incidentID)
	if !ok {
		return models.Incident{}, false
	}
	c.emit(models.AuditRecord{
		EventType:   models.AuditIncidentResolved,
		ServiceName: inc.TargetService,
		Namespace:   inc.TargetNamespace,
		IncidentID:  inc.IncidentID,
		Description: fmt.Sprintf("Incident resolved: %s", inc.Title),
	})
	return inc, true
}

func (c *Correlator) emit(rec models.AuditRecord) {
	if c.sink == nil {
		return
	}
	c.sink.Record(rec)
}

func confidencePtr(v float64) *float64 {
	if v == 0 {
		return nil
	}
	return &v
}

// titleWords uppercases the first rune of each underscore- or
// space-separated word: "error_rate_spike" -> "Error Rate Spike".
func titleWords(value string) string {
	words := strings.FieldsFunc(value, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
