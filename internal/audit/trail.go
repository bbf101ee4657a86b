package audit

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autohealai/autoheal-core/internal/metrics"
	"github.com/autohealai/autoheal-core/internal/models"
)

// Sink receives audit records from other components. Emission is
// best-effort: implementations must never fail the caller.
type Sink interface {
	Record(rec models.AuditRecord)
}

// Query filters audit record listings. Zero values match everything.
type Query struct {
	EventType   models.AuditEventType
	ServiceName string
	IncidentID  string
	HealingID   string
	Page        int
	PageSize    int
}

// Trail is an in-memory append-only audit store with bounded retention.
// Oldest records are evicted once the configured cap is exceeded.
type Trail struct {
	mu         sync.RWMutex
	records    map[string]models.AuditRecord
	maxRecords int
	logger     *slog.Logger
}

// NewTrail constructs a Trail retaining at most maxRecords entries.
func NewTrail(maxRecords int, logger *slog.Logger) *Trail {
	if maxRecords <= 0 {
		maxRecords = 10000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{
		records:    make(map[string]models.AuditRecord),
		maxRecords: maxRecords,
		logger:     logger,
	}
}

// Record implements Sink. Missing identity and timestamp are filled in.
func (t *Trail) Record(rec models.AuditRecord) {
	t.Append(rec)
}

// Append stores a record, evicting the oldest entries when over the cap.
// Eviction happens atomically with the insert.
func (t *Trail) Append(rec models.AuditRecord) models.AuditRecord {
	if rec.RecordID == "" {
		rec.RecordID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.Namespace == "" {
		rec.Namespace = "default"
	}

	t.mu.Lock()
	t.records[rec.RecordID] = rec
	if len(t.records) > t.maxRecords {
		t.pruneLocked()
	}
	t.mu.Unlock()

	metrics.ObserveAuditRecord()
	t.logger.Debug("audit record written",
		slog.String("record_id", rec.RecordID),
		slog.String("event_type", string(rec.EventType)))
	return rec
}

// Get returns a record by id.
func (t *Trail) Get(recordID string) (models.AuditRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[recordID]
	return rec, ok
}

// List returns matching records sorted by timestamp descending, paginated,
// plus the total match count before pagination.
func (t *Trail) List(q Query) ([]models.AuditRecord, int) {
	matched := t.filter(q)

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	total := len(matched)
	page, pageSize := q.Page, q.PageSize
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []models.AuditRecord{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// Timeline returns all records for an incident in chronological (oldest
// first) order, for "what happened first" narratives.
func (t *Trail) Timeline(incidentID string) []models.AuditRecord {
	matched := t.filter(Query{IncidentID: incidentID})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched
}

// Trace returns the chronological reasoning trace for a healing run.
func (t *Trail) Trace(healingID string) []models.AuditRecord {
	matched := t.filter(Query{HealingID: healingID})
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched
}

// Count returns the number of records matching the query filters.
func (t *Trail) Count(q Query) int {
	return len(t.filter(q))
}

// CountByEventType aggregates record counts per event type.
func (t *Trail) CountByEventType() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range t.records {
		counts[string(rec.EventType)]++
	}
	return counts
}

// CountRecent returns the number of records written in the last window.
func (t *Trail) CountRecent(window time.Duration) int {
	cutoff := time.Now().UTC().Add(-window)

	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, rec := range t.records {
		if !rec.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count
}

// SuccessRate returns the fraction of outcome-bearing records that
// succeeded, or zero when none carry an outcome.
func (t *Trail) SuccessRate() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total, successful := 0, 0
	for _, rec := range t.records {
		if rec.Success == nil {
			continue
		}
		total++
		if *rec.Success {
			successful++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(successful) / float64(total)
}

func (t *Trail) filter(q Query) []models.AuditRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	matched := make([]models.AuditRecord, 0, len(t.records))
	for _, rec := range t.records {
		if q.EventType != "" && rec.EventType != q.EventType {
			continue
		}
		if q.ServiceName != "" && rec.ServiceName != q.ServiceName {
			continue
		}
		if q.IncidentID != "" && rec.IncidentID != q.IncidentID {
			continue
		}
		if q.HealingID != "" && rec.HealingID != q.HealingID {
			continue
		}
		matched = append(matched, rec)
	}
	return matched
}

// pruneLocked evicts oldest-by-timestamp records until back under the cap.
// Caller must hold the write lock.
func (t *Trail) pruneLocked() {
	ids := make([]string, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return t.records[ids[i]].Timestamp.After(t.records[ids[j]].Timestamp)
	})

	for _, id := range ids[t.maxRecords:] {
		delete(t.records, id)
	}
}
