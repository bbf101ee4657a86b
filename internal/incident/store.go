package incident

import (
	"sort"
	"sync"
	"time"

	"github.com/autohealai/autoheal-core/internal/models"
)

// Filter narrows incident listings. Zero values match everything.
type Filter struct {
	Status   models.IncidentStatus
	Severity models.Severity
	Service  string
}

// Update carries a partial field merge for an incident. Nil fields are
// left untouched.
type Update struct {
	Status         *models.IncidentStatus
	Severity       *models.Severity
	RootCause      *string
	Confidence     *float64
	HealingPlanID  *string
	HealingActions []string
	HealingResult  *string
}

// Store owns incident records and their lifecycle. All mutations happen
// under a single lock so the correlation invariant (at most one open
// incident per target within the window) holds under concurrent ingests.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*models.Incident
}

// NewStore constructs an empty incident store.
func NewStore() *Store {
	return &Store{incidents: make(map[string]*models.Incident)}
}

// CorrelateOrCreate looks for an open incident on the same target created
// within the correlation window. On a match, merge is applied to it; on a
// miss, create builds a fresh incident which is stored. The match scan and
// the insert happen under one lock. Returns the resulting incident and
// whether it was newly created.
func (s *Store) CorrelateOrCreate(
	service, namespace string,
	window time.Duration,
	create func() models.Incident,
	merge func(inc *models.Incident),
) (models.Incident, bool) {
	now := time.Now().UTC()
	cutoff := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inc := range s.incidents {
		if inc.Status.Terminal() {
			continue
		}
		if inc.TargetService != service || inc.TargetNamespace != namespace {
			continue
		}
		if inc.CreatedAt.Before(cutoff) {
			continue
		}
		if merge != nil {
			merge(inc)
		}
		inc.UpdatedAt = now
		return *inc, false
	}

	fresh := create()
	if fresh.CreatedAt.IsZero() {
		fresh.CreatedAt = now
	}
	fresh.UpdatedAt = now
	s.incidents[fresh.IncidentID] = &fresh
	return fresh, true
}

// Get returns an incident by id.
func (s *Store) Get(incidentID string) (models.Incident, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[incidentID]
	if !ok {
		return models.Incident{}, false
	}
	return *inc, true
}

// Apply merges the given partial update into an incident and stamps
// updated_at. Transitioning into resolved also stamps resolved_at.
func (s *Store) Apply(incidentID string, upd Update) (models.Incident, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc, ok := s.incidents[incidentID]
	if !ok {
		return models.Incident{}, false
	}

	now := time.Now().UTC()
	if upd.Status != nil {
		inc.Status = *upd.Status
		if *upd.Status == models.IncidentResolved && inc.ResolvedAt == nil {
			inc.ResolvedAt = &now
		}
	}
	if upd.Severity != nil {
		inc.Severity = *upd.Severity
	}
	if upd.RootCause != nil {
		inc.RootCause = *upd.RootCause
	}
	if upd.Confidence != nil {
		inc.Confidence = *upd.Confidence
	}
	if upd.HealingPlanID != nil {
		inc.HealingPlanID = *upd.HealingPlanID
	}
	if upd.HealingActions != nil {
		inc.HealingActions = append([]string(nil), upd.HealingActions...)
	}
	if upd.HealingResult != nil {
		inc.HealingResult = *upd.HealingResult
	}
	inc.UpdatedAt = now

	return *inc, true
}

// Close resolves an incident, stamping resolved_at and updated_at.
func (s *Store) Close(incidentID string) (models.Incident, bool) {
	status := models.IncidentResolved
	return s.Apply(incidentID, Update{Status: &status})
}

// List returns incidents matching the filter, sorted by created_at
// descending and paginated, plus the total match count.
func (s *Store) List(f Filter, page, pageSize int) ([]models.Incident, int) {
	matched := s.filter(f)

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []models.Incident{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return matched[start:end], total
}

// Count returns the number of incidents matching the filter.
func (s *Store) Count(f Filter) int {
	return len(s.filter(f))
}

// CountActive returns the number of incidents in a non-terminal status.
func (s *Store) CountActive() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inc := range s.incidents {
		if !inc.Status.Terminal() {
			count++
		}
	}
	return count
}

// CountByStatus aggregates incident counts per status.
func (s *Store) CountByStatus() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, inc := range s.incidents {
		counts[string(inc.Status)]++
	}
	return counts
}

// CountBySeverity aggregates incident counts per severity.
func (s *Store) CountBySeverity() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, inc := range s.incidents {
		counts[string(inc.Severity)]++
	}
	return counts
}

// CountRecent returns incidents created within the last window.
func (s *Store) CountRecent(window time.Duration) int {
	cutoff := time.Now().UTC().Add(-window)

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inc := range s.incidents {
		if !inc.CreatedAt.Before(cutoff) {
			count++
		}
	}
	return count
}

func (s *Store) filter(f Filter) []models.Incident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]models.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if f.Status != "" && inc.Status != f.Status {
			continue
		}
		if f.Severity != "" && inc.Severity != f.Severity {
			continue
		}
		if f.Service != "" && inc.TargetService != f.Service {
			continue
		}
		matched = append(matched, *inc)
	}
	return matched
}
