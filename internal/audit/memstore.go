package audit

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lookthrough/internal/model"
)

// MemStore is an in-process Store for tests and dry runs. Like the durable
// stores it only ever appends.
type MemStore struct {
	mu     sync.RWMutex
	events []model.AuditEvent
	seen   map[string]bool
}

// NewMemStore builds an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{seen: make(map[string]bool)}
}

func (s *MemStore) InsertAuditEvent(_ context.Context, ev model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[ev.ID] {
		return eris.Errorf("audit: event %s already recorded", ev.ID)
	}
	s.seen[ev.ID] = true
	s.events = append(s.events, ev)
	return nil
}

func (s *MemStore) LastAuditHash(_ context.Context, runID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].RunID == runID {
			return s.events[i].Hash, nil
		}
	}
	return "", nil
}

func (s *MemStore) ListAuditEvents(_ context.Context, f Filter) ([]model.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AuditEvent
	for _, ev := range s.events {
		if f.RunID != "" && ev.RunID != f.RunID {
			continue
		}
		if f.Action != "" && ev.Action != f.Action {
			continue
		}
		if f.EntityID != "" && ev.EntityID != f.EntityID {
			continue
		}
		if !f.From.IsZero() && ev.EventTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && ev.EventTime.After(f.To) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EventTime.Before(out[j].EventTime) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
