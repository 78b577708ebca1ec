// Package audit writes the append-only decision trail. Every event is
// hash-chained to the previous event for the same run at write time, so a
// dropped, reordered, or edited event breaks chain verification.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
)

// Store is the persistence surface the log writes through. Implementations
// must reject updates and deletes on audit rows.
type Store interface {
	InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error
	LastAuditHash(ctx context.Context, runID string) (string, error)
	ListAuditEvents(ctx context.Context, f Filter) ([]model.AuditEvent, error)
}

// Filter narrows audit reads. Zero values mean no constraint.
type Filter struct {
	RunID    string
	Action   string
	EntityID string
	From     time.Time
	To       time.Time
	Limit    int
}

// Log appends hash-chained events. Appends for the same run are serialized
// so the chain never forks under concurrent writers.
type Log struct {
	store Store
	log   *zap.Logger
	now   func() time.Time

	mu sync.Mutex
}

// NewLog builds an audit log over a store.
func NewLog(store Store) *Log {
	return &Log{
		store: store,
		log:   zap.L().With(zap.String("component", "audit")),
		now:   time.Now,
	}
}

// Append assigns id, timestamp, and chain hashes, then persists the event.
// The caller's event is returned with those fields filled in.
func (l *Log) Append(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error) {
	if ev.RunID == "" {
		return model.AuditEvent{}, eris.New("audit: event requires a run id")
	}
	if ev.Action == "" {
		return model.AuditEvent{}, eris.New("audit: event requires an action")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev, err := l.store.LastAuditHash(ctx, ev.RunID)
	if err != nil {
		return model.AuditEvent{}, eris.Wrapf(err, "audit: last hash for run %s", ev.RunID)
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = l.now().UTC()
	}
	ev.PrevHash = prev
	ev.Hash = EventHash(ev)

	if err := l.store.InsertAuditEvent(ctx, ev); err != nil {
		return model.AuditEvent{}, eris.Wrapf(err, "audit: insert event %s", ev.ID)
	}
	return ev, nil
}

// List reads events under a filter. Reads never mutate.
func (l *Log) List(ctx context.Context, f Filter) ([]model.AuditEvent, error) {
	events, err := l.store.ListAuditEvents(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "audit: list events")
	}
	return events, nil
}

// Verify walks a run's chain in order and reports the first break.
func (l *Log) Verify(ctx context.Context, runID string) error {
	events, err := l.store.ListAuditEvents(ctx, Filter{RunID: runID})
	if err != nil {
		return eris.Wrapf(err, "audit: list events for run %s", runID)
	}
	return VerifyChain(events)
}

// VerifyChain checks an ordered event slice for hash continuity.
func VerifyChain(events []model.AuditEvent) error {
	prev := ""
	for i, ev := range events {
		if ev.PrevHash != prev {
			return eris.Errorf("audit: chain break at event %d (%s): prev hash mismatch", i, ev.ID)
		}
		if EventHash(ev) != ev.Hash {
			return eris.Errorf("audit: chain break at event %d (%s): content hash mismatch", i, ev.ID)
		}
		prev = ev.Hash
	}
	return nil
}

// EventHash computes the SHA-256 of the event's canonical field encoding,
// previous hash included. Field order and the separator are fixed; changing
// either invalidates every stored chain.
func EventHash(ev model.AuditEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s\x00%s",
		ev.ID,
		ev.RunID,
		ev.ActorType,
		ev.ActorID,
		ev.Action,
		ev.EntityType,
		ev.EntityID,
		string(ev.Payload),
		ev.EventTime.UTC().Format(time.RFC3339Nano),
	)
	fmt.Fprintf(h, "\x00%s", ev.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}
