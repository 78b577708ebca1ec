package review

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
)

// Queue applies the review item state machine. Items move from pending to
// exactly one terminal status; a resolved item is never reopened.
type Queue struct {
	audit AuditLog
	log   *zap.Logger
	now   func() time.Time
}

// NewQueue builds a queue manager.
func NewQueue(audit AuditLog) *Queue {
	return &Queue{
		audit: audit,
		log:   zap.L().With(zap.String("component", "review")),
		now:   time.Now,
	}
}

// Transition resolves one item. The target must be terminal and the item
// must still be pending.
func (q *Queue) Transition(ctx context.Context, item *model.ReviewItem, to model.ReviewStatus, actor, note string) error {
	if !to.Terminal() {
		return eris.Errorf("review: %q is not a terminal status", to)
	}
	if item.Status != model.ReviewPending {
		return eris.Errorf("review: item %s is %s, only pending items can transition", item.ID, item.Status)
	}
	if actor == "" {
		return eris.New("review: transition requires an actor")
	}

	resolvedAt := q.now().UTC()
	item.Status = to
	item.ResolvedAt = &resolvedAt
	item.ResolvedBy = actor
	item.ResolutionNote = note

	if q.audit != nil {
		payload, _ := json.Marshal(map[string]any{
			"status": to,
			"note":   note,
		})
		_, err := q.audit.Append(ctx, model.AuditEvent{
			RunID:      item.RunID,
			ActorType:  model.ActorHuman,
			ActorID:    actor,
			Action:     model.ActionQueueTransition,
			EntityType: "review_item",
			EntityID:   item.ID,
			Payload:    payload,
			EventTime:  resolvedAt,
		})
		if err != nil {
			return eris.Wrapf(err, "review: audit transition for item %s", item.ID)
		}
	}
	return nil
}

// BulkTransition applies the same single-item validation per element and
// reports each outcome. One bad item never silently sinks the batch.
func (q *Queue) BulkTransition(ctx context.Context, items []*model.ReviewItem, to model.ReviewStatus, actor, note string) []model.TransitionResult {
	results := make([]model.TransitionResult, len(items))
	for i, item := range items {
		results[i] = model.TransitionResult{ItemID: item.ID, OK: true}
		if err := q.Transition(ctx, item, to, actor, note); err != nil {
			results[i].OK = false
			results[i].Error = err.Error()
		}
	}
	return results
}
