package audit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookthrough/internal/model"
)

func appendN(t *testing.T, log *Log, runID string, n int) []model.AuditEvent {
	t.Helper()
	out := make([]model.AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]int{"seq": i})
		ev, err := log.Append(context.Background(), model.AuditEvent{
			RunID:      runID,
			ActorType:  model.ActorSystem,
			ActorID:    "test",
			Action:     model.ActionEntityResolution,
			EntityType: "holding",
			EntityID:   "h-1",
			Payload:    payload,
		})
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestAppend_ChainsHashes(t *testing.T) {
	log := NewLog(NewMemStore())
	events := appendN(t, log, "run-1", 3)

	assert.Empty(t, events[0].PrevHash, "first event in a run anchors the chain")
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	assert.Equal(t, events[1].Hash, events[2].PrevHash)

	for _, ev := range events {
		assert.NotEmpty(t, ev.ID)
		assert.NotEmpty(t, ev.Hash)
		assert.False(t, ev.EventTime.IsZero())
	}
}

func TestAppend_ChainsPerRun(t *testing.T) {
	log := NewLog(NewMemStore())
	a := appendN(t, log, "run-a", 2)
	b := appendN(t, log, "run-b", 1)

	assert.Empty(t, b[0].PrevHash, "runs chain independently")
	assert.Equal(t, a[0].Hash, a[1].PrevHash)
}

func TestAppend_Validation(t *testing.T) {
	log := NewLog(NewMemStore())

	_, err := log.Append(context.Background(), model.AuditEvent{Action: "x"})
	require.Error(t, err)

	_, err = log.Append(context.Background(), model.AuditEvent{RunID: "run-1"})
	require.Error(t, err)
}

func TestVerify_IntactChain(t *testing.T) {
	store := NewMemStore()
	log := NewLog(store)
	appendN(t, log, "run-1", 5)

	require.NoError(t, log.Verify(context.Background(), "run-1"))
}

func TestVerify_DetectsTampering(t *testing.T) {
	store := NewMemStore()
	log := NewLog(store)
	events := appendN(t, log, "run-1", 3)

	tampered := make([]model.AuditEvent, len(events))
	copy(tampered, events)
	tampered[1].Payload = json.RawMessage(`{"seq":99}`)
	err := VerifyChain(tampered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content hash mismatch")

	removed := []model.AuditEvent{events[0], events[2]}
	err = VerifyChain(removed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prev hash mismatch")

	swapped := []model.AuditEvent{events[1], events[0], events[2]}
	require.Error(t, VerifyChain(swapped))
}

func TestMemStore_RejectsDuplicateInsert(t *testing.T) {
	store := NewMemStore()
	ev := model.AuditEvent{ID: "ev-1", RunID: "run-1", Action: "x"}
	require.NoError(t, store.InsertAuditEvent(context.Background(), ev))
	require.Error(t, store.InsertAuditEvent(context.Background(), ev))
}

func TestList_Filters(t *testing.T) {
	store := NewMemStore()
	log := NewLog(store)
	appendN(t, log, "run-1", 3)

	_, err := log.Append(context.Background(), model.AuditEvent{
		RunID:      "run-1",
		ActorType:  model.ActorHuman,
		ActorID:    "analyst",
		Action:     model.ActionQueueTransition,
		EntityType: "review_item",
		EntityID:   "ri-1",
	})
	require.NoError(t, err)

	byAction, err := log.List(context.Background(), Filter{RunID: "run-1", Action: model.ActionQueueTransition})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "ri-1", byAction[0].EntityID)

	byEntity, err := log.List(context.Background(), Filter{EntityID: "h-1"})
	require.NoError(t, err)
	assert.Len(t, byEntity, 3)

	limited, err := log.List(context.Background(), Filter{RunID: "run-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	future, err := log.List(context.Background(), Filter{From: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

func TestAppend_ConcurrentWritersKeepChainIntact(t *testing.T) {
	store := NewMemStore()
	log := NewLog(store)

	errCh := make(chan error, 40)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := log.Append(context.Background(), model.AuditEvent{
					RunID:     "run-1",
					ActorType: model.ActorSystem,
					ActorID:   "test",
					Action:    model.ActionEntityResolution,
				})
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	events, err := log.List(context.Background(), Filter{RunID: "run-1"})
	require.NoError(t, err)
	require.Len(t, events, 40)
	require.NoError(t, log.Verify(context.Background(), "run-1"))
}
