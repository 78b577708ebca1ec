package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/store"
)

func newAPITestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestAPIRouter_Health(t *testing.T) {
	router := newAPIRouter(newAPITestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIRouter_EmptyListsReturnArrays(t *testing.T) {
	router := newAPIRouter(newAPITestStore(t))

	for _, path := range []string{"/v1/runs", "/v1/exposures", "/v1/snapshots", "/v1/queue", "/v1/audit"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code, path)
		assert.Equal(t, "[]\n", rr.Body.String(), path)
	}
}

func TestAPIRouter_ClassificationsRequireRun(t *testing.T) {
	router := newAPIRouter(newAPITestStore(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/classifications", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "run query parameter is required")
}

func TestAPIRouter_RunLookup(t *testing.T) {
	st := newAPITestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "port-1", "tax-1", model.RunConfig{PortfolioTotalValueUSD: 1e6})
	require.NoError(t, err)

	router := newAPIRouter(st)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var got model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, "port-1", got.PortfolioID)

	req = httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPIRouter_QueueTransition(t *testing.T) {
	st := newAPITestStore(t)
	ctx := context.Background()

	run, err := st.CreateRun(ctx, "port-1", "tax-1", model.RunConfig{})
	require.NoError(t, err)

	item := model.ReviewItem{
		ID:             "ri-1",
		RunID:          run.ID,
		RawCompanyName: "Mystery Holdings",
		Reason:         model.ReasonUnresolvedEntity,
		Priority:       model.PriorityMedium,
		Status:         model.ReviewPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, st.InsertReviewItems(ctx, []model.ReviewItem{item}))

	router := newAPIRouter(st)

	body, _ := json.Marshal(map[string]string{
		"status": "approved",
		"actor":  "analyst@example.com",
		"note":   "verified against registry",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/queue/ri-1/transition", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stored, err := st.GetReviewItem(ctx, "ri-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, stored.Status)
	assert.Equal(t, "analyst@example.com", stored.ResolvedBy)
	require.NotNil(t, stored.ResolvedAt)

	// The transition is audited and the chain stays intact.
	events, err := audit.NewLog(st).List(ctx, audit.Filter{RunID: run.ID, Action: string(model.ActionQueueTransition)})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ri-1", events[0].EntityID)
	require.NoError(t, audit.NewLog(st).Verify(ctx, run.ID))

	// Terminal items reject further transitions.
	req = httptest.NewRequest(http.MethodPost, "/v1/queue/ri-1/transition", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestAPIRouter_QueueTransitionValidation(t *testing.T) {
	router := newAPIRouter(newAPITestStore(t))

	req := httptest.NewRequest(http.MethodPost, "/v1/queue/ri-404/transition", bytes.NewReader([]byte("{")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body, _ := json.Marshal(map[string]string{"status": "approved", "actor": "a"})
	req = httptest.NewRequest(http.MethodPost, "/v1/queue/ri-404/transition", bytes.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
