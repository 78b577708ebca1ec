package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func fptr(v float64) *float64 { return &v }
func sptr(v string) *string   { return &v }

func seedRun(t *testing.T, st *SQLiteStore) *model.Run {
	t.Helper()
	run, err := st.CreateRun(context.Background(), "port-1", "gics-2023", model.RunConfig{
		PortfolioTotalValueUSD:  1_000_000,
		TokenOverlapThreshold:   0.70,
		ConfidenceThreshold:     0.70,
		MaterialityThresholdUSD: 1_000_000,
	})
	require.NoError(t, err)
	return run
}

// --- Runs ---

func TestSQLite_Run_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	assert.Equal(t, model.RunStatusQueued, run.Status)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "port-1", got.PortfolioID)
	assert.Equal(t, "gics-2023", got.TaxonomyVersionID)
	assert.InDelta(t, 0.70, got.Config.TokenOverlapThreshold, 1e-9)
	assert.InDelta(t, 1_000_000, got.Config.MaterialityThresholdUSD, 1e-9)
}

func TestSQLite_Run_StatusUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	require.NoError(t, st.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed, "inference: fund report r1 has no period end"))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Contains(t, got.Error, "no period end")

	err = st.UpdateRunStatus(ctx, "missing", model.RunStatusComplete, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_Run_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedRun(t, st)
	b := seedRun(t, st)
	require.NoError(t, st.UpdateRunStatus(ctx, b.ID, model.RunStatusComplete, ""))

	complete, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, complete, 1)
	assert.Equal(t, b.ID, complete[0].ID)

	all, err := st.ListRuns(ctx, RunFilter{PortfolioID: "port-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

// --- Companies and aliases ---

func TestSQLite_Company_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	c := model.Company{ID: "co-1", Name: "Acme Industrial", Country: "US", IndustryNodeID: "n-2010", CountryNodeID: "n-us"}
	require.NoError(t, st.UpsertCompany(ctx, c))

	c.Description = "diversified industrials"
	require.NoError(t, st.UpsertCompany(ctx, c))

	got, err := st.GetCompany(ctx, "co-1")
	require.NoError(t, err)
	assert.Equal(t, "diversified industrials", got.Description)

	companies, err := st.ListCompanies(ctx)
	require.NoError(t, err)
	assert.Len(t, companies, 1)

	_, err = st.GetCompany(ctx, "co-unknown")
	require.Error(t, err)
}

func TestSQLite_Alias_FirstConfidenceWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertCompany(ctx, model.Company{ID: "co-1", Name: "Acme"}))

	first := model.Alias{CompanyID: "co-1", AliasText: "ACME Corp.", NormalizedText: "acme", Confidence: 0.85, Source: "resolver"}
	require.NoError(t, st.UpsertAlias(ctx, first))

	// Same normalized text with a higher score is a no-op.
	second := model.Alias{CompanyID: "co-1", AliasText: "Acme Corporation", NormalizedText: "acme", Confidence: 0.99, Source: "resolver"}
	require.NoError(t, st.UpsertAlias(ctx, second))

	aliases, err := st.ListAliases(ctx)
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, "ACME Corp.", aliases[0].AliasText)
	assert.InDelta(t, 0.85, aliases[0].Confidence, 1e-9)
}

// --- Fund reports and holdings ---

func seedReportWithHoldings(t *testing.T, st *SQLiteStore) model.FundReport {
	t.Helper()
	ctx := context.Background()

	report := model.FundReport{
		ID:               "rep-1",
		FundID:           "fund-1",
		PeriodEnd:        time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC),
		CoverageEstimate: fptr(0.80),
		NAVUSD:           fptr(5_000_000),
	}
	require.NoError(t, st.UpsertFundReport(ctx, report))

	holdings := []model.ReportedHolding{
		{ID: "h-1", FundReportID: "rep-1", RawCompanyName: "Acme Corp", ValueUSD: fptr(600_000), RowNumber: 1},
		{ID: "h-2", FundReportID: "rep-1", RawCompanyName: "Globex Ltd", PctNAV: fptr(0.04), RowNumber: 2},
	}
	require.NoError(t, st.InsertHoldings(ctx, holdings))
	return report
}

func TestSQLite_Holdings_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	report := seedReportWithHoldings(t, st)

	reports, err := st.ListFundReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.NotNil(t, reports[0].CoverageEstimate)
	assert.InDelta(t, 0.80, *reports[0].CoverageEstimate, 1e-9)
	assert.True(t, reports[0].PeriodEnd.Equal(report.PeriodEnd))

	holdings, err := st.ListHoldings(ctx, "rep-1")
	require.NoError(t, err)
	require.Len(t, holdings, 2)
	assert.Equal(t, "Acme Corp", holdings[0].RawCompanyName)
	require.NotNil(t, holdings[0].ValueUSD)
	assert.InDelta(t, 600_000, *holdings[0].ValueUSD, 1e-9)
	assert.Nil(t, holdings[0].CompanyID)
	assert.Empty(t, holdings[0].MatchMethod)
}

func TestSQLite_HoldingResolution_WriteOnce(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedReportWithHoldings(t, st)

	resolved := model.ReportedHolding{
		ID:              "h-1",
		CompanyID:       sptr("co-1"),
		MatchMethod:     model.MatchExact,
		MatchConfidence: 1.0,
	}
	require.NoError(t, st.SetHoldingResolution(ctx, resolved))

	// A second resolution must not overwrite the first.
	resolved.CompanyID = sptr("co-2")
	resolved.MatchMethod = model.MatchTokenOverlap
	err := st.SetHoldingResolution(ctx, resolved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved holding")

	holdings, err := st.ListHoldings(ctx, "rep-1")
	require.NoError(t, err)
	require.NotNil(t, holdings[0].CompanyID)
	assert.Equal(t, "co-1", *holdings[0].CompanyID)
	assert.Equal(t, model.MatchExact, holdings[0].MatchMethod)
}

// --- Exposures ---

func TestSQLite_Exposures_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	exposures := []model.InferredExposure{
		{
			ID: uuid.New().String(), RunID: run.ID, PortfolioID: "port-1", FundID: "fund-1",
			CompanyID: sptr("co-1"), HoldingID: "h-1", AsOfDate: "2026-06-30",
			ValueUSD: 600_000, Weight: 0.60, Type: model.ExposureLookthrough, Method: "deterministic_v1",
		},
		{
			ID: uuid.New().String(), RunID: run.ID, PortfolioID: "port-1", FundID: "fund-1",
			AsOfDate: "2026-06-30", ValueUSD: 200_000, Weight: 0.20,
			Type: model.ExposureUnknown, Method: "deterministic_v1",
		},
	}
	require.NoError(t, st.InsertExposures(ctx, exposures))

	got, err := st.ListExposures(ctx, ExposureFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byDate, err := st.ListExposures(ctx, ExposureFilter{RunID: run.ID, AsOfDate: "2026-03-31"})
	require.NoError(t, err)
	assert.Empty(t, byDate)
}

// --- Classifications ---

func TestSQLite_Classifications_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	rows := []model.Classification{
		{
			ID: uuid.New().String(), RunID: run.ID, CompanyID: sptr("co-1"),
			TaxonomyType: "industry", NodeID: "n-4010", NodeName: "Banks",
			Confidence: 0.88, Method: model.ClassifyOracle, Status: model.ClassificationValidated,
			Rationale:   "retail banking revenue dominates",
			Assumptions: []string{"segment mix from latest annual report"},
			Model:       "oracle-v2", PromptVersion: "p3", InputHash: "abc123",
			CreatedAt: time.Now().UTC(),
		},
	}
	require.NoError(t, st.InsertClassifications(ctx, rows))

	got, err := st.ListClassifications(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.ClassificationValidated, got[0].Status)
	assert.Equal(t, model.ClassifyOracle, got[0].Method)
	require.Len(t, got[0].Assumptions, 1)
	assert.Equal(t, "segment mix from latest annual report", got[0].Assumptions[0])
}

// --- Aggregation snapshots ---

func TestSQLite_ReplaceSnapshots_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	snap := func(nodeID string, total float64) model.AggregationSnapshot {
		return model.AggregationSnapshot{
			RunID: run.ID, PortfolioID: "port-1", AsOfDate: "2026-06-30",
			TaxonomyType: "sector", NodeID: nodeID,
			TotalValueUSD: total, WeightSum: total / 1_000_000,
			HoldingCount: 1, CompanyCount: 1, CoveragePct: 0.80,
			ConfidenceWeightedUSD: total * 0.9,
		}
	}

	require.NoError(t, st.ReplaceSnapshots(ctx, run.ID, []model.AggregationSnapshot{snap("n-40", 600_000), snap("n-45", 200_000)}))

	// Recompute replaces the previous rows rather than stacking on them.
	require.NoError(t, st.ReplaceSnapshots(ctx, run.ID, []model.AggregationSnapshot{snap("n-40", 650_000)}))

	got, err := st.ListSnapshots(ctx, SnapshotFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "n-40", got[0].NodeID)
	assert.InDelta(t, 650_000, got[0].TotalValueUSD, 1e-9)
	assert.Nil(t, got[0].P10)
	assert.Nil(t, got[0].P90)
}

// --- Review queue ---

func TestSQLite_ReviewItem_PendingOnlyUpdate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	item := model.ReviewItem{
		ID: uuid.New().String(), RunID: run.ID, CompanyID: sptr("co-1"),
		RawCompanyName: "Acme Corp",
		Reason:         model.ReasonLowConfidenceClassification,
		Priority:       model.PriorityMedium,
		Status:         model.ReviewPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, st.InsertReviewItems(ctx, []model.ReviewItem{item}))

	now := time.Now().UTC()
	item.Status = model.ReviewApproved
	item.ResolvedAt = &now
	item.ResolvedBy = "analyst@example.com"
	item.ResolutionNote = "checked against segment data"
	require.NoError(t, st.UpdateReviewItem(ctx, item))

	got, err := st.GetReviewItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewApproved, got.Status)
	assert.Equal(t, "analyst@example.com", got.ResolvedBy)

	// Resolved items are terminal.
	item.Status = model.ReviewRejected
	err = st.UpdateReviewItem(ctx, item)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending review item")
}

func TestSQLite_ReviewItems_ListFilters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	items := []model.ReviewItem{
		{ID: uuid.New().String(), RunID: run.ID, Reason: model.ReasonUnresolvedEntity, Priority: model.PriorityHigh, Status: model.ReviewPending, CreatedAt: time.Now().UTC()},
		{ID: uuid.New().String(), RunID: run.ID, Reason: model.ReasonLargeUnknownExposure, Priority: model.PriorityHigh, Status: model.ReviewPending, CreatedAt: time.Now().UTC()},
		{ID: uuid.New().String(), RunID: run.ID, Reason: model.ReasonMissingCountrySector, Priority: model.PriorityLow, Status: model.ReviewPending, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, st.InsertReviewItems(ctx, items))

	high, err := st.ListReviewItems(ctx, ReviewFilter{RunID: run.ID, Priority: model.PriorityHigh})
	require.NoError(t, err)
	assert.Len(t, high, 2)

	unresolved, err := st.ListReviewItems(ctx, ReviewFilter{Reason: model.ReasonUnresolvedEntity})
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, items[0].ID, unresolved[0].ID)
}

// --- Audit trail ---

func seedAuditEvents(t *testing.T, st *SQLiteStore, runID string, n int) []model.AuditEvent {
	t.Helper()
	ctx := context.Background()

	events := make([]model.AuditEvent, 0, n)
	prev := ""
	for i := 0; i < n; i++ {
		ev := model.AuditEvent{
			ID:        uuid.New().String(),
			RunID:     runID,
			ActorType: model.ActorSystem,
			Action:    model.ActionExposureInferred,
			EntityID:  uuid.New().String(),
			Payload:   json.RawMessage(`{"weight":0.25}`),
			PrevHash:  prev,
			EventTime: time.Now().UTC(),
		}
		ev.Hash = audit.EventHash(ev)
		require.NoError(t, st.InsertAuditEvent(ctx, ev))
		events = append(events, ev)
		prev = ev.Hash
	}
	return events
}

func TestSQLite_AuditEvents_ChainOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	events := seedAuditEvents(t, st, run.ID, 3)

	last, err := st.LastAuditHash(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, events[2].Hash, last)

	empty, err := st.LastAuditHash(ctx, "other-run")
	require.NoError(t, err)
	assert.Empty(t, empty)

	listed, err := st.ListAuditEvents(ctx, audit.Filter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, ev := range listed {
		assert.Equal(t, events[i].ID, ev.ID)
	}
	require.NoError(t, audit.VerifyChain(listed))
}

func TestSQLite_AuditEvents_Immutable(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	events := seedAuditEvents(t, st, run.ID, 1)

	_, err := st.db.ExecContext(ctx, `UPDATE audit_events SET payload = '{}' WHERE id = ?`, events[0].ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")

	_, err = st.db.ExecContext(ctx, `DELETE FROM audit_events WHERE id = ?`, events[0].ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "immutable")

	listed, err := st.ListAuditEvents(ctx, audit.Filter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.JSONEq(t, `{"weight":0.25}`, string(listed[0].Payload))
}

func TestSQLite_AuditEvents_FilterByAction(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := seedRun(t, st)
	seedAuditEvents(t, st, run.ID, 2)

	other := model.AuditEvent{
		ID:        uuid.New().String(),
		RunID:     run.ID,
		ActorType: model.ActorHuman,
		ActorID:   "analyst@example.com",
		Action:    model.ActionQueueTransition,
		EventTime: time.Now().UTC(),
	}
	other.Hash = audit.EventHash(other)
	require.NoError(t, st.InsertAuditEvent(ctx, other))

	transitions, err := st.ListAuditEvents(ctx, audit.Filter{RunID: run.ID, Action: model.ActionQueueTransition})
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, model.ActorHuman, transitions[0].ActorType)

	limited, err := st.ListAuditEvents(ctx, audit.Filter{RunID: run.ID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
