package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookthrough/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, portfolio_id, taxonomy_version_id, status, config, error, created_at, updated_at`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_UnmarshalsConfig(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "portfolio_id", "taxonomy_version_id", "status", "config", "error", "created_at", "updated_at",
	}).AddRow(
		"run-1", "port-1", "gics-2023", "queued",
		[]byte(`{"portfolio_total_value_usd":1000000,"scale_to_nav":true}`), "", now, now,
	)
	mock.ExpectQuery(`SELECT id, portfolio_id, taxonomy_version_id, status, config, error, created_at, updated_at`).
		WithArgs("run-1").
		WillReturnRows(rows)

	got, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusQueued, got.Status)
	assert.True(t, got.Config.ScaleToNAV)
	assert.InDelta(t, 1_000_000, got.Config.PortfolioTotalValueUSD, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateRunStatus_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status = \$1, error = \$2, updated_at = \$3 WHERE id = \$4`).
		WithArgs("failed", "boom", pgxmock.AnyArg(), "missing-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunStatus(context.Background(), "missing-run", model.RunStatusFailed, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAlias_ConflictIsNoOp(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	// ON CONFLICT DO NOTHING reports zero rows without an error.
	mock.ExpectExec(`INSERT INTO aliases .* ON CONFLICT \(normalized_text\) DO NOTHING`).
		WithArgs("al-1", "co-1", "ACME Corp.", "acme", 0.85, "resolver", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := s.UpsertAlias(context.Background(), model.Alias{
		ID: "al-1", CompanyID: "co-1", AliasText: "ACME Corp.",
		NormalizedText: "acme", Confidence: 0.85, Source: "resolver",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetHoldingResolution_WriteOnce(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	companyID := "co-1"
	mock.ExpectExec(`UPDATE holdings SET company_id = \$1, match_method = \$2, match_confidence = \$3`).
		WithArgs(&companyID, "exact", 1.0, "h-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetHoldingResolution(context.Background(), model.ReportedHolding{
		ID: "h-1", CompanyID: &companyID, MatchMethod: model.MatchExact, MatchConfidence: 1.0,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unresolved holding")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertExposures_UsesCopy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"exposures"}, []string{
		"id", "run_id", "portfolio_id", "fund_id", "company_id", "raw_company_name",
		"holding_id", "as_of_date", "value_usd", "weight", "exposure_type", "method",
	}).WillReturnResult(2)

	exposures := []model.InferredExposure{
		{ID: "e-1", RunID: "run-1", PortfolioID: "port-1", AsOfDate: "2026-06-30", ValueUSD: 600_000, Weight: 0.60, Type: model.ExposureLookthrough, Method: "deterministic_v1"},
		{ID: "e-2", RunID: "run-1", PortfolioID: "port-1", AsOfDate: "2026-06-30", ValueUSD: 200_000, Weight: 0.20, Type: model.ExposureUnknown, Method: "deterministic_v1"},
	}
	require.NoError(t, s.InsertExposures(context.Background(), exposures))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertExposures_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	require.NoError(t, s.InsertExposures(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastAuditHash_EmptyChain(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT hash FROM audit_events WHERE run_id = \$1 ORDER BY seq DESC LIMIT 1`).
		WithArgs("run-1").
		WillReturnError(pgx.ErrNoRows)

	hash, err := s.LastAuditHash(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Empty(t, hash)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceSnapshots_DeleteThenInsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM aggregation_snapshots WHERE run_id = \$1`).
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`INSERT INTO aggregation_snapshots`).
		WithArgs("run-1", "port-1", "2026-06-30", "sector", "n-40",
			600_000.0, 0.60, 1, 1, 0.80, 540_000.0, (*float64)(nil), (*float64)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err := s.ReplaceSnapshots(context.Background(), "run-1", []model.AggregationSnapshot{{
		RunID: "run-1", PortfolioID: "port-1", AsOfDate: "2026-06-30",
		TaxonomyType: "sector", NodeID: "n-40",
		TotalValueUSD: 600_000, WeightSum: 0.60, HoldingCount: 1, CompanyCount: 1,
		CoveragePct: 0.80, ConfidenceWeightedUSD: 540_000,
	}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateReviewItem_PendingOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectExec(`UPDATE review_items SET status = \$1, resolved_at = \$2, resolved_by = \$3, resolution_note = \$4`).
		WithArgs("approved", &now, "analyst@example.com", "checked", "ri-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateReviewItem(context.Background(), model.ReviewItem{
		ID: "ri-1", Status: model.ReviewApproved,
		ResolvedAt: &now, ResolvedBy: "analyst@example.com", ResolutionNote: "checked",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pending review item")
	assert.NoError(t, mock.ExpectationsWereMet())
}
