package aggregate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/taxonomy"
)

func sptr(s string) *string { return &s }

func testTree(t *testing.T) *taxonomy.Tree {
	t.Helper()
	return taxonomy.BuildGICS()
}

func nodeID(t *testing.T, tree *taxonomy.Tree, kind, code string) string {
	t.Helper()
	n, ok := tree.NodeByCode(kind, code)
	require.True(t, ok, "node %s/%s", kind, code)
	return n.ID
}

func TestSnapshot_RollupBySectorIndustryGeography(t *testing.T) {
	tree := testTree(t)
	banksID := nodeID(t, tree, taxonomy.TypeSector, "4010")
	softwareID := nodeID(t, tree, taxonomy.TypeSector, "4510")
	usID := nodeID(t, tree, taxonomy.TypeGeography, "US")
	deID := nodeID(t, tree, taxonomy.TypeGeography, "DE")

	companies := map[string]model.Company{
		"c-bank": {ID: "c-bank", Name: "First Bank", IndustryNodeID: banksID, CountryNodeID: usID},
		"c-soft": {ID: "c-soft", Name: "Softco", IndustryNodeID: softwareID, CountryNodeID: deID},
	}
	exposures := []model.InferredExposure{
		{ID: "e-1", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: sptr("c-bank"), ValueUSD: 600_000, Weight: 0.60},
		{ID: "e-2", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: sptr("c-soft"), ValueUSD: 200_000, Weight: 0.20},
		{ID: "e-3", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: nil, ValueUSD: 200_000, Weight: 0.20, Type: model.ExposureUnknown},
	}

	engine := NewEngine(tree, nil)
	rows, err := engine.Snapshot(context.Background(), Inputs{Exposures: exposures, Companies: companies})
	require.NoError(t, err)

	// 3 taxonomy types x (2 known nodes + unknown) = 9 rows.
	require.Len(t, rows, 9)

	byTypeNode := make(map[[2]string]model.AggregationSnapshot)
	for _, row := range rows {
		byTypeNode[[2]string{row.TaxonomyType, row.NodeID}] = row
	}

	financialsID := nodeID(t, tree, taxonomy.TypeSector, "40")
	itID := nodeID(t, tree, taxonomy.TypeSector, "45")

	sectorBank := byTypeNode[[2]string{taxonomy.TypeSector, financialsID}]
	assert.InDelta(t, 600_000, sectorBank.TotalValueUSD, 1e-6)
	assert.InDelta(t, 0.60, sectorBank.WeightSum, 1e-9)
	assert.Equal(t, 1, sectorBank.HoldingCount)
	assert.Equal(t, 1, sectorBank.CompanyCount)

	sectorIT := byTypeNode[[2]string{taxonomy.TypeSector, itID}]
	assert.InDelta(t, 200_000, sectorIT.TotalValueUSD, 1e-6)

	industryBanks := byTypeNode[[2]string{taxonomy.TypeIndustry, banksID}]
	assert.InDelta(t, 600_000, industryBanks.TotalValueUSD, 1e-6)

	geoUS := byTypeNode[[2]string{taxonomy.TypeGeography, usID}]
	assert.InDelta(t, 600_000, geoUS.TotalValueUSD, 1e-6)

	unknownSector := byTypeNode[[2]string{taxonomy.TypeSector, UnknownNodeID}]
	assert.InDelta(t, 200_000, unknownSector.TotalValueUSD, 1e-6)
	assert.Equal(t, 0, unknownSector.CompanyCount)
	assert.Zero(t, unknownSector.ConfidenceWeightedUSD)

	// 800k of 1M carries a classification, across every taxonomy type.
	for _, row := range rows {
		assert.InDelta(t, 0.80, row.CoveragePct, 1e-9)
		assert.Nil(t, row.P10)
		assert.Nil(t, row.P90)
	}
}

func TestSnapshot_ConfidenceWeighting(t *testing.T) {
	tree := testTree(t)
	banksID := nodeID(t, tree, taxonomy.TypeSector, "4010")

	companies := map[string]model.Company{
		"c-bank": {ID: "c-bank", Name: "First Bank", IndustryNodeID: banksID},
	}
	exposures := []model.InferredExposure{
		{ID: "e-1", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: sptr("c-bank"), ValueUSD: 500_000, Weight: 0.50},
	}
	classifications := []model.Classification{
		{
			ID:           "cl-1",
			CompanyID:    sptr("c-bank"),
			TaxonomyType: taxonomy.TypeIndustry,
			NodeID:       banksID,
			Confidence:   0.80,
			Status:       model.ClassificationValidated,
		},
	}

	engine := NewEngine(tree, nil)
	rows, err := engine.Snapshot(context.Background(), Inputs{
		Exposures:       exposures,
		Companies:       companies,
		Classifications: classifications,
	})
	require.NoError(t, err)

	for _, row := range rows {
		switch row.TaxonomyType {
		case taxonomy.TypeIndustry, taxonomy.TypeSector:
			// Sector inherits the industry confidence.
			assert.InDelta(t, 400_000, row.ConfidenceWeightedUSD, 1e-6, row.TaxonomyType)
		case taxonomy.TypeGeography:
			assert.Equal(t, UnknownNodeID, row.NodeID)
			assert.Zero(t, row.ConfidenceWeightedUSD)
		}
	}
}

func TestSnapshot_RejectedClassificationDoesNotWeight(t *testing.T) {
	tree := testTree(t)
	banksID := nodeID(t, tree, taxonomy.TypeSector, "4010")

	companies := map[string]model.Company{
		"c-bank": {ID: "c-bank", Name: "First Bank", IndustryNodeID: banksID},
	}
	exposures := []model.InferredExposure{
		{ID: "e-1", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: sptr("c-bank"), ValueUSD: 100_000, Weight: 0.10},
	}
	classifications := []model.Classification{
		{
			ID:           "cl-1",
			CompanyID:    sptr("c-bank"),
			TaxonomyType: taxonomy.TypeIndustry,
			NodeID:       banksID,
			Confidence:   0.90,
			Status:       model.ClassificationRejected,
		},
	}

	engine := NewEngine(tree, nil)
	rows, err := engine.Snapshot(context.Background(), Inputs{
		Exposures:       exposures,
		Companies:       companies,
		Classifications: classifications,
	})
	require.NoError(t, err)

	for _, row := range rows {
		if row.TaxonomyType == taxonomy.TypeIndustry {
			// Without a validated row, known exposure weights at full value.
			assert.InDelta(t, 100_000, row.ConfidenceWeightedUSD, 1e-6)
		}
	}
}

func TestSnapshot_DeterministicOrderAndRecompute(t *testing.T) {
	tree := testTree(t)
	banksID := nodeID(t, tree, taxonomy.TypeSector, "4010")
	softwareID := nodeID(t, tree, taxonomy.TypeSector, "4510")

	companies := map[string]model.Company{
		"c-a": {ID: "c-a", Name: "A", IndustryNodeID: banksID},
		"c-b": {ID: "c-b", Name: "B", IndustryNodeID: softwareID},
	}
	exposures := []model.InferredExposure{
		{ID: "e-1", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: sptr("c-a"), ValueUSD: 100, Weight: 0.1},
		{ID: "e-2", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: sptr("c-b"), ValueUSD: 200, Weight: 0.2},
		{ID: "e-3", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: nil, ValueUSD: 700, Weight: 0.7},
	}

	engine := NewEngine(tree, nil)
	first, err := engine.Snapshot(context.Background(), Inputs{Exposures: exposures, Companies: companies})
	require.NoError(t, err)
	second, err := engine.Snapshot(context.Background(), Inputs{Exposures: exposures, Companies: companies})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	for i := 1; i < len(first); i++ {
		a, b := first[i-1], first[i]
		if a.TaxonomyType == b.TaxonomyType {
			assert.Less(t, a.NodeID, b.NodeID)
		} else {
			assert.Less(t, a.TaxonomyType, b.TaxonomyType)
		}
	}
}

func TestSnapshot_AuditEvent(t *testing.T) {
	tree := testTree(t)
	audit := &memAudit{}
	engine := NewEngine(tree, audit)

	exposures := []model.InferredExposure{
		{ID: "e-1", RunID: "run-1", PortfolioID: "p-1", AsOfDate: "2025-12-31", CompanyID: nil, ValueUSD: 100, Weight: 1.0},
	}
	_, err := engine.Snapshot(context.Background(), Inputs{Exposures: exposures})
	require.NoError(t, err)
	require.Len(t, audit.events, 1)
	assert.Equal(t, model.ActionAggregation, audit.events[0].Action)
	assert.Equal(t, "run-1", audit.events[0].RunID)
}

type memAudit struct {
	events []model.AuditEvent
}

func (m *memAudit) Append(_ context.Context, ev model.AuditEvent) (model.AuditEvent, error) {
	m.events = append(m.events, ev)
	return ev, nil
}
