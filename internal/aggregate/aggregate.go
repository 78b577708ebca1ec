// Package aggregate rolls validated exposures up into denormalized snapshot
// rows per taxonomy node. Rollups are recomputed from upstream tables on
// every call, never patched incrementally, so a snapshot is reproducible
// from (run, taxonomy version, portfolio, date) alone.
package aggregate

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/taxonomy"
)

// UnknownNodeID is the stable placeholder node for exposure that carries no
// classification: the unknown bucket, unresolved companies, and companies
// whose dimensions were never filled in.
const UnknownNodeID = "00000000-0000-0000-0000-000000000000"

// AuditLog records aggregation runs.
type AuditLog interface {
	Append(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
}

// Engine computes aggregation snapshots.
type Engine struct {
	tree  *taxonomy.Tree
	audit AuditLog
	log   *zap.Logger
}

// NewEngine builds an aggregation engine over one taxonomy tree.
func NewEngine(tree *taxonomy.Tree, audit AuditLog) *Engine {
	return &Engine{
		tree:  tree,
		audit: audit,
		log:   zap.L().With(zap.String("component", "aggregate")),
	}
}

// Inputs carries everything a rollup needs. Companies are keyed by id;
// classifications supply per-company confidence for the weighted column.
type Inputs struct {
	Exposures       []model.InferredExposure
	Companies       map[string]model.Company
	Classifications []model.Classification
}

type groupKey struct {
	runID        string
	portfolioID  string
	asOfDate     string
	taxonomyType string
	nodeID       string
}

type groupAcc struct {
	totalUSD        float64
	weightSum       float64
	holdingCount    int
	companies       map[string]bool
	confWeightedUSD float64
}

// Snapshot produces one row per (run, portfolio, date, taxonomy type, node),
// sorted deterministically.
func (e *Engine) Snapshot(ctx context.Context, in Inputs) ([]model.AggregationSnapshot, error) {
	confByKey := confidenceIndex(in.Classifications)

	groups := make(map[groupKey]*groupAcc)
	// Per (run, portfolio, date, type): value with a known node over total
	// value, for the coverage column.
	type coverKey struct {
		runID, portfolioID, asOfDate, taxonomyType string
	}
	knownUSD := make(map[coverKey]float64)
	totalUSD := make(map[coverKey]float64)

	for _, exp := range in.Exposures {
		nodes := e.resolveNodes(exp, in.Companies)
		for _, tn := range nodes {
			key := groupKey{exp.RunID, exp.PortfolioID, exp.AsOfDate, tn.taxonomyType, tn.nodeID}
			acc := groups[key]
			if acc == nil {
				acc = &groupAcc{companies: make(map[string]bool)}
				groups[key] = acc
			}
			acc.totalUSD += exp.ValueUSD
			acc.weightSum += exp.Weight
			acc.holdingCount++
			if exp.CompanyID != nil {
				acc.companies[*exp.CompanyID] = true
			}

			ck := coverKey{exp.RunID, exp.PortfolioID, exp.AsOfDate, tn.taxonomyType}
			totalUSD[ck] += exp.ValueUSD
			if tn.nodeID != UnknownNodeID {
				knownUSD[ck] += exp.ValueUSD
				conf := 1.0
				if exp.CompanyID != nil {
					if c, ok := confByKey[confKey{*exp.CompanyID, tn.taxonomyType}]; ok {
						conf = c
					}
				}
				acc.confWeightedUSD += exp.ValueUSD * conf
			}
		}
	}

	out := make([]model.AggregationSnapshot, 0, len(groups))
	for key, acc := range groups {
		ck := coverKey{key.runID, key.portfolioID, key.asOfDate, key.taxonomyType}
		coverage := 0.0
		if totalUSD[ck] > 0 {
			coverage = knownUSD[ck] / totalUSD[ck]
		}
		out = append(out, model.AggregationSnapshot{
			RunID:                 key.runID,
			PortfolioID:           key.portfolioID,
			AsOfDate:              key.asOfDate,
			TaxonomyType:          key.taxonomyType,
			NodeID:                key.nodeID,
			TotalValueUSD:         acc.totalUSD,
			WeightSum:             acc.weightSum,
			HoldingCount:          acc.holdingCount,
			CompanyCount:          len(acc.companies),
			CoveragePct:           coverage,
			ConfidenceWeightedUSD: acc.confWeightedUSD,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RunID != b.RunID {
			return a.RunID < b.RunID
		}
		if a.PortfolioID != b.PortfolioID {
			return a.PortfolioID < b.PortfolioID
		}
		if a.AsOfDate != b.AsOfDate {
			return a.AsOfDate < b.AsOfDate
		}
		if a.TaxonomyType != b.TaxonomyType {
			return a.TaxonomyType < b.TaxonomyType
		}
		return a.NodeID < b.NodeID
	})

	if err := e.record(ctx, in, out); err != nil {
		return nil, err
	}

	e.log.Info("aggregation snapshot complete",
		zap.Int("exposures", len(in.Exposures)),
		zap.Int("snapshot_rows", len(out)),
	)
	return out, nil
}

type typedNode struct {
	taxonomyType string
	nodeID       string
}

// resolveNodes maps one exposure to its sector, industry, and geography
// nodes. Anything without a company, or with unfilled company dimensions,
// falls to the unknown node.
func (e *Engine) resolveNodes(exp model.InferredExposure, companies map[string]model.Company) []typedNode {
	industryID := UnknownNodeID
	sectorID := UnknownNodeID
	geographyID := UnknownNodeID

	if exp.CompanyID != nil {
		company, ok := companies[*exp.CompanyID]
		if ok {
			if company.IndustryNodeID != "" {
				industryID = company.IndustryNodeID
				if sector, found := e.tree.SectorOf(company.IndustryNodeID); found {
					sectorID = sector.ID
				}
			}
			if company.CountryNodeID != "" {
				geographyID = company.CountryNodeID
			}
		}
	}

	return []typedNode{
		{taxonomyType: taxonomy.TypeSector, nodeID: sectorID},
		{taxonomyType: taxonomy.TypeIndustry, nodeID: industryID},
		{taxonomyType: taxonomy.TypeGeography, nodeID: geographyID},
	}
}

type confKey struct {
	companyID    string
	taxonomyType string
}

// confidenceIndex keeps the highest validated confidence per company and
// taxonomy type. Sector confidence falls back to the industry row when no
// sector-level classification exists, since sector derives from industry.
func confidenceIndex(classifications []model.Classification) map[confKey]float64 {
	idx := make(map[confKey]float64)
	for _, c := range classifications {
		if !c.Classified() || c.CompanyID == nil {
			continue
		}
		key := confKey{*c.CompanyID, c.TaxonomyType}
		if c.Confidence > idx[key] {
			idx[key] = c.Confidence
		}
	}
	fallbacks := make(map[confKey]float64)
	for key, conf := range idx {
		if key.taxonomyType != taxonomy.TypeIndustry {
			continue
		}
		sectorKey := confKey{key.companyID, taxonomy.TypeSector}
		if _, ok := idx[sectorKey]; !ok {
			fallbacks[sectorKey] = conf
		}
	}
	for key, conf := range fallbacks {
		idx[key] = conf
	}
	return idx
}

func (e *Engine) record(ctx context.Context, in Inputs, rows []model.AggregationSnapshot) error {
	if e.audit == nil || len(rows) == 0 {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{
		"exposures":     len(in.Exposures),
		"snapshot_rows": len(rows),
	})
	_, err := e.audit.Append(ctx, model.AuditEvent{
		RunID:      rows[0].RunID,
		ActorType:  model.ActorSystem,
		ActorID:    "aggregate",
		Action:     model.ActionAggregation,
		EntityType: "aggregation_snapshot",
		EntityID:   rows[0].RunID,
		Payload:    payload,
		EventTime:  time.Now().UTC(),
	})
	return err
}
