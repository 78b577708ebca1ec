// Package inference turns resolved holdings into portfolio exposure rows
// under an explicit allocation policy. The engine degrades to the unknown
// bucket on missing data and fails only on structural errors: a report
// without a period end, or a negative reported value.
package inference

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
)

// MethodDeterministicV1 labels exposures produced by the equal-weight
// deterministic policy.
const MethodDeterministicV1 = "deterministic_v1"

// weightTolerance bounds acceptable floating residue when weights are
// checked against 1.0. Residue beyond this is a data-quality signal.
const weightTolerance = 1e-6

// AuditLog records inference decisions.
type AuditLog interface {
	Append(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
}

// Engine computes inferred exposures for one run.
type Engine struct {
	audit AuditLog
	log   *zap.Logger
}

// NewEngine builds an exposure engine.
func NewEngine(audit AuditLog) *Engine {
	return &Engine{
		audit: audit,
		log:   zap.L().With(zap.String("component", "inference")),
	}
}

// ReportHoldings pairs a fund report with its resolved holdings.
type ReportHoldings struct {
	Report   model.FundReport
	Holdings []model.ReportedHolding
}

// Infer produces exposure rows for every report, grouped by reporting
// period. Funds reporting in the same period split the portfolio equally.
func (e *Engine) Infer(ctx context.Context, run model.Run, reports []ReportHoldings) ([]model.InferredExposure, error) {
	// Weights divide by the portfolio total; zero would poison every row.
	if run.Config.PortfolioTotalValueUSD <= 0 {
		return nil, eris.Errorf("inference: run %s has non-positive portfolio total value", run.ID)
	}

	byPeriod := make(map[string][]ReportHoldings)
	for _, rh := range reports {
		if rh.Report.PeriodEnd.IsZero() {
			return nil, eris.Errorf("inference: fund report %s has no period end", rh.Report.ID)
		}
		key := rh.Report.PeriodEnd.Format("2006-01-02")
		byPeriod[key] = append(byPeriod[key], rh)
	}

	periods := make([]string, 0, len(byPeriod))
	for p := range byPeriod {
		periods = append(periods, p)
	}
	sort.Strings(periods)

	var out []model.InferredExposure
	for _, period := range periods {
		group := byPeriod[period]
		sort.Slice(group, func(i, j int) bool { return group[i].Report.ID < group[j].Report.ID })

		fundWeight := 1.0 / float64(len(group))
		fundAllocUSD := run.Config.PortfolioTotalValueUSD * fundWeight

		for _, rh := range group {
			rows, err := e.inferReport(ctx, run, rh, period, fundAllocUSD)
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
	}

	e.log.Info("exposure inference complete",
		zap.String("run_id", run.ID),
		zap.Int("reports", len(reports)),
		zap.Int("exposures", len(out)),
	)
	return out, nil
}

func (e *Engine) inferReport(ctx context.Context, run model.Run, rh ReportHoldings, asOfDate string, fundAllocUSD float64) ([]model.InferredExposure, error) {
	holdings := make([]model.ReportedHolding, 0, len(rh.Holdings))
	for _, h := range rh.Holdings {
		if h.ValueUSD != nil && *h.ValueUSD < 0 {
			return nil, eris.Errorf("inference: holding %s has negative reported value", h.ID)
		}
		if h.NonInvestment && !run.Config.IncludeNonInvestmentItems {
			continue
		}
		holdings = append(holdings, h)
	}
	if len(holdings) == 0 {
		return nil, nil
	}

	weights := e.holdingWeights(run, rh.Report, holdings)

	var rows []model.InferredExposure
	weightSum := 0.0
	for i, h := range holdings {
		weightSum += weights[i]
		expType := model.ExposureLookthrough
		if h.NonInvestment {
			expType = model.ExposureNonInvestment
		}
		rows = append(rows, model.InferredExposure{
			ID:             uuid.NewString(),
			RunID:          run.ID,
			PortfolioID:    run.PortfolioID,
			FundID:         rh.Report.FundID,
			CompanyID:      h.CompanyID,
			RawCompanyName: h.RawCompanyName,
			HoldingID:      h.ID,
			AsOfDate:       asOfDate,
			ValueUSD:       weights[i] * fundAllocUSD,
			Weight:         weights[i] * fundAllocUSD / run.Config.PortfolioTotalValueUSD,
			Type:           expType,
			Method:         MethodDeterministicV1,
		})
	}

	// Unknown bucket: whatever share of the fund the holdings did not
	// attribute. Negative residue beyond tolerance means the weights
	// overflowed; clamp, but say so.
	unknown := 1.0 - weightSum
	if unknown < 0 {
		if unknown < -weightTolerance {
			e.log.Warn("holding weights exceed 1.0, clamping unknown bucket",
				zap.String("run_id", run.ID),
				zap.String("fund_report_id", rh.Report.ID),
				zap.Float64("weight_sum", weightSum),
			)
			if err := e.dataQuality(ctx, run.ID, rh.Report.ID, weightSum); err != nil {
				return nil, err
			}
		}
		unknown = 0
	}
	if unknown > weightTolerance {
		expType := model.ExposureUnknown
		if run.Config.UsePublicMarketProxy {
			expType = model.ExposureProxy
		}
		rows = append(rows, model.InferredExposure{
			ID:          uuid.NewString(),
			RunID:       run.ID,
			PortfolioID: run.PortfolioID,
			FundID:      rh.Report.FundID,
			CompanyID:   nil,
			AsOfDate:    asOfDate,
			ValueUSD:    unknown * fundAllocUSD,
			Weight:      unknown * fundAllocUSD / run.Config.PortfolioTotalValueUSD,
			Type:        expType,
			Method:      MethodDeterministicV1,
		})
	}

	// Each exposure row commits with its paired audit event.
	for _, row := range rows {
		if err := e.record(ctx, run.ID, row); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

// holdingWeights computes each holding's share of its fund.
//
// With any explicit values (or pct-of-NAV figures) present, weight is the
// holding's value over the scaling denominator. With none, holdings split
// the fund equally and the unknown bucket is zero.
func (e *Engine) holdingWeights(run model.Run, report model.FundReport, holdings []model.ReportedHolding) []float64 {
	navEstimate := estimateNAV(report, holdings)

	values := make([]float64, len(holdings))
	anyValued := false
	for i, h := range holdings {
		switch {
		case h.ValueUSD != nil && *h.ValueUSD > 0:
			values[i] = *h.ValueUSD
			anyValued = true
		case h.PctNAV != nil && *h.PctNAV > 0:
			values[i] = *h.PctNAV * navEstimate
			anyValued = true
		}
	}

	weights := make([]float64, len(holdings))
	if !anyValued {
		equal := 1.0 / float64(len(holdings))
		for i := range weights {
			weights[i] = equal
		}
		return weights
	}

	valueSum := 0.0
	for _, v := range values {
		valueSum += v
	}

	denom := valueSum
	if !run.Config.ScaleToNAV {
		denom = navEstimate
	}
	if denom <= 0 {
		denom = 1.0
	}
	for i, v := range values {
		weights[i] = v / denom
	}
	return weights
}

// estimateNAV approximates fund NAV from covered value and the report's
// coverage estimate. A reported NAV always wins.
func estimateNAV(report model.FundReport, holdings []model.ReportedHolding) float64 {
	coveredUSD := 0.0
	for _, h := range holdings {
		if h.ValueUSD != nil && *h.ValueUSD > 0 {
			coveredUSD += *h.ValueUSD
		}
	}

	if report.NAVUSD != nil && *report.NAVUSD > 0 {
		return *report.NAVUSD
	}
	if coveredUSD > 0 && report.CoverageEstimate != nil && *report.CoverageEstimate > 0 {
		return coveredUSD / *report.CoverageEstimate
	}
	if coveredUSD > 0 {
		return coveredUSD
	}
	return 1.0
}

func (e *Engine) record(ctx context.Context, runID string, row model.InferredExposure) error {
	if e.audit == nil {
		return nil
	}
	payload, _ := json.Marshal(row)
	_, err := e.audit.Append(ctx, model.AuditEvent{
		RunID:      runID,
		ActorType:  model.ActorSystem,
		ActorID:    "inference",
		Action:     model.ActionExposureInferred,
		EntityType: "inferred_exposure",
		EntityID:   row.ID,
		Payload:    payload,
		EventTime:  time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrapf(err, "inference: audit exposure %s", row.ID)
	}
	return nil
}

func (e *Engine) dataQuality(ctx context.Context, runID, reportID string, weightSum float64) error {
	if e.audit == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{
		"issue":          "weight_sum_exceeds_one",
		"fund_report_id": reportID,
		"weight_sum":     weightSum,
	})
	_, err := e.audit.Append(ctx, model.AuditEvent{
		RunID:      runID,
		ActorType:  model.ActorSystem,
		ActorID:    "inference",
		Action:     model.ActionDataQualityIssue,
		EntityType: "fund_report",
		EntityID:   reportID,
		Payload:    payload,
	})
	if err != nil {
		return eris.Wrapf(err, "inference: audit data quality %s", reportID)
	}
	return nil
}
