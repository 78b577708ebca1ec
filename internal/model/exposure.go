package model

// ExposureType labels what an inferred exposure row represents.
type ExposureType string

const (
	ExposureLookthrough   ExposureType = "lookthrough"
	ExposureUnknown       ExposureType = "unknown"
	ExposureProxy         ExposureType = "proxy"
	ExposureNonInvestment ExposureType = "non_investment"
)

// InferredExposure is one canonical exposure row per
// (run, portfolio, fund, company, as-of-date, exposure type). Rows are
// produced once per run and superseded, never overwritten, by re-runs.
type InferredExposure struct {
	ID             string       `json:"id"`
	RunID          string       `json:"run_id"`
	PortfolioID    string       `json:"portfolio_id"`
	FundID         string       `json:"fund_id"`
	CompanyID      *string      `json:"company_id"`
	RawCompanyName string       `json:"raw_company_name,omitempty"`
	HoldingID      string       `json:"holding_id,omitempty"`
	AsOfDate       string       `json:"as_of_date"`
	ValueUSD       float64      `json:"exposure_value_usd"`
	Weight         float64      `json:"exposure_weight"`
	Type           ExposureType `json:"exposure_type"`
	Method         string       `json:"method"`
}

// AggregationSnapshot is a denormalized rollup per taxonomy node, recomputed
// deterministically from upstream tables for a given run id.
type AggregationSnapshot struct {
	RunID        string `json:"run_id"`
	PortfolioID  string `json:"portfolio_id"`
	AsOfDate     string `json:"as_of_date"`
	TaxonomyType string `json:"taxonomy_type"`
	NodeID       string `json:"taxonomy_node_id"`

	TotalValueUSD float64 `json:"total_exposure_value_usd"`
	WeightSum     float64 `json:"weight_sum"`
	HoldingCount  int     `json:"holding_count"`
	CompanyCount  int     `json:"company_count"`
	CoveragePct   float64 `json:"coverage_pct"`

	ConfidenceWeightedUSD float64 `json:"confidence_weighted_exposure"`

	// Uncertainty bands stay nil unless the uncertainty module sets them.
	P10 *float64 `json:"total_exposure_p10,omitempty"`
	P90 *float64 `json:"total_exposure_p90,omitempty"`
}
