// Package model defines the core domain types shared across the look-through
// pipeline: runs, holdings, exposures, classifications, review items, and
// audit events.
package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusResolving   RunStatus = "resolving"
	RunStatusInferring   RunStatus = "inferring"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusAggregating RunStatus = "aggregating"
	RunStatusReviewing   RunStatus = "reviewing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// RunConfig is the full configuration snapshot recorded on a run at creation.
// Stages read toggles and thresholds from here, never from ambient state, so
// a run is reproducible from its record alone.
type RunConfig struct {
	PortfolioTotalValueUSD float64 `json:"portfolio_total_value_usd"`

	// Allocation policy toggles.
	ScaleToNAV                bool `json:"scale_to_nav"`
	IncludeNonInvestmentItems bool `json:"include_non_investment_items"`
	UsePublicMarketProxy      bool `json:"use_public_market_proxy"`

	// Resolver policy.
	TokenOverlapThreshold float64 `json:"token_overlap_threshold"`
	MaxAliases            int     `json:"max_aliases"`

	// Governance thresholds.
	ConfidenceThreshold     float64 `json:"confidence_threshold"`
	MaterialityThresholdUSD float64 `json:"materiality_threshold_usd"`

	// Oracle provenance.
	OracleModel   string `json:"oracle_model"`
	PromptVersion string `json:"prompt_version"`
}

// Run identifies one reproducible execution of the pipeline stages.
type Run struct {
	ID                string    `json:"id"`
	PortfolioID       string    `json:"portfolio_id"`
	TaxonomyVersionID string    `json:"taxonomy_version_id"`
	Status            RunStatus `json:"status"`
	Config            RunConfig `json:"config"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
