package model

import "time"

// Company is the canonical deduplicated identity a set of raw name variants
// resolves to. Rows are never deleted; holdings reference them permanently.
type Company struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Country        string    `json:"country,omitempty"`
	Description    string    `json:"description,omitempty"`
	IndustryNodeID string    `json:"industry_node_id,omitempty"`
	CountryNodeID  string    `json:"country_node_id,omitempty"`
	Source         string    `json:"source,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Alias maps a raw name variant to a canonical company. Aliases created by
// the resolver carry the confidence of the strategy that discovered them,
// never an upgraded score.
type Alias struct {
	ID             string    `json:"id"`
	CompanyID      string    `json:"company_id"`
	AliasText      string    `json:"alias_text"`
	NormalizedText string    `json:"normalized_text"`
	Confidence     float64   `json:"confidence"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
}

// FundReport is a fund reporting snapshot tied to a reporting period.
type FundReport struct {
	ID               string    `json:"id"`
	FundID           string    `json:"fund_id"`
	PeriodEnd        time.Time `json:"period_end"`
	CoverageEstimate *float64  `json:"coverage_estimate,omitempty"`
	NAVUSD           *float64  `json:"nav_usd,omitempty"`
	DocumentID       string    `json:"document_id,omitempty"`
	Source           string    `json:"source,omitempty"`
}

// MatchMethod identifies the resolver strategy that produced a resolution.
type MatchMethod string

const (
	MatchExact        MatchMethod = "exact"
	MatchAlias        MatchMethod = "alias"
	MatchNormalized   MatchMethod = "normalized"
	MatchTokenOverlap MatchMethod = "token_overlap"
	MatchFirstEntity  MatchMethod = "first_entity"
	MatchUnmatched    MatchMethod = "unmatched"
)

// ReportedHolding is an as-reported row from a fund report. It is immutable
// once ingested; resolution fields are appended exactly once by the resolver
// and never overwritten.
type ReportedHolding struct {
	ID             string `json:"id"`
	FundReportID   string `json:"fund_report_id"`
	RawCompanyName string `json:"raw_company_name"`

	ReportedSector  string   `json:"reported_sector,omitempty"`
	ReportedCountry string   `json:"reported_country,omitempty"`
	ValueUSD        *float64 `json:"reported_value_usd,omitempty"`
	PctNAV          *float64 `json:"reported_pct_nav,omitempty"`
	NonInvestment   bool     `json:"non_investment,omitempty"`

	// Extraction lineage.
	ExtractionMethod     string   `json:"extraction_method,omitempty"`
	ExtractionConfidence *float64 `json:"extraction_confidence,omitempty"`
	DocumentID           string   `json:"document_id,omitempty"`
	PageNumber           int      `json:"page_number,omitempty"`
	RowNumber            int      `json:"row_number,omitempty"`

	// Resolution outcome, appended by the resolver.
	CompanyID       *string     `json:"company_id,omitempty"`
	MatchMethod     MatchMethod `json:"match_method,omitempty"`
	MatchConfidence float64     `json:"match_confidence,omitempty"`
}

// Resolved reports whether the holding carries a resolution outcome.
func (h *ReportedHolding) Resolved() bool {
	return h.MatchMethod != "" && h.MatchMethod != MatchUnmatched
}

// Resolution is the outcome of one resolver invocation for a raw name.
// Ambiguity is a valid, scored outcome: an unmatched result has a nil
// CompanyID, method "unmatched", and confidence 0.
type Resolution struct {
	HoldingID   string      `json:"holding_id,omitempty"`
	RawName     string      `json:"raw_name"`
	CompanyID   *string     `json:"company_id"`
	MatchedName string      `json:"matched_name,omitempty"`
	Method      MatchMethod `json:"method"`
	Confidence  float64     `json:"confidence"`
	// Score carries the raw strategy score where one exists, e.g. the
	// Jaccard overlap for token_overlap matches.
	Score float64 `json:"score,omitempty"`
}
