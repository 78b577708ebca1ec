package model

import "time"

// ClassificationMethod identifies the path that produced a classification.
type ClassificationMethod string

const (
	ClassifyOracle ClassificationMethod = "oracle"
	ClassifyRule   ClassificationMethod = "rule"
	ClassifyFailed ClassificationMethod = "classification_failed"
)

// ClassificationStatus is the validation outcome for a classification row.
// Every oracle and rule result passes through the validation gate and lands
// in exactly one of these states.
type ClassificationStatus string

const (
	ClassificationValidated ClassificationStatus = "validated"
	ClassificationRejected  ClassificationStatus = "rejected"
	ClassificationFailed    ClassificationStatus = "failed"
)

// Classification is one validated (exposure, taxonomy type) classification
// row. Conflicting classifications across runs are surfaced, not resolved.
type Classification struct {
	ID             string  `json:"id"`
	RunID          string  `json:"run_id"`
	CompanyID      *string `json:"company_id"`
	RawCompanyName string  `json:"raw_company_name"`

	TaxonomyType string  `json:"taxonomy_type"`
	NodeID       string  `json:"taxonomy_node_id,omitempty"`
	NodeName     string  `json:"node_name,omitempty"`
	Confidence   float64 `json:"confidence"`

	Method      ClassificationMethod `json:"method"`
	Status      ClassificationStatus `json:"status"`
	Rationale   string               `json:"rationale,omitempty"`
	Assumptions []string             `json:"assumptions,omitempty"`

	// Oracle provenance.
	Model         string `json:"model,omitempty"`
	PromptVersion string `json:"prompt_version,omitempty"`
	InputHash     string `json:"input_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Classified reports whether the row carries a usable taxonomy node.
func (c *Classification) Classified() bool {
	return c.Status == ClassificationValidated && c.NodeID != ""
}
