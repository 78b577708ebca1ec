package model

import "time"

// ReviewReason is the single governance trigger that created a queue item.
type ReviewReason string

const (
	ReasonLowConfidenceClassification ReviewReason = "low_confidence_classification"
	ReasonConflictingClassifications  ReviewReason = "conflicting_classifications"
	ReasonUnclassifiableCompany       ReviewReason = "unclassifiable_company"
	ReasonUnresolvedEntity            ReviewReason = "unresolved_entity"
	ReasonMissingCountrySector        ReviewReason = "missing_country_sector"
	ReasonLargeUnknownExposure        ReviewReason = "large_unknown_exposure"
)

// Priority orders review queue work.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ReviewStatus tracks the item state machine:
// pending -> {approved, rejected, dismissed}, terminal once resolved.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"
	ReviewDismissed ReviewStatus = "dismissed"
)

// Terminal reports whether a status ends the item's lifecycle.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewApproved || s == ReviewRejected || s == ReviewDismissed
}

// ReviewItem is a governed work item created for exactly one reason.
// Once resolved, further triggers open a new item rather than reopen it.
type ReviewItem struct {
	ID             string       `json:"id"`
	RunID          string       `json:"run_id"`
	ExposureID     *string      `json:"exposure_id,omitempty"`
	HoldingID      *string      `json:"holding_id,omitempty"`
	CompanyID      *string      `json:"company_id,omitempty"`
	RawCompanyName string       `json:"raw_company_name,omitempty"`
	Reason         ReviewReason `json:"reason"`
	Priority       Priority     `json:"priority"`
	Status         ReviewStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	ResolvedAt     *time.Time   `json:"resolved_at,omitempty"`
	ResolvedBy     string       `json:"resolved_by,omitempty"`
	ResolutionNote string       `json:"resolution_note,omitempty"`
}

// TransitionResult reports the per-item outcome of a bulk status transition.
type TransitionResult struct {
	ItemID string `json:"item_id"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}
