// Package store persists the pipeline's record tables behind one interface
// with SQLite and Postgres drivers. Audit rows are append-only at the
// storage level: both drivers install triggers that abort any update or
// delete against them.
package store

import (
	"context"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status      model.RunStatus `json:"status,omitempty"`
	PortfolioID string          `json:"portfolio_id,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Offset      int             `json:"offset,omitempty"`
}

// ExposureFilter narrows exposure listings.
type ExposureFilter struct {
	RunID       string `json:"run_id,omitempty"`
	PortfolioID string `json:"portfolio_id,omitempty"`
	FundID      string `json:"fund_id,omitempty"`
	AsOfDate    string `json:"as_of_date,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// SnapshotFilter narrows aggregation snapshot listings.
type SnapshotFilter struct {
	RunID        string `json:"run_id,omitempty"`
	PortfolioID  string `json:"portfolio_id,omitempty"`
	TaxonomyType string `json:"taxonomy_type,omitempty"`
	AsOfDate     string `json:"as_of_date,omitempty"`
}

// ReviewFilter narrows review queue listings.
type ReviewFilter struct {
	RunID    string             `json:"run_id,omitempty"`
	Status   model.ReviewStatus `json:"status,omitempty"`
	Reason   model.ReviewReason `json:"reason,omitempty"`
	Priority model.Priority     `json:"priority,omitempty"`
	Limit    int                `json:"limit,omitempty"`
	Offset   int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the look-through pipeline.
// It also satisfies audit.Store so the audit log writes through the same
// backend as everything else.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, portfolioID, taxonomyVersionID string, cfg model.RunConfig) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Companies and aliases
	UpsertCompany(ctx context.Context, company model.Company) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
	UpsertAlias(ctx context.Context, alias model.Alias) error
	ListAliases(ctx context.Context) ([]model.Alias, error)

	// Fund reports and holdings
	UpsertFundReport(ctx context.Context, report model.FundReport) error
	ListFundReports(ctx context.Context) ([]model.FundReport, error)
	InsertHoldings(ctx context.Context, holdings []model.ReportedHolding) error
	SetHoldingResolution(ctx context.Context, holding model.ReportedHolding) error
	ListHoldings(ctx context.Context, fundReportID string) ([]model.ReportedHolding, error)

	// Exposures
	InsertExposures(ctx context.Context, exposures []model.InferredExposure) error
	ListExposures(ctx context.Context, filter ExposureFilter) ([]model.InferredExposure, error)

	// Classifications
	InsertClassifications(ctx context.Context, rows []model.Classification) error
	ListClassifications(ctx context.Context, runID string) ([]model.Classification, error)

	// Aggregation snapshots: replaced wholesale per run, never patched.
	ReplaceSnapshots(ctx context.Context, runID string, rows []model.AggregationSnapshot) error
	ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.AggregationSnapshot, error)

	// Review queue
	InsertReviewItems(ctx context.Context, items []model.ReviewItem) error
	GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error)
	UpdateReviewItem(ctx context.Context, item model.ReviewItem) error
	ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error)

	// Audit trail (audit.Store)
	InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error
	LastAuditHash(ctx context.Context, runID string) (string, error)
	ListAuditEvents(ctx context.Context, f audit.Filter) ([]model.AuditEvent, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
