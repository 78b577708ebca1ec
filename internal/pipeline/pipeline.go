// Package pipeline sequences a look-through run across its stages:
// resolve, infer, classify, aggregate, review. Each stage updates the run
// status before it starts, so an interrupted run records how far it got.
// Committed rows survive cancellation; a failed run keeps everything
// written before the failing stage.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/aggregate"
	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/classify"
	"github.com/sells-group/lookthrough/internal/inference"
	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/resolver"
	"github.com/sells-group/lookthrough/internal/review"
	"github.com/sells-group/lookthrough/internal/store"
	"github.com/sells-group/lookthrough/internal/taxonomy"
	"github.com/sells-group/lookthrough/pkg/oracle"
)

// Runner wires the stage engines over a shared store and audit log.
type Runner struct {
	store  store.Store
	audit  *audit.Log
	tree   *taxonomy.Tree
	oracle oracle.Client

	classifyCfg classify.Config
	log         *zap.Logger
}

// NewRunner builds a Runner. The oracle client may be nil, in which case
// the classify stage uses rule-based classification only.
func NewRunner(st store.Store, auditLog *audit.Log, tree *taxonomy.Tree, client oracle.Client, classifyCfg classify.Config) *Runner {
	return &Runner{
		store:       st,
		audit:       auditLog,
		tree:        tree,
		oracle:      client,
		classifyCfg: classifyCfg,
		log:         zap.L().With(zap.String("component", "pipeline")),
	}
}

// Result summarizes a completed run for callers and the CLI.
type Result struct {
	Run             *model.Run `json:"run"`
	Holdings        int        `json:"holdings"`
	Resolved        int        `json:"resolved"`
	Exposures       int        `json:"exposures"`
	Classifications int        `json:"classifications"`
	Snapshots       int        `json:"snapshots"`
	ReviewItems     int        `json:"review_items"`
	Elapsed         float64    `json:"elapsed_seconds"`
}

// Run creates a run record for the portfolio and executes every stage.
// The config snapshot is stored at creation so the run is reproducible
// from its record alone.
func (r *Runner) Run(ctx context.Context, portfolioID string, cfg model.RunConfig) (*Result, error) {
	run, err := r.store.CreateRun(ctx, portfolioID, r.tree.Version.ID, cfg)
	if err != nil {
		return nil, err
	}
	r.log.Info("run created",
		zap.String("run_id", run.ID),
		zap.String("portfolio_id", portfolioID),
		zap.String("taxonomy_version", run.TaxonomyVersionID),
	)

	start := time.Now()
	result, err := r.execute(ctx, run)
	if err != nil {
		r.fail(run.ID, err)
		return nil, err
	}

	if err := r.store.UpdateRunStatus(ctx, run.ID, model.RunStatusComplete, ""); err != nil {
		return nil, err
	}
	run.Status = model.RunStatusComplete
	result.Run = run
	result.Elapsed = time.Since(start).Seconds()

	payload, _ := json.Marshal(result)
	if _, err := r.audit.Append(ctx, model.AuditEvent{
		RunID:      run.ID,
		ActorType:  model.ActorSystem,
		Action:     model.ActionRunComplete,
		EntityType: "run",
		EntityID:   run.ID,
		Payload:    payload,
	}); err != nil {
		return nil, err
	}

	r.log.Info("run complete",
		zap.String("run_id", run.ID),
		zap.Int("exposures", result.Exposures),
		zap.Int("snapshots", result.Snapshots),
		zap.Int("review_items", result.ReviewItems),
		zap.Float64("elapsed_seconds", result.Elapsed),
	)
	return result, nil
}

func (r *Runner) execute(ctx context.Context, run *model.Run) (*Result, error) {
	result := &Result{}

	// Resolve.
	if err := r.setStatus(ctx, run, model.RunStatusResolving); err != nil {
		return nil, err
	}
	reports, err := r.loadReports(ctx)
	if err != nil {
		return nil, err
	}

	resolved, err := r.resolve(ctx, run, reports)
	if err != nil {
		return nil, err
	}
	result.Resolved = resolved

	var holdings []model.ReportedHolding
	for _, rh := range reports {
		holdings = append(holdings, rh.Holdings...)
	}
	result.Holdings = len(holdings)

	// Infer.
	if err := r.setStatus(ctx, run, model.RunStatusInferring); err != nil {
		return nil, err
	}
	exposures, err := inference.NewEngine(r.audit).Infer(ctx, *run, reports)
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertExposures(ctx, exposures); err != nil {
		return nil, err
	}
	result.Exposures = len(exposures)

	// Classify.
	if err := r.setStatus(ctx, run, model.RunStatusClassifying); err != nil {
		return nil, err
	}
	companies, err := r.companiesByID(ctx)
	if err != nil {
		return nil, err
	}
	classifications, err := r.classify(ctx, run, referenced(holdings, companies))
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertClassifications(ctx, classifications); err != nil {
		return nil, err
	}
	if err := r.writeBack(ctx, run.ID, companies, classifications); err != nil {
		return nil, err
	}
	result.Classifications = len(classifications)

	// Aggregate.
	if err := r.setStatus(ctx, run, model.RunStatusAggregating); err != nil {
		return nil, err
	}
	snapshots, err := aggregate.NewEngine(r.tree, r.audit).Snapshot(ctx, aggregate.Inputs{
		Exposures:       exposures,
		Companies:       companies,
		Classifications: classifications,
	})
	if err != nil {
		return nil, err
	}
	if err := r.store.ReplaceSnapshots(ctx, run.ID, snapshots); err != nil {
		return nil, err
	}
	result.Snapshots = len(snapshots)

	// Review.
	if err := r.setStatus(ctx, run, model.RunStatusReviewing); err != nil {
		return nil, err
	}
	existing, err := r.store.ListReviewItems(ctx, store.ReviewFilter{Status: model.ReviewPending})
	if err != nil {
		return nil, err
	}
	policy := review.Policy{
		ConfidenceThreshold: run.Config.ConfidenceThreshold,
		MaterialityUSD:      run.Config.MaterialityThresholdUSD,
	}
	items, err := review.NewRouter(policy, r.audit).Evaluate(ctx, review.State{
		RunID:           run.ID,
		Holdings:        holdings,
		Companies:       companies,
		Classifications: classifications,
		Exposures:       exposures,
		Existing:        existing,
	})
	if err != nil {
		return nil, err
	}
	if err := r.store.InsertReviewItems(ctx, items); err != nil {
		return nil, err
	}
	result.ReviewItems = len(items)

	return result, nil
}

func (r *Runner) setStatus(ctx context.Context, run *model.Run, status model.RunStatus) error {
	if err := r.store.UpdateRunStatus(ctx, run.ID, status, ""); err != nil {
		return err
	}
	run.Status = status
	r.log.Info("stage start", zap.String("run_id", run.ID), zap.String("stage", string(status)))
	return nil
}

// fail records the failure on the run and in the audit trail. A fresh
// context detached from the canceled one keeps the writes possible.
func (r *Runner) fail(runID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.store.UpdateRunStatus(ctx, runID, model.RunStatusFailed, cause.Error()); err != nil {
		r.log.Error("failed to record run failure", zap.String("run_id", runID), zap.Error(err))
	}
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if _, err := r.audit.Append(ctx, model.AuditEvent{
		RunID:      runID,
		ActorType:  model.ActorSystem,
		Action:     model.ActionRunFailed,
		EntityType: "run",
		EntityID:   runID,
		Payload:    payload,
	}); err != nil {
		r.log.Error("failed to audit run failure", zap.String("run_id", runID), zap.Error(err))
	}
	r.log.Error("run failed", zap.String("run_id", runID), zap.Error(cause))
}

func (r *Runner) loadReports(ctx context.Context) ([]inference.ReportHoldings, error) {
	fundReports, err := r.store.ListFundReports(ctx)
	if err != nil {
		return nil, err
	}
	if len(fundReports) == 0 {
		return nil, eris.New("pipeline: no fund reports ingested")
	}

	reports := make([]inference.ReportHoldings, 0, len(fundReports))
	for _, fr := range fundReports {
		holdings, err := r.store.ListHoldings(ctx, fr.ID)
		if err != nil {
			return nil, err
		}
		reports = append(reports, inference.ReportHoldings{Report: fr, Holdings: holdings})
	}
	return reports, nil
}

// resolve runs the cascade over every unresolved holding, in place so the
// inference stage sees the resolved company ids. Matches persist
// write-once; unmatched holdings stay unresolved in storage and get
// another attempt on the next run, when the alias store may have grown.
func (r *Runner) resolve(ctx context.Context, run *model.Run, reports []inference.ReportHoldings) (int, error) {
	companies, err := r.store.ListCompanies(ctx)
	if err != nil {
		return 0, err
	}
	aliases, err := r.store.ListAliases(ctx)
	if err != nil {
		return 0, err
	}

	res := resolver.New(resolver.NewIndex(companies, aliases),
		resolver.WithTokenOverlapThreshold(run.Config.TokenOverlapThreshold),
		resolver.WithAliasLearning(aliasStore{r.store}, run.Config.MaxAliases),
		resolver.WithAuditLog(r.audit),
	)

	matched := 0
	for i := range reports {
		holdings := reports[i].Holdings
		resolutions, err := res.ResolveHoldings(ctx, run.ID, holdings)
		if err != nil {
			return matched, err
		}

		newly := make(map[string]bool, len(resolutions))
		for _, rs := range resolutions {
			if rs.CompanyID != nil {
				newly[rs.HoldingID] = true
				matched++
			}
		}
		for _, h := range holdings {
			if !newly[h.ID] {
				continue
			}
			if err := r.store.SetHoldingResolution(ctx, h); err != nil {
				return matched, err
			}
		}
	}
	return matched, nil
}

// aliasStore adapts the Store's fire-and-forget alias upsert to the
// resolver's contract, which wants the learned alias back for its index.
type aliasStore struct {
	s store.Store
}

func (a aliasStore) UpsertAlias(ctx context.Context, alias model.Alias) (model.Alias, error) {
	if err := a.s.UpsertAlias(ctx, alias); err != nil {
		return model.Alias{}, err
	}
	return alias, nil
}

func (r *Runner) companiesByID(ctx context.Context) (map[string]model.Company, error) {
	companies, err := r.store.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}
	return byID, nil
}

// referenced returns the companies holdings actually resolved to, in a
// deterministic order.
func referenced(holdings []model.ReportedHolding, companies map[string]model.Company) []model.Company {
	seen := make(map[string]bool)
	var out []model.Company
	for _, h := range holdings {
		if h.CompanyID == nil || seen[*h.CompanyID] {
			continue
		}
		seen[*h.CompanyID] = true
		if c, ok := companies[*h.CompanyID]; ok {
			out = append(out, c)
		}
	}
	return out
}

// classify produces industry and geography rows for every referenced
// company. Geography comes from the country rule where the company carries
// a country; the oracle covers everything else.
func (r *Runner) classify(ctx context.Context, run *model.Run, companies []model.Company) ([]model.Classification, error) {
	var rows []model.Classification

	rules := classify.NewRules(r.tree, r.audit)
	needGeo := make(map[string]bool, len(companies))
	for _, c := range companies {
		cls, ok, err := rules.GeographyFromCountry(ctx, run.ID, c)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, cls)
		} else {
			needGeo[c.ID] = true
		}
	}

	if r.oracle == nil {
		r.log.Warn("no oracle configured, industry classification skipped",
			zap.String("run_id", run.ID), zap.Int("companies", len(companies)))
		classify.SortClassifications(rows)
		return rows, nil
	}

	cfg := r.classifyCfg
	cfg.Model = run.Config.OracleModel
	cfg.PromptVersion = run.Config.PromptVersion
	classifier := classify.New(r.oracle, r.tree, cfg, r.audit)

	industry, err := classifier.ClassifyCompanies(ctx, run.ID, companies, []string{taxonomy.TypeIndustry})
	if err != nil {
		return nil, err
	}
	rows = append(rows, industry...)

	var geoCompanies []model.Company
	for _, c := range companies {
		if needGeo[c.ID] {
			geoCompanies = append(geoCompanies, c)
		}
	}
	if len(geoCompanies) > 0 {
		geo, err := classifier.ClassifyCompanies(ctx, run.ID, geoCompanies, []string{taxonomy.TypeGeography})
		if err != nil {
			return nil, err
		}
		rows = append(rows, geo...)
	}

	classify.SortClassifications(rows)
	return rows, nil
}

// writeBack stamps validated node ids onto company records so later runs
// resolve dimensions without repeating oracle calls. Each write is audited.
func (r *Runner) writeBack(ctx context.Context, runID string, companies map[string]model.Company, rows []model.Classification) error {
	for _, cls := range rows {
		// Abstentions validate with an empty node id; nothing to write.
		if cls.Status != model.ClassificationValidated || cls.CompanyID == nil || cls.NodeID == "" {
			continue
		}
		c, ok := companies[*cls.CompanyID]
		if !ok {
			continue
		}

		changed := false
		switch cls.TaxonomyType {
		case taxonomy.TypeIndustry:
			if c.IndustryNodeID == "" {
				c.IndustryNodeID = cls.NodeID
				changed = true
			}
		case taxonomy.TypeGeography:
			if c.CountryNodeID == "" {
				c.CountryNodeID = cls.NodeID
				changed = true
			}
		}
		if !changed {
			continue
		}

		if err := r.store.UpsertCompany(ctx, c); err != nil {
			return err
		}
		companies[c.ID] = c

		payload, _ := json.Marshal(map[string]string{
			"taxonomy_type": cls.TaxonomyType,
			"node_id":       cls.NodeID,
			"node_name":     cls.NodeName,
		})
		if _, err := r.audit.Append(ctx, model.AuditEvent{
			RunID:      runID,
			ActorType:  model.ActorSystem,
			Action:     model.ActionCompanyClassWrite,
			EntityType: "company",
			EntityID:   c.ID,
			Payload:    payload,
		}); err != nil {
			return err
		}
	}
	return nil
}
