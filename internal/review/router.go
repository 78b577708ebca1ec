// Package review turns pipeline outputs into governed work items. The
// router is deterministic over its input state: re-evaluating unchanged
// records never duplicates a pending item for the same entity and reason.
package review

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
)

// Policy carries the governance thresholds and priority assignments.
// Thresholds are calibration inputs, not router logic.
type Policy struct {
	ConfidenceThreshold float64
	MaterialityUSD      float64

	// Overrides replaces the default priority for a reason.
	Overrides map[model.ReviewReason]model.Priority
}

// DefaultPolicy returns the documented defaults: confidence 0.70,
// materiality 1,000,000 USD.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: 0.70,
		MaterialityUSD:      1_000_000,
	}
}

func (p Policy) priorityFor(reason model.ReviewReason, material bool) model.Priority {
	if pr, ok := p.Overrides[reason]; ok {
		return pr
	}
	switch reason {
	case model.ReasonLargeUnknownExposure:
		return model.PriorityHigh
	case model.ReasonUnresolvedEntity:
		if material {
			return model.PriorityHigh
		}
		return model.PriorityLow
	case model.ReasonLowConfidenceClassification:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// AuditLog records queue inserts and transitions.
type AuditLog interface {
	Append(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
}

// State is the record set the router evaluates. Existing holds the queue
// items already persisted for pending-item deduplication.
type State struct {
	RunID           string
	Holdings        []model.ReportedHolding
	Companies       map[string]model.Company
	Classifications []model.Classification
	Exposures       []model.InferredExposure
	Existing        []model.ReviewItem
}

// Router evaluates trigger conditions over pipeline state.
type Router struct {
	policy Policy
	audit  AuditLog
	log    *zap.Logger
	now    func() time.Time
}

// NewRouter builds a router under one policy.
func NewRouter(policy Policy, audit AuditLog) *Router {
	if policy.ConfidenceThreshold <= 0 {
		policy.ConfidenceThreshold = DefaultPolicy().ConfidenceThreshold
	}
	if policy.MaterialityUSD <= 0 {
		policy.MaterialityUSD = DefaultPolicy().MaterialityUSD
	}
	return &Router{
		policy: policy,
		audit:  audit,
		log:    zap.L().With(zap.String("component", "review")),
		now:    time.Now,
	}
}

type dedupeKey struct {
	entityID string
	reason   model.ReviewReason
}

// Evaluate returns the new queue items the current state calls for. Each
// trigger is evaluated independently: one company can surface several items
// for different reasons, but never two pending items for the same reason.
func (r *Router) Evaluate(ctx context.Context, st State) ([]model.ReviewItem, error) {
	pending := make(map[dedupeKey]bool)
	for _, item := range st.Existing {
		if item.Status == model.ReviewPending {
			pending[dedupeKey{entityKey(item), item.Reason}] = true
		}
	}

	var candidates []model.ReviewItem
	candidates = append(candidates, r.classificationTriggers(st)...)
	candidates = append(candidates, r.resolutionTriggers(st)...)
	candidates = append(candidates, r.exposureTriggers(st)...)

	created := make([]model.ReviewItem, 0, len(candidates))
	for _, item := range candidates {
		key := dedupeKey{entityKey(item), item.Reason}
		if pending[key] {
			continue
		}
		pending[key] = true

		item.ID = uuid.NewString()
		item.RunID = st.RunID
		item.Status = model.ReviewPending
		item.CreatedAt = r.now().UTC()
		created = append(created, item)

		if err := r.auditInsert(ctx, item); err != nil {
			return nil, err
		}
	}

	r.log.Info("review queue evaluated",
		zap.String("run_id", st.RunID),
		zap.Int("created", len(created)),
	)
	return created, nil
}

// classificationTriggers covers low confidence, cross-run conflicts, and
// companies the oracle could not place anywhere in the taxonomy.
func (r *Router) classificationTriggers(st State) []model.ReviewItem {
	type companyState struct {
		companyID   string
		name        string
		lowConf     bool
		classified  bool
		attempted   bool
		nodesByType map[string]map[string]bool
	}

	states := make(map[string]*companyState)
	order := make([]string, 0)
	for _, c := range st.Classifications {
		if c.CompanyID == nil {
			continue
		}
		cs := states[*c.CompanyID]
		if cs == nil {
			cs = &companyState{
				companyID:   *c.CompanyID,
				name:        c.RawCompanyName,
				nodesByType: make(map[string]map[string]bool),
			}
			states[*c.CompanyID] = cs
			order = append(order, *c.CompanyID)
		}
		cs.attempted = true
		if c.Classified() {
			cs.classified = true
			if c.Confidence < r.policy.ConfidenceThreshold {
				cs.lowConf = true
			}
			nodes := cs.nodesByType[c.TaxonomyType]
			if nodes == nil {
				nodes = make(map[string]bool)
				cs.nodesByType[c.TaxonomyType] = nodes
			}
			nodes[c.NodeID] = true
		}
	}

	var items []model.ReviewItem
	for _, id := range order {
		cs := states[id]
		companyID := cs.companyID

		if cs.lowConf {
			items = append(items, model.ReviewItem{
				CompanyID:      &companyID,
				RawCompanyName: cs.name,
				Reason:         model.ReasonLowConfidenceClassification,
				Priority:       r.policy.priorityFor(model.ReasonLowConfidenceClassification, false),
			})
		}
		for _, nodes := range cs.nodesByType {
			if len(nodes) > 1 {
				items = append(items, model.ReviewItem{
					CompanyID:      &companyID,
					RawCompanyName: cs.name,
					Reason:         model.ReasonConflictingClassifications,
					Priority:       r.policy.priorityFor(model.ReasonConflictingClassifications, false),
				})
				break
			}
		}
		if cs.attempted && !cs.classified {
			items = append(items, model.ReviewItem{
				CompanyID:      &companyID,
				RawCompanyName: cs.name,
				Reason:         model.ReasonUnclassifiableCompany,
				Priority:       r.policy.priorityFor(model.ReasonUnclassifiableCompany, false),
			})
		}
	}
	return items
}

// resolutionTriggers covers holdings that never matched a company and
// resolved holdings whose company carries neither country nor sector.
func (r *Router) resolutionTriggers(st State) []model.ReviewItem {
	valueByHolding := make(map[string]float64)
	for _, exp := range st.Exposures {
		valueByHolding[exp.HoldingID] += exp.ValueUSD
	}

	var items []model.ReviewItem
	for _, h := range st.Holdings {
		holdingID := h.ID
		if !h.Resolved() || h.CompanyID == nil {
			material := valueByHolding[h.ID] > r.policy.MaterialityUSD
			items = append(items, model.ReviewItem{
				HoldingID:      &holdingID,
				RawCompanyName: h.RawCompanyName,
				Reason:         model.ReasonUnresolvedEntity,
				Priority:       r.policy.priorityFor(model.ReasonUnresolvedEntity, material),
			})
			continue
		}

		company, ok := st.Companies[*h.CompanyID]
		if !ok {
			continue
		}
		missingCountry := company.CountryNodeID == "" && h.ReportedCountry == ""
		missingSector := company.IndustryNodeID == "" && h.ReportedSector == ""
		if missingCountry && missingSector {
			companyID := company.ID
			items = append(items, model.ReviewItem{
				HoldingID:      &holdingID,
				CompanyID:      &companyID,
				RawCompanyName: h.RawCompanyName,
				Reason:         model.ReasonMissingCountrySector,
				Priority:       r.policy.priorityFor(model.ReasonMissingCountrySector, false),
			})
		}
	}
	return items
}

// exposureTriggers flags material exposure that carries no classification:
// either the exposure never resolved to a company, or it resolved to a
// company with no validated taxonomy node on any dimension.
func (r *Router) exposureTriggers(st State) []model.ReviewItem {
	classified := make(map[string]bool)
	for _, cls := range st.Classifications {
		if cls.Status == model.ClassificationValidated && cls.NodeID != "" && cls.CompanyID != nil {
			classified[*cls.CompanyID] = true
		}
	}

	var items []model.ReviewItem
	for _, exp := range st.Exposures {
		if exp.ValueUSD <= r.policy.MaterialityUSD {
			continue
		}
		var companyID *string
		if exp.CompanyID != nil {
			company, ok := st.Companies[*exp.CompanyID]
			hasDims := ok && (company.IndustryNodeID != "" || company.CountryNodeID != "")
			if hasDims || classified[*exp.CompanyID] {
				continue
			}
			id := *exp.CompanyID
			companyID = &id
		}
		exposureID := exp.ID
		items = append(items, model.ReviewItem{
			ExposureID:     &exposureID,
			CompanyID:      companyID,
			RawCompanyName: exp.RawCompanyName,
			Reason:         model.ReasonLargeUnknownExposure,
			Priority:       r.policy.priorityFor(model.ReasonLargeUnknownExposure, true),
		})
	}
	sort.Slice(items, func(i, j int) bool { return *items[i].ExposureID < *items[j].ExposureID })
	return items
}

func entityKey(item model.ReviewItem) string {
	switch {
	case item.CompanyID != nil:
		return "company:" + *item.CompanyID
	case item.HoldingID != nil:
		return "holding:" + *item.HoldingID
	case item.ExposureID != nil:
		return "exposure:" + *item.ExposureID
	default:
		return "name:" + item.RawCompanyName
	}
}

func (r *Router) auditInsert(ctx context.Context, item model.ReviewItem) error {
	if r.audit == nil {
		return nil
	}
	payload, _ := json.Marshal(item)
	_, err := r.audit.Append(ctx, model.AuditEvent{
		RunID:      item.RunID,
		ActorType:  model.ActorSystem,
		ActorID:    "review-router",
		Action:     model.ActionQueueInsert,
		EntityType: "review_item",
		EntityID:   item.ID,
		Payload:    payload,
		EventTime:  item.CreatedAt,
	})
	return err
}
