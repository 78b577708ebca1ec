package classify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/taxonomy"
	"github.com/sells-group/lookthrough/pkg/oracle"
)

// RuleConfidence is the confidence assigned to deterministic rule hits. It
// sits above the review threshold but below exact resolution, since the
// underlying structured field can itself be wrong.
const RuleConfidence = 0.95

// Rules derives classifications from structured company fields without
// touching the oracle. Rule output still passes the validation gate, so a
// bad country code lands as a rejected row rather than a fabricated node.
type Rules struct {
	tree  *taxonomy.Tree
	gate  *Gate
	audit AuditLog
	log   *zap.Logger
}

// NewRules builds a rule classifier over a taxonomy tree.
func NewRules(tree *taxonomy.Tree, audit AuditLog) *Rules {
	return &Rules{
		tree:  tree,
		gate:  NewGate(tree),
		audit: audit,
		log:   zap.L().With(zap.String("component", "rules")),
	}
}

// GeographyFromCountry classifies a company's geography from its ISO country
// code. The bool reports whether a rule applied at all.
func (r *Rules) GeographyFromCountry(ctx context.Context, runID string, company model.Company) (model.Classification, bool, error) {
	if company.Country == "" {
		return model.Classification{}, false, nil
	}
	node, ok := r.tree.NodeByCode(taxonomy.TypeGeography, company.Country)
	if !ok {
		r.log.Debug("country code not in geography tree",
			zap.String("company", company.Name),
			zap.String("country", company.Country),
		)
		return model.Classification{}, false, nil
	}

	name := node.Name
	raw := &oracle.Result{
		TaxonomyType: taxonomy.TypeGeography,
		NodeName:     &name,
		Confidence:   RuleConfidence,
		Rationale:    "derived from reported country code " + company.Country,
		Assumptions:  []string{},
	}

	companyID := company.ID
	cls := model.Classification{
		ID:             uuid.NewString(),
		RunID:          runID,
		CompanyID:      &companyID,
		RawCompanyName: company.Name,
		TaxonomyType:   taxonomy.TypeGeography,
		Method:         model.ClassifyRule,
		Assumptions:    raw.Assumptions,
		CreatedAt:      time.Now().UTC(),
	}
	cls.NodeID, cls.NodeName, cls.Confidence, cls.Status, cls.Rationale = r.gate.Validate(taxonomy.TypeGeography, raw)

	if r.audit != nil {
		payload, _ := json.Marshal(map[string]any{
			"rule":      "geography_from_country",
			"country":   company.Country,
			"validated": cls,
		})
		_, err := r.audit.Append(ctx, model.AuditEvent{
			RunID:      runID,
			ActorType:  model.ActorSystem,
			ActorID:    "rules",
			Action:     model.ActionRuleClassify,
			EntityType: "company",
			EntityID:   company.ID,
			Payload:    payload,
		})
		if err != nil {
			return model.Classification{}, false, eris.Wrapf(err, "classify: audit rule %s", company.Name)
		}
	}
	return cls, true, nil
}
