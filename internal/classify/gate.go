// Package classify produces validated taxonomy classifications for
// companies. Every result, whether from the oracle or from deterministic
// rules, passes through the same validation gate before it is stored: the
// gate clamps confidence, checks node names against the taxonomy version in
// force, and nulls out anything the taxonomy does not contain.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/taxonomy"
	"github.com/sells-group/lookthrough/pkg/oracle"
)

// Gate validates raw classification output against one taxonomy version.
type Gate struct {
	tree *taxonomy.Tree
}

// NewGate builds a validation gate over a taxonomy tree.
func NewGate(tree *taxonomy.Tree) *Gate {
	return &Gate{tree: tree}
}

// rejectedRationale replaces the model's rationale when the node fails the
// allowed-set check, so a rejected row never carries a persuasive story for
// a node that does not exist.
const rejectedRationale = "returned node_name is not in the allowed node set; classification nulled"

// Validate checks a raw oracle result for one classification type and
// returns the validated fields. Outcomes:
//   - node resolves: status validated, node id attached
//   - node is null: status validated, no node (the model abstained)
//   - node not in taxonomy: status rejected, node nulled, confidence 0
func (g *Gate) Validate(classType string, raw *oracle.Result) (nodeID, nodeName string, confidence float64, status model.ClassificationStatus, rationale string) {
	confidence = clamp01(raw.Confidence)
	rationale = raw.Rationale

	if raw.NodeName == nil {
		return "", "", confidence, model.ClassificationValidated, rationale
	}

	node, ok := g.tree.Resolve(classType, *raw.NodeName)
	if !ok {
		return "", "", 0, model.ClassificationRejected, rejectedRationale
	}
	return node.ID, node.Name, confidence, model.ClassificationValidated, rationale
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// InputHash fingerprints everything that determined an oracle answer: the
// input fields, the allowed node set, the model, and the prompt version.
// Two classifications with equal hashes answered the same question.
func InputHash(modelName, promptVersion string, req oracle.Request) string {
	canonical, _ := json.Marshal(struct {
		Model         string   `json:"model"`
		PromptVersion string   `json:"prompt_version"`
		TaxonomyType  string   `json:"taxonomy_type"`
		CompanyName   string   `json:"company_name"`
		Country       string   `json:"country"`
		Description   string   `json:"description"`
		AllowedNodes  []string `json:"allowed_nodes"`
	}{
		Model:         modelName,
		PromptVersion: promptVersion,
		TaxonomyType:  req.TaxonomyType,
		CompanyName:   req.CompanyName,
		Country:       req.CompanyCountry,
		Description:   req.CompanyDescription,
		AllowedNodes:  req.AllowedNodes,
	})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
