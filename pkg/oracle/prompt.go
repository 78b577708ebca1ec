package oracle

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

const systemPrompt = `You classify private companies against a fixed taxonomy for institutional portfolio look-through analysis.

Rules:
- node_name MUST be one of allowed_nodes, or null if you cannot classify with reasonable confidence.
- Never invent a node name. Never modify, abbreviate, or reformat a node name.
- confidence is a float in [0,1] reflecting how certain you are of the single chosen node.
- rationale is 1-3 sentences grounded in the provided fields only.
- assumptions lists anything you inferred that was not stated in the input.
- Respond with a single JSON object and nothing else:
  {"taxonomy_type": "...", "node_name": "..." | null, "confidence": 0.0, "rationale": "...", "assumptions": []}`

// promptPayload is the user-turn body, serialized as JSON so field order and
// escaping stay stable across calls with the same input.
type promptPayload struct {
	TaxonomyType       string   `json:"taxonomy_type"`
	CompanyName        string   `json:"company_name"`
	CompanyCountry     string   `json:"company_country,omitempty"`
	CompanyDescription string   `json:"company_description,omitempty"`
	AllowedNodes       []string `json:"allowed_nodes"`
}

func buildPrompt(version string, req Request) (string, error) {
	if req.CompanyName == "" {
		return "", eris.New("oracle: company name is required")
	}
	if len(req.AllowedNodes) == 0 {
		return "", eris.New("oracle: allowed nodes are required")
	}

	switch version {
	case "", "v1":
	default:
		return "", eris.Errorf("oracle: unknown prompt version %q", version)
	}

	body, err := json.Marshal(promptPayload{
		TaxonomyType:       req.TaxonomyType,
		CompanyName:        req.CompanyName,
		CompanyCountry:     req.CompanyCountry,
		CompanyDescription: req.CompanyDescription,
		AllowedNodes:       req.AllowedNodes,
	})
	if err != nil {
		return "", eris.Wrap(err, "oracle: marshal prompt payload")
	}

	return "Classify the following company. Return JSON matching the required schema.\n\n" + string(body), nil
}
