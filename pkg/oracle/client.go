// Package oracle wraps the Anthropic API for company classification. The
// wrapper owns its request and response types; callers never see SDK types.
// Responses are parsed, never trusted: schema problems surface as errors and
// node names are returned exactly as the model produced them, for the
// validation layer to check against the taxonomy.
package oracle

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Client defines the classification operations used by the pipeline.
type Client interface {
	Classify(ctx context.Context, req Request) (*Result, error)
}

// Request describes one company to classify against one taxonomy type.
type Request struct {
	TaxonomyType       string
	CompanyName        string
	CompanyCountry     string
	CompanyDescription string
	// AllowedNodes is the closed set of node names the model may answer
	// with. Anything else is a hallucination.
	AllowedNodes []string
}

// Result is the raw model output, as returned. NodeName is nil when the
// model declines to classify.
type Result struct {
	TaxonomyType string   `json:"taxonomy_type"`
	NodeName     *string  `json:"node_name"`
	Confidence   float64  `json:"confidence"`
	Rationale    string   `json:"rationale"`
	Assumptions  []string `json:"assumptions"`

	Model string     `json:"-"`
	Usage TokenUsage `json:"-"`
}

// TokenUsage tracks token consumption per call.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// modelPricing holds per-million-token pricing for known models.
var modelPricing = map[string][2]float64{
	"claude-haiku-4-5-20251001":  {0.80, 4.00},
	"claude-sonnet-4-5-20250929": {3.00, 15.00},
	"claude-opus-4-6":            {15.00, 75.00},
}

// EstimateCost computes an estimated cost in USD. Unknown models cost 0.
func (u TokenUsage) EstimateCost(model string) float64 {
	pricing, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return (float64(u.InputTokens)/1e6)*pricing[0] + (float64(u.OutputTokens)/1e6)*pricing[1]
}

// Config controls model selection and output limits.
type Config struct {
	Model         string
	MaxTokens     int64
	PromptVersion string
	Temperature   *float64
}

// DefaultConfig mirrors the defaults used by pipeline runs.
func DefaultConfig() Config {
	return Config{
		Model:         "claude-sonnet-4-5-20250929",
		MaxTokens:     512,
		PromptVersion: "v1",
	}
}

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
	cfg    Config
	log    *zap.Logger
}

// NewClient creates a classification client backed by the SDK.
func NewClient(apiKey string, cfg Config) Client {
	if cfg.Model == "" {
		cfg = DefaultConfig()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		cfg: cfg,
		log: zap.L().With(zap.String("component", "oracle")),
	}
}

func (c *sdkClient) Classify(ctx context.Context, req Request) (*Result, error) {
	prompt, err := buildPrompt(c.cfg.PromptVersion, req)
	if err != nil {
		return nil, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.cfg.Model),
		MaxTokens: c.cfg.MaxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	}
	if c.cfg.Temperature != nil {
		params.Temperature = sdk.Float(*c.cfg.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrapf(err, "oracle: classify %q", req.CompanyName)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}

	result, err := ParseResult(text)
	if err != nil {
		return nil, eris.Wrapf(err, "oracle: classify %q", req.CompanyName)
	}
	result.Model = string(msg.Model)
	result.Usage = TokenUsage{
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}

	c.log.Debug("classification call",
		zap.String("company", req.CompanyName),
		zap.String("taxonomy_type", req.TaxonomyType),
		zap.Int64("input_tokens", result.Usage.InputTokens),
		zap.Int64("output_tokens", result.Usage.OutputTokens),
		zap.Float64("estimated_cost_usd", result.Usage.EstimateCost(result.Model)),
	)
	return result, nil
}

// ParseResult decodes a model response into a Result. Markdown code fences
// around the JSON are tolerated; anything else malformed is an error.
func ParseResult(text string) (*Result, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil, eris.New("oracle: empty response")
	}

	var result Result
	dec := json.NewDecoder(strings.NewReader(cleaned))
	if err := dec.Decode(&result); err != nil {
		return nil, eris.Wrap(err, "oracle: parse response")
	}
	if result.TaxonomyType == "" {
		return nil, eris.New("oracle: response missing taxonomy_type")
	}
	if result.Assumptions == nil {
		result.Assumptions = []string{}
	}
	return &result, nil
}
