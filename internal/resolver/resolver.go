// Package resolver matches raw company names from fund reports to canonical
// company ids. Strategies run as a strict cascade; the first hit wins and
// its confidence is fixed by the strategy, never by how good the match
// looks. Unmatched is a valid outcome, not an error.
package resolver

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
)

// Strategy confidences. These are calibration points for downstream review
// routing, so they stay fixed per strategy.
const (
	ConfidenceExact        = 1.0
	ConfidenceAliasDefault = 0.95
	ConfidenceNormalized   = 0.90
	ConfidenceTokenOverlap = 0.80
	ConfidenceFirstEntity  = 0.75
)

// DefaultTokenOverlapThreshold is the minimum Jaccard similarity for a
// token_overlap match.
const DefaultTokenOverlapThreshold = 0.70

type indexedCompany struct {
	id   string
	name string
}

type tokenEntry struct {
	tokens  map[string]bool
	company indexedCompany
}

// Index holds the lookup structures for one company universe. Build it once
// per run; the resolver mutates it only to register learned aliases.
type Index struct {
	byName       map[string]indexedCompany // lowercased canonical name
	byAlias      map[string]aliasHit       // lowercased alias text and normalized form
	byNormalized map[string]indexedCompany
	tokens       []tokenEntry
	nameByID     map[string]string
	aliasCount   int
}

type aliasHit struct {
	company    indexedCompany
	confidence float64
}

// NewIndex builds the resolution index from the company and alias universe.
// First writer wins on normalized-form collisions, matching insertion order.
func NewIndex(companies []model.Company, aliases []model.Alias) *Index {
	idx := &Index{
		byName:       make(map[string]indexedCompany, len(companies)),
		byAlias:      make(map[string]aliasHit, len(aliases)),
		byNormalized: make(map[string]indexedCompany, len(companies)),
		nameByID:     make(map[string]string, len(companies)),
	}

	for _, c := range companies {
		key := lowerTrim(c.Name)
		if key == "" {
			continue
		}
		entry := indexedCompany{id: c.ID, name: c.Name}
		if _, ok := idx.byName[key]; !ok {
			idx.byName[key] = entry
		}
		idx.nameByID[c.ID] = c.Name

		if normalized := Normalize(c.Name); normalized != "" {
			if _, ok := idx.byNormalized[normalized]; !ok {
				idx.byNormalized[normalized] = entry
				if tokens := Tokenize(c.Name); len(tokens) > 0 {
					idx.tokens = append(idx.tokens, tokenEntry{tokens: tokens, company: entry})
				}
			}
		}
	}

	for _, a := range aliases {
		idx.registerAlias(a)
	}
	return idx
}

// registerAlias indexes an alias under both its literal text and its
// normalized form, so name variants sharing the normalized form hit the
// same entry. First writer wins per key.
func (idx *Index) registerAlias(a model.Alias) {
	confidence := a.Confidence
	if confidence == 0 {
		confidence = ConfidenceAliasDefault
	}
	hit := aliasHit{
		company:    indexedCompany{id: a.CompanyID, name: idx.nameByID[a.CompanyID]},
		confidence: confidence,
	}

	normalized := a.NormalizedText
	if normalized == "" {
		normalized = Normalize(a.AliasText)
	}
	inserted := false
	for _, key := range []string{lowerTrim(a.AliasText), normalized} {
		if key == "" {
			continue
		}
		if _, ok := idx.byAlias[key]; ok {
			continue
		}
		idx.byAlias[key] = hit
		inserted = true
	}
	if inserted {
		idx.aliasCount++
	}
}

// AliasStore persists aliases the resolver learns.
type AliasStore interface {
	UpsertAlias(ctx context.Context, alias model.Alias) (model.Alias, error)
}

// AuditLog records resolution decisions.
type AuditLog interface {
	Append(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
}

// Resolver applies the match cascade over an Index.
type Resolver struct {
	idx       *Index
	threshold float64
	maxAlias  int
	aliases   AliasStore
	audit     AuditLog
	log       *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTokenOverlapThreshold overrides the minimum Jaccard similarity.
func WithTokenOverlapThreshold(t float64) Option {
	return func(r *Resolver) {
		if t > 0 {
			r.threshold = t
		}
	}
}

// WithAliasLearning persists fuzzy matches as aliases, capped at max rows.
// A repeated raw name then hits the alias strategy at the confidence the
// original strategy earned.
func WithAliasLearning(store AliasStore, max int) Option {
	return func(r *Resolver) {
		r.aliases = store
		r.maxAlias = max
	}
}

// WithAuditLog records one event per resolution attempt.
func WithAuditLog(a AuditLog) Option {
	return func(r *Resolver) { r.audit = a }
}

// New builds a Resolver over an index.
func New(idx *Index, opts ...Option) *Resolver {
	r := &Resolver{
		idx:       idx,
		threshold: DefaultTokenOverlapThreshold,
		log:       zap.L().With(zap.String("component", "resolver")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the cascade for one raw name. Pure lookup; no alias learning
// or audit side effects.
func (r *Resolver) Resolve(rawName string) model.Resolution {
	res := model.Resolution{
		RawName:    rawName,
		Method:     model.MatchUnmatched,
		Confidence: 0,
	}
	key := lowerTrim(rawName)
	if key == "" {
		return res
	}

	// 1. Exact canonical name.
	if c, ok := r.idx.byName[key]; ok {
		return matched(res, c, model.MatchExact, ConfidenceExact, 0)
	}

	// 2. Known alias, at the confidence stored with it. A variant that
	// shares a learned alias's normalized form hits the alias entry too,
	// so a raw name learned once covers its spelling variants.
	normalized := Normalize(rawName)
	if hit, ok := r.idx.byAlias[key]; ok {
		return matched(res, hit.company, model.MatchAlias, hit.confidence, 0)
	}
	if normalized != "" {
		if hit, ok := r.idx.byAlias[normalized]; ok {
			return matched(res, hit.company, model.MatchAlias, hit.confidence, 0)
		}
	}

	// 3. Normalized form.
	if normalized != "" {
		if c, ok := r.idx.byNormalized[normalized]; ok {
			return matched(res, c, model.MatchNormalized, ConfidenceNormalized, 0)
		}
	}

	// 4. Token overlap. Single-token names are too generic to trust here.
	rawTokens := Tokenize(rawName)
	if len(rawTokens) >= 2 {
		best, bestSim := indexedCompany{}, 0.0
		for _, entry := range r.idx.tokens {
			if sim := Jaccard(rawTokens, entry.tokens); sim >= r.threshold && sim > bestSim {
				best, bestSim = entry.company, sim
			}
		}
		if bestSim > 0 {
			return matched(res, best, model.MatchTokenOverlap, ConfidenceTokenOverlap, bestSim)
		}
	}

	// 5. First entity of a multi-entity name, matched on normalized form.
	if first := FirstEntity(rawName); first != "" && lowerTrim(first) != key {
		if fn := Normalize(first); fn != "" {
			if c, ok := r.idx.byNormalized[fn]; ok {
				return matched(res, c, model.MatchFirstEntity, ConfidenceFirstEntity, 0)
			}
		}
	}

	return res
}

func matched(res model.Resolution, c indexedCompany, method model.MatchMethod, confidence, score float64) model.Resolution {
	id := c.id
	res.CompanyID = &id
	res.MatchedName = c.name
	res.Method = method
	res.Confidence = confidence
	res.Score = score
	return res
}

// ResolveHoldings resolves every unresolved holding in place and returns one
// Resolution per holding processed. Holdings that already carry a company id
// are skipped. Fuzzy matches are learned as aliases when alias learning is
// configured.
func (r *Resolver) ResolveHoldings(ctx context.Context, runID string, holdings []model.ReportedHolding) ([]model.Resolution, error) {
	var resolutions []model.Resolution
	counts := make(map[model.MatchMethod]int)

	for i := range holdings {
		h := &holdings[i]
		if h.CompanyID != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return resolutions, eris.Wrap(err, "resolver: canceled")
		}

		res := r.Resolve(h.RawCompanyName)
		res.HoldingID = h.ID
		resolutions = append(resolutions, res)
		counts[res.Method]++

		h.CompanyID = res.CompanyID
		h.MatchMethod = res.Method
		h.MatchConfidence = res.Confidence

		if err := r.learnAlias(ctx, runID, res); err != nil {
			return resolutions, err
		}
		if err := r.record(ctx, runID, res); err != nil {
			return resolutions, err
		}
	}

	fields := []zap.Field{zap.String("run_id", runID), zap.Int("processed", len(resolutions))}
	for _, m := range methodOrder(counts) {
		fields = append(fields, zap.Int(string(m), counts[m]))
	}
	r.log.Info("entity resolution complete", fields...)
	return resolutions, nil
}

// learnAlias persists fuzzy matches so the next run resolves the same raw
// name via strategy 2. Exact and alias hits are already known; unmatched has
// nothing to learn.
func (r *Resolver) learnAlias(ctx context.Context, runID string, res model.Resolution) error {
	if r.aliases == nil || res.CompanyID == nil {
		return nil
	}
	switch res.Method {
	case model.MatchNormalized, model.MatchTokenOverlap, model.MatchFirstEntity:
	default:
		return nil
	}
	if r.maxAlias > 0 && r.idx.aliasCount >= r.maxAlias {
		r.log.Warn("alias cap reached, skipping alias learning",
			zap.Int("max_aliases", r.maxAlias), zap.String("raw_name", res.RawName))
		return nil
	}
	if _, ok := r.idx.byAlias[lowerTrim(res.RawName)]; ok {
		return nil
	}

	alias := model.Alias{
		ID:             uuid.NewString(),
		CompanyID:      *res.CompanyID,
		AliasText:      res.RawName,
		NormalizedText: Normalize(res.RawName),
		Confidence:     res.Confidence,
		Source:         "resolver:" + string(res.Method),
		CreatedAt:      time.Now().UTC(),
	}
	stored, err := r.aliases.UpsertAlias(ctx, alias)
	if err != nil {
		return eris.Wrapf(err, "resolver: learn alias %q", res.RawName)
	}
	r.idx.registerAlias(stored)

	if r.audit != nil {
		payload, _ := json.Marshal(map[string]any{
			"alias_text": stored.AliasText,
			"company_id": stored.CompanyID,
			"confidence": stored.Confidence,
			"source":     stored.Source,
		})
		_, err = r.audit.Append(ctx, model.AuditEvent{
			RunID:      runID,
			ActorType:  model.ActorSystem,
			ActorID:    "resolver",
			Action:     model.ActionAliasLearned,
			EntityType: "alias",
			EntityID:   stored.ID,
			Payload:    payload,
		})
		if err != nil {
			return eris.Wrap(err, "resolver: audit alias")
		}
	}
	return nil
}

func (r *Resolver) record(ctx context.Context, runID string, res model.Resolution) error {
	if r.audit == nil {
		return nil
	}
	payload, _ := json.Marshal(res)
	_, err := r.audit.Append(ctx, model.AuditEvent{
		RunID:      runID,
		ActorType:  model.ActorSystem,
		ActorID:    "resolver",
		Action:     model.ActionEntityResolution,
		EntityType: "reported_holding",
		EntityID:   res.HoldingID,
		Payload:    payload,
	})
	if err != nil {
		return eris.Wrapf(err, "resolver: audit holding %s", res.HoldingID)
	}
	return nil
}

func methodOrder(counts map[model.MatchMethod]int) []model.MatchMethod {
	out := make([]model.MatchMethod, 0, len(counts))
	for m := range counts {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func lowerTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
