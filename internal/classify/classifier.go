package classify

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/resilience"
	"github.com/sells-group/lookthrough/internal/taxonomy"
	"github.com/sells-group/lookthrough/pkg/oracle"
)

// AuditLog records classification decisions.
type AuditLog interface {
	Append(ctx context.Context, ev model.AuditEvent) (model.AuditEvent, error)
}

// Config bounds oracle usage for one classifier.
type Config struct {
	Model          string
	PromptVersion  string
	MaxConcurrency int
	RatePerSec     float64
	Retry          resilience.Policy
	BreakerTrips   int
	BreakerCool    time.Duration
}

// Classifier runs companies through the oracle under rate and concurrency
// bounds and validates every answer through the gate. Individual failures
// become classification_failed rows; only infrastructure problems (audit
// writes, a tripped breaker that never recovers) fail the batch.
type Classifier struct {
	client  oracle.Client
	tree    *taxonomy.Tree
	gate    *Gate
	limiter *rate.Limiter
	breaker *resilience.Breaker
	cfg     Config
	audit   AuditLog
	log     *zap.Logger
}

// New builds a Classifier.
func New(client oracle.Client, tree *taxonomy.Tree, cfg Config, audit AuditLog) *Classifier {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	return &Classifier{
		client:  client,
		tree:    tree,
		gate:    NewGate(tree),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		breaker: resilience.NewBreaker(cfg.BreakerTrips, cfg.BreakerCool),
		cfg:     cfg,
		audit:   audit,
		log:     zap.L().With(zap.String("component", "classifier")),
	}
}

// ClassifyCompanies classifies each company against each taxonomy type.
// Results come back in deterministic order: company input order, then
// taxonomy type order as given.
func (c *Classifier) ClassifyCompanies(ctx context.Context, runID string, companies []model.Company, types []string) ([]model.Classification, error) {
	type task struct {
		idx       int
		company   model.Company
		classType string
	}

	tasks := make([]task, 0, len(companies)*len(types))
	for i, company := range companies {
		for j, classType := range types {
			tasks = append(tasks, task{idx: i*len(types) + j, company: company, classType: classType})
		}
	}

	results := make([]model.Classification, len(tasks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxConcurrency)
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			cls, err := c.classifyOne(gctx, runID, t.company, t.classType)
			if err != nil {
				return err
			}
			mu.Lock()
			results[t.idx] = cls
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.log.Info("classification pass complete",
		zap.String("run_id", runID),
		zap.Int("companies", len(companies)),
		zap.Int("classifications", len(results)),
		zap.Int("failed", countFailed(results)),
	)
	return results, nil
}

func (c *Classifier) classifyOne(ctx context.Context, runID string, company model.Company, classType string) (model.Classification, error) {
	allowed, err := c.tree.AllowedNodeNames(classType)
	if err != nil {
		return model.Classification{}, eris.Wrap(err, "classify: allowed nodes")
	}

	req := oracle.Request{
		TaxonomyType:       classType,
		CompanyName:        company.Name,
		CompanyCountry:     company.Country,
		CompanyDescription: company.Description,
		AllowedNodes:       allowed,
	}

	companyID := company.ID
	cls := model.Classification{
		ID:             uuid.NewString(),
		RunID:          runID,
		CompanyID:      &companyID,
		RawCompanyName: company.Name,
		TaxonomyType:   classType,
		Method:         model.ClassifyOracle,
		Model:          c.cfg.Model,
		PromptVersion:  c.cfg.PromptVersion,
		InputHash:      InputHash(c.cfg.Model, c.cfg.PromptVersion, req),
		CreatedAt:      time.Now().UTC(),
	}

	raw, callErr := c.call(ctx, req)
	if callErr != nil {
		if ctx.Err() != nil {
			return model.Classification{}, eris.Wrap(callErr, "classify: canceled")
		}
		cls.Method = model.ClassifyFailed
		cls.Status = model.ClassificationFailed
		cls.Rationale = callErr.Error()
		c.log.Warn("classification failed",
			zap.String("company", company.Name),
			zap.String("taxonomy_type", classType),
			zap.Error(callErr),
		)
	} else {
		if raw.Model != "" {
			cls.Model = raw.Model
		}
		cls.Assumptions = raw.Assumptions
		cls.NodeID, cls.NodeName, cls.Confidence, cls.Status, cls.Rationale = c.gate.Validate(classType, raw)
	}

	if err := c.record(ctx, runID, cls, raw); err != nil {
		return model.Classification{}, err
	}
	return cls, nil
}

// call wraps one oracle call with rate limiting, the breaker, and retries.
func (c *Classifier) call(ctx context.Context, req oracle.Request) (*oracle.Result, error) {
	return resilience.Retry(ctx, c.cfg.Retry, "oracle_classify", func(ctx context.Context) (*oracle.Result, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
		result, err := c.client.Classify(ctx, req)
		c.breaker.Record(err)
		return result, err
	})
}

// record writes one audit event per oracle attempt, carrying both the raw
// result and the validated outcome.
func (c *Classifier) record(ctx context.Context, runID string, cls model.Classification, raw *oracle.Result) error {
	if c.audit == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{
		"raw":       raw,
		"validated": cls,
	})
	entityID := cls.RawCompanyName
	if cls.CompanyID != nil {
		entityID = *cls.CompanyID
	}
	_, err := c.audit.Append(ctx, model.AuditEvent{
		RunID:      runID,
		ActorType:  model.ActorAgent,
		ActorID:    cls.Model,
		Action:     model.ActionOracleCall,
		EntityType: "company",
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		return eris.Wrapf(err, "classify: audit %s", cls.RawCompanyName)
	}
	return nil
}

func countFailed(results []model.Classification) int {
	n := 0
	for _, r := range results {
		if r.Status == model.ClassificationFailed {
			n++
		}
	}
	return n
}

// SortClassifications orders rows for deterministic storage: company, type,
// then id.
func SortClassifications(rows []model.Classification) {
	sort.SliceStable(rows, func(i, j int) bool {
		ci, cj := "", ""
		if rows[i].CompanyID != nil {
			ci = *rows[i].CompanyID
		}
		if rows[j].CompanyID != nil {
			cj = *rows[j].CompanyID
		}
		if ci != cj {
			return ci < cj
		}
		if rows[i].TaxonomyType != rows[j].TaxonomyType {
			return rows[i].TaxonomyType < rows[j].TaxonomyType
		}
		return rows[i].ID < rows[j].ID
	})
}
