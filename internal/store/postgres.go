package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/db"
	"github.com/sells-group/lookthrough/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the hot-path queries to prepare on each new
// connection. Audit writes dominate: every stage appends per decision.
var preparedStatements = map[string]string{
	"insert_audit_event": `INSERT INTO audit_events (id, run_id, actor_type, actor_id, action, entity_type, entity_id, payload, prev_hash, hash, event_time) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
	"last_audit_hash":    `SELECT hash FROM audit_events WHERE run_id = $1 ORDER BY seq DESC LIMIT 1`,
	"upsert_alias":       `INSERT INTO aliases (id, company_id, alias_text, normalized_text, confidence, source, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (normalized_text) DO NOTHING`,
	"get_run":            `SELECT id, portfolio_id, taxonomy_version_id, status, config, error, created_at, updated_at FROM runs WHERE id = $1`,
	"update_run_status":  `UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: pool.Close}
}

// Pool returns the underlying pool for subsystems needing direct access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY,
	portfolio_id        TEXT NOT NULL,
	taxonomy_version_id TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	config              JSONB NOT NULL,
	error               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	country          TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	industry_node_id TEXT NOT NULL DEFAULT '',
	country_node_id  TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS aliases (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL REFERENCES companies(id),
	alias_text      TEXT NOT NULL,
	normalized_text TEXT NOT NULL UNIQUE,
	confidence      DOUBLE PRECISION NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS fund_reports (
	id                TEXT PRIMARY KEY,
	fund_id           TEXT NOT NULL,
	period_end        TIMESTAMPTZ NOT NULL,
	coverage_estimate DOUBLE PRECISION,
	nav_usd           DOUBLE PRECISION,
	document_id       TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS holdings (
	id                    TEXT PRIMARY KEY,
	fund_report_id        TEXT NOT NULL REFERENCES fund_reports(id),
	raw_company_name      TEXT NOT NULL,
	reported_sector       TEXT NOT NULL DEFAULT '',
	reported_country      TEXT NOT NULL DEFAULT '',
	value_usd             DOUBLE PRECISION,
	pct_nav               DOUBLE PRECISION,
	non_investment        BOOLEAN NOT NULL DEFAULT FALSE,
	extraction_method     TEXT NOT NULL DEFAULT '',
	extraction_confidence DOUBLE PRECISION,
	document_id           TEXT NOT NULL DEFAULT '',
	page_number           INTEGER NOT NULL DEFAULT 0,
	row_number            INTEGER NOT NULL DEFAULT 0,
	company_id            TEXT,
	match_method          TEXT NOT NULL DEFAULT '',
	match_confidence      DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS exposures (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	portfolio_id     TEXT NOT NULL,
	fund_id          TEXT NOT NULL DEFAULT '',
	company_id       TEXT,
	raw_company_name TEXT NOT NULL DEFAULT '',
	holding_id       TEXT NOT NULL DEFAULT '',
	as_of_date       TEXT NOT NULL,
	value_usd        DOUBLE PRECISION NOT NULL,
	weight           DOUBLE PRECISION NOT NULL,
	exposure_type    TEXT NOT NULL,
	method           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS classifications (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	company_id       TEXT,
	raw_company_name TEXT NOT NULL DEFAULT '',
	taxonomy_type    TEXT NOT NULL,
	node_id          TEXT NOT NULL DEFAULT '',
	node_name        TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL,
	method           TEXT NOT NULL,
	status           TEXT NOT NULL,
	rationale        TEXT NOT NULL DEFAULT '',
	assumptions      JSONB NOT NULL DEFAULT '[]',
	model            TEXT NOT NULL DEFAULT '',
	prompt_version   TEXT NOT NULL DEFAULT '',
	input_hash       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregation_snapshots (
	run_id                       TEXT NOT NULL REFERENCES runs(id),
	portfolio_id                 TEXT NOT NULL,
	as_of_date                   TEXT NOT NULL,
	taxonomy_type                TEXT NOT NULL,
	taxonomy_node_id             TEXT NOT NULL,
	total_exposure_value_usd     DOUBLE PRECISION NOT NULL,
	weight_sum                   DOUBLE PRECISION NOT NULL,
	holding_count                INTEGER NOT NULL,
	company_count                INTEGER NOT NULL,
	coverage_pct                 DOUBLE PRECISION NOT NULL,
	confidence_weighted_exposure DOUBLE PRECISION NOT NULL,
	total_exposure_p10           DOUBLE PRECISION,
	total_exposure_p90           DOUBLE PRECISION,
	PRIMARY KEY (run_id, portfolio_id, as_of_date, taxonomy_type, taxonomy_node_id)
);

CREATE TABLE IF NOT EXISTS review_items (
	id               TEXT PRIMARY KEY,
	run_id           TEXT NOT NULL REFERENCES runs(id),
	exposure_id      TEXT,
	holding_id       TEXT,
	company_id       TEXT,
	raw_company_name TEXT NOT NULL DEFAULT '',
	reason           TEXT NOT NULL,
	priority         TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL,
	resolved_at      TIMESTAMPTZ,
	resolved_by      TEXT NOT NULL DEFAULT '',
	resolution_note  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_events (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	run_id      TEXT NOT NULL,
	actor_type  TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id   TEXT NOT NULL DEFAULT '',
	payload     JSONB,
	prev_hash   TEXT NOT NULL DEFAULT '',
	hash        TEXT NOT NULL,
	event_time  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_portfolio ON runs(portfolio_id);
CREATE INDEX IF NOT EXISTS idx_holdings_report ON holdings(fund_report_id);
CREATE INDEX IF NOT EXISTS idx_exposures_run ON exposures(run_id);
CREATE INDEX IF NOT EXISTS idx_classifications_run ON classifications(run_id);
CREATE INDEX IF NOT EXISTS idx_review_items_run ON review_items(run_id);
CREATE INDEX IF NOT EXISTS idx_review_items_status ON review_items(status);
CREATE INDEX IF NOT EXISTS idx_audit_events_run ON audit_events(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(entity_id);

CREATE OR REPLACE FUNCTION audit_events_immutable() RETURNS trigger AS $$
BEGIN
	RAISE EXCEPTION 'audit events are immutable';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_events_no_mutate ON audit_events;
CREATE TRIGGER audit_events_no_mutate
	BEFORE UPDATE OR DELETE ON audit_events
	FOR EACH ROW EXECUTE FUNCTION audit_events_immutable();
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Runs

func (s *PostgresStore) CreateRun(ctx context.Context, portfolioID, taxonomyVersionID string, cfg model.RunConfig) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal run config")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, portfolio_id, taxonomy_version_id, status, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, portfolioID, taxonomyVersionID, string(model.RunStatusQueued), cfgJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:                id,
		PortfolioID:       portfolioID,
		TaxonomyVersionID: taxonomyVersionID,
		Status:            model.RunStatusQueued,
		Config:            cfg,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, portfolio_id, taxonomy_version_id, status, config, error, created_at, updated_at
		 FROM runs WHERE id = $1`,
		runID,
	)

	var r model.Run
	var cfgJSON []byte
	err := row.Scan(&r.ID, &r.PortfolioID, &r.TaxonomyVersionID, &r.Status, &cfgJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan run")
	}
	if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run config")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, portfolio_id, taxonomy_version_id, status, config, error, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.PortfolioID != "" {
		query += ` AND portfolio_id = ` + arg(filter.PortfolioID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var cfgJSON []byte
		if err := rows.Scan(&r.ID, &r.PortfolioID, &r.TaxonomyVersionID, &r.Status, &cfgJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(cfgJSON, &r.Config); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run config")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Companies and aliases

func (s *PostgresStore) UpsertCompany(ctx context.Context, company model.Company) error {
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, name, country, description, industry_node_id, country_node_id, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name,
		   country = EXCLUDED.country,
		   description = EXCLUDED.description,
		   industry_node_id = EXCLUDED.industry_node_id,
		   country_node_id = EXCLUDED.country_node_id,
		   source = EXCLUDED.source`,
		company.ID, company.Name, company.Country, company.Description,
		company.IndustryNodeID, company.CountryNodeID, company.Source, company.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert company %s", company.ID)
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, country, description, industry_node_id, country_node_id, source, created_at
		 FROM companies WHERE id = $1`,
		id,
	)
	var c model.Company
	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.Description, &c.IndustryNodeID, &c.CountryNodeID, &c.Source, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("company not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get company")
	}
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, country, description, industry_node_id, country_node_id, source, created_at
		 FROM companies ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.Description, &c.IndustryNodeID, &c.CountryNodeID, &c.Source, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) UpsertAlias(ctx context.Context, alias model.Alias) error {
	if alias.ID == "" {
		alias.ID = uuid.New().String()
	}
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO aliases (id, company_id, alias_text, normalized_text, confidence, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (normalized_text) DO NOTHING`,
		alias.ID, alias.CompanyID, alias.AliasText, alias.NormalizedText,
		alias.Confidence, alias.Source, alias.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert alias %q", alias.NormalizedText)
}

func (s *PostgresStore) ListAliases(ctx context.Context) ([]model.Alias, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, alias_text, normalized_text, confidence, source, created_at
		 FROM aliases ORDER BY normalized_text`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list aliases")
	}
	defer rows.Close()

	var aliases []model.Alias
	for rows.Next() {
		var a model.Alias
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.AliasText, &a.NormalizedText, &a.Confidence, &a.Source, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alias")
		}
		aliases = append(aliases, a)
	}
	return aliases, eris.Wrap(rows.Err(), "postgres: list aliases iterate")
}

// Fund reports and holdings

func (s *PostgresStore) UpsertFundReport(ctx context.Context, report model.FundReport) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fund_reports (id, fund_id, period_end, coverage_estimate, nav_usd, document_id, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   fund_id = EXCLUDED.fund_id,
		   period_end = EXCLUDED.period_end,
		   coverage_estimate = EXCLUDED.coverage_estimate,
		   nav_usd = EXCLUDED.nav_usd,
		   document_id = EXCLUDED.document_id,
		   source = EXCLUDED.source`,
		report.ID, report.FundID, report.PeriodEnd.UTC(), report.CoverageEstimate,
		report.NAVUSD, report.DocumentID, report.Source,
	)
	return eris.Wrapf(err, "postgres: upsert fund report %s", report.ID)
}

func (s *PostgresStore) ListFundReports(ctx context.Context) ([]model.FundReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fund_id, period_end, coverage_estimate, nav_usd, document_id, source
		 FROM fund_reports ORDER BY period_end, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fund reports")
	}
	defer rows.Close()

	var reports []model.FundReport
	for rows.Next() {
		var r model.FundReport
		if err := rows.Scan(&r.ID, &r.FundID, &r.PeriodEnd, &r.CoverageEstimate, &r.NAVUSD, &r.DocumentID, &r.Source); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fund report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list fund reports iterate")
}

// InsertHoldings bulk-loads via the COPY protocol.
func (s *PostgresStore) InsertHoldings(ctx context.Context, holdings []model.ReportedHolding) error {
	if len(holdings) == 0 {
		return nil
	}
	columns := []string{
		"id", "fund_report_id", "raw_company_name", "reported_sector", "reported_country",
		"value_usd", "pct_nav", "non_investment", "extraction_method", "extraction_confidence",
		"document_id", "page_number", "row_number", "company_id", "match_method", "match_confidence",
	}
	rows := make([][]any, 0, len(holdings))
	for _, h := range holdings {
		rows = append(rows, []any{
			h.ID, h.FundReportID, h.RawCompanyName, h.ReportedSector, h.ReportedCountry,
			h.ValueUSD, h.PctNAV, h.NonInvestment, h.ExtractionMethod, h.ExtractionConfidence,
			h.DocumentID, h.PageNumber, h.RowNumber, h.CompanyID, string(h.MatchMethod), h.MatchConfidence,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "holdings", columns, rows)
	return eris.Wrap(err, "postgres: insert holdings")
}

func (s *PostgresStore) SetHoldingResolution(ctx context.Context, holding model.ReportedHolding) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holdings SET company_id = $1, match_method = $2, match_confidence = $3
		 WHERE id = $4 AND match_method = ''`,
		holding.CompanyID, string(holding.MatchMethod), holding.MatchConfidence, holding.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set holding resolution %s", holding.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("unresolved holding not found: %s", holding.ID)
	}
	return nil
}

func (s *PostgresStore) ListHoldings(ctx context.Context, fundReportID string) ([]model.ReportedHolding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fund_report_id, raw_company_name, reported_sector, reported_country,
		   value_usd, pct_nav, non_investment, extraction_method, extraction_confidence,
		   document_id, page_number, row_number, company_id, match_method, match_confidence
		 FROM holdings WHERE fund_report_id = $1 ORDER BY row_number, id`,
		fundReportID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list holdings")
	}
	defer rows.Close()

	var holdings []model.ReportedHolding
	for rows.Next() {
		var h model.ReportedHolding
		var method string
		if err := rows.Scan(
			&h.ID, &h.FundReportID, &h.RawCompanyName, &h.ReportedSector, &h.ReportedCountry,
			&h.ValueUSD, &h.PctNAV, &h.NonInvestment, &h.ExtractionMethod, &h.ExtractionConfidence,
			&h.DocumentID, &h.PageNumber, &h.RowNumber, &h.CompanyID, &method, &h.MatchConfidence,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan holding")
		}
		h.MatchMethod = model.MatchMethod(method)
		holdings = append(holdings, h)
	}
	return holdings, eris.Wrap(rows.Err(), "postgres: list holdings iterate")
}

// Exposures

func (s *PostgresStore) InsertExposures(ctx context.Context, exposures []model.InferredExposure) error {
	if len(exposures) == 0 {
		return nil
	}
	columns := []string{
		"id", "run_id", "portfolio_id", "fund_id", "company_id", "raw_company_name",
		"holding_id", "as_of_date", "value_usd", "weight", "exposure_type", "method",
	}
	rows := make([][]any, 0, len(exposures))
	for _, e := range exposures {
		rows = append(rows, []any{
			e.ID, e.RunID, e.PortfolioID, e.FundID, e.CompanyID, e.RawCompanyName,
			e.HoldingID, e.AsOfDate, e.ValueUSD, e.Weight, string(e.Type), e.Method,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "exposures", columns, rows)
	return eris.Wrap(err, "postgres: insert exposures")
}

func (s *PostgresStore) ListExposures(ctx context.Context, filter ExposureFilter) ([]model.InferredExposure, error) {
	query := `SELECT id, run_id, portfolio_id, fund_id, company_id, raw_company_name,
	            holding_id, as_of_date, value_usd, weight, exposure_type, method
	          FROM exposures WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.PortfolioID != "" {
		query += ` AND portfolio_id = ` + arg(filter.PortfolioID)
	}
	if filter.FundID != "" {
		query += ` AND fund_id = ` + arg(filter.FundID)
	}
	if filter.AsOfDate != "" {
		query += ` AND as_of_date = ` + arg(filter.AsOfDate)
	}
	query += ` ORDER BY as_of_date, fund_id, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list exposures")
	}
	defer rows.Close()

	var exposures []model.InferredExposure
	for rows.Next() {
		var e model.InferredExposure
		var expType string
		if err := rows.Scan(
			&e.ID, &e.RunID, &e.PortfolioID, &e.FundID, &e.CompanyID, &e.RawCompanyName,
			&e.HoldingID, &e.AsOfDate, &e.ValueUSD, &e.Weight, &expType, &e.Method,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exposure")
		}
		e.Type = model.ExposureType(expType)
		exposures = append(exposures, e)
	}
	return exposures, eris.Wrap(rows.Err(), "postgres: list exposures iterate")
}

// Classifications

func (s *PostgresStore) InsertClassifications(ctx context.Context, classifications []model.Classification) error {
	if len(classifications) == 0 {
		return nil
	}
	columns := []string{
		"id", "run_id", "company_id", "raw_company_name", "taxonomy_type",
		"node_id", "node_name", "confidence", "method", "status", "rationale",
		"assumptions", "model", "prompt_version", "input_hash", "created_at",
	}
	rows := make([][]any, 0, len(classifications))
	for _, c := range classifications {
		assumptions, err := json.Marshal(c.Assumptions)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal assumptions")
		}
		rows = append(rows, []any{
			c.ID, c.RunID, c.CompanyID, c.RawCompanyName, c.TaxonomyType,
			c.NodeID, c.NodeName, c.Confidence, string(c.Method), string(c.Status), c.Rationale,
			assumptions, c.Model, c.PromptVersion, c.InputHash, c.CreatedAt,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "classifications", columns, rows)
	return eris.Wrap(err, "postgres: insert classifications")
}

func (s *PostgresStore) ListClassifications(ctx context.Context, runID string) ([]model.Classification, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, company_id, raw_company_name, taxonomy_type, node_id, node_name,
		   confidence, method, status, rationale, assumptions, model, prompt_version, input_hash, created_at
		 FROM classifications WHERE run_id = $1 ORDER BY company_id, taxonomy_type, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list classifications")
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var method, status string
		var assumptions []byte
		if err := rows.Scan(
			&c.ID, &c.RunID, &c.CompanyID, &c.RawCompanyName, &c.TaxonomyType, &c.NodeID, &c.NodeName,
			&c.Confidence, &method, &status, &c.Rationale, &assumptions,
			&c.Model, &c.PromptVersion, &c.InputHash, &c.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan classification")
		}
		c.Method = model.ClassificationMethod(method)
		c.Status = model.ClassificationStatus(status)
		if err := json.Unmarshal(assumptions, &c.Assumptions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal assumptions")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list classifications iterate")
}

// Aggregation snapshots

func (s *PostgresStore) ReplaceSnapshots(ctx context.Context, runID string, snapshots []model.AggregationSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace snapshots")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM aggregation_snapshots WHERE run_id = $1`, runID); err != nil {
		return eris.Wrapf(err, "postgres: clear snapshots for run %s", runID)
	}

	for _, row := range snapshots {
		if _, err := tx.Exec(ctx,
			`INSERT INTO aggregation_snapshots (run_id, portfolio_id, as_of_date, taxonomy_type, taxonomy_node_id,
			   total_exposure_value_usd, weight_sum, holding_count, company_count, coverage_pct,
			   confidence_weighted_exposure, total_exposure_p10, total_exposure_p90)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			row.RunID, row.PortfolioID, row.AsOfDate, row.TaxonomyType, row.NodeID,
			row.TotalValueUSD, row.WeightSum, row.HoldingCount, row.CompanyCount, row.CoveragePct,
			row.ConfidenceWeightedUSD, row.P10, row.P90,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert snapshot %s/%s", row.TaxonomyType, row.NodeID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace snapshots")
}

func (s *PostgresStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.AggregationSnapshot, error) {
	query := `SELECT run_id, portfolio_id, as_of_date, taxonomy_type, taxonomy_node_id,
	            total_exposure_value_usd, weight_sum, holding_count, company_count, coverage_pct,
	            confidence_weighted_exposure, total_exposure_p10, total_exposure_p90
	          FROM aggregation_snapshots WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.PortfolioID != "" {
		query += ` AND portfolio_id = ` + arg(filter.PortfolioID)
	}
	if filter.TaxonomyType != "" {
		query += ` AND taxonomy_type = ` + arg(filter.TaxonomyType)
	}
	if filter.AsOfDate != "" {
		query += ` AND as_of_date = ` + arg(filter.AsOfDate)
	}
	query += ` ORDER BY run_id, portfolio_id, as_of_date, taxonomy_type, taxonomy_node_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list snapshots")
	}
	defer rows.Close()

	var snapshots []model.AggregationSnapshot
	for rows.Next() {
		var row model.AggregationSnapshot
		if err := rows.Scan(
			&row.RunID, &row.PortfolioID, &row.AsOfDate, &row.TaxonomyType, &row.NodeID,
			&row.TotalValueUSD, &row.WeightSum, &row.HoldingCount, &row.CompanyCount, &row.CoveragePct,
			&row.ConfidenceWeightedUSD, &row.P10, &row.P90,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snapshots = append(snapshots, row)
	}
	return snapshots, eris.Wrap(rows.Err(), "postgres: list snapshots iterate")
}

// Review queue

func (s *PostgresStore) InsertReviewItems(ctx context.Context, items []model.ReviewItem) error {
	if len(items) == 0 {
		return nil
	}
	columns := []string{
		"id", "run_id", "exposure_id", "holding_id", "company_id", "raw_company_name",
		"reason", "priority", "status", "created_at", "resolved_at", "resolved_by", "resolution_note",
	}
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, []any{
			item.ID, item.RunID, item.ExposureID, item.HoldingID, item.CompanyID, item.RawCompanyName,
			string(item.Reason), string(item.Priority), string(item.Status), item.CreatedAt,
			item.ResolvedAt, item.ResolvedBy, item.ResolutionNote,
		})
	}
	_, err := db.CopyFrom(ctx, s.pool, "review_items", columns, rows)
	return eris.Wrap(err, "postgres: insert review items")
}

func (s *PostgresStore) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, exposure_id, holding_id, company_id, raw_company_name,
		   reason, priority, status, created_at, resolved_at, resolved_by, resolution_note
		 FROM review_items WHERE id = $1`,
		id,
	)
	item, err := scanReviewItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("review item not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get review item")
	}
	return item, nil
}

func (s *PostgresStore) UpdateReviewItem(ctx context.Context, item model.ReviewItem) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE review_items SET status = $1, resolved_at = $2, resolved_by = $3, resolution_note = $4
		 WHERE id = $5 AND status = 'pending'`,
		string(item.Status), item.ResolvedAt, item.ResolvedBy, item.ResolutionNote, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update review item %s", item.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("pending review item not found: %s", item.ID)
	}
	return nil
}

func (s *PostgresStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT id, run_id, exposure_id, holding_id, company_id, raw_company_name,
	            reason, priority, status, created_at, resolved_at, resolved_by, resolution_note
	          FROM review_items WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.RunID != "" {
		query += ` AND run_id = ` + arg(filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Reason != "" {
		query += ` AND reason = ` + arg(string(filter.Reason))
	}
	if filter.Priority != "" {
		query += ` AND priority = ` + arg(string(filter.Priority))
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review items")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list review items iterate")
}

// Audit trail

func (s *PostgresStore) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	var payload any
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (id, run_id, actor_type, actor_id, action, entity_type, entity_id,
		   payload, prev_hash, hash, event_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		ev.ID, ev.RunID, string(ev.ActorType), ev.ActorID, ev.Action, ev.EntityType, ev.EntityID,
		payload, ev.PrevHash, ev.Hash, ev.EventTime.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert audit event %s", ev.ID)
}

func (s *PostgresStore) LastAuditHash(ctx context.Context, runID string) (string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT hash FROM audit_events WHERE run_id = $1 ORDER BY seq DESC LIMIT 1`,
		runID,
	)
	var hash string
	err := row.Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "postgres: last audit hash")
	}
	return hash, nil
}

func (s *PostgresStore) ListAuditEvents(ctx context.Context, f audit.Filter) ([]model.AuditEvent, error) {
	query := `SELECT id, run_id, actor_type, actor_id, action, entity_type, entity_id,
	            payload, prev_hash, hash, event_time
	          FROM audit_events WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if f.RunID != "" {
		query += ` AND run_id = ` + arg(f.RunID)
	}
	if f.Action != "" {
		query += ` AND action = ` + arg(f.Action)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ` + arg(f.EntityID)
	}
	if !f.From.IsZero() {
		query += ` AND event_time >= ` + arg(f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND event_time <= ` + arg(f.To.UTC())
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit events")
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var actorType string
		var payload []byte
		if err := rows.Scan(
			&ev.ID, &ev.RunID, &actorType, &ev.ActorID, &ev.Action, &ev.EntityType, &ev.EntityID,
			&payload, &ev.PrevHash, &ev.Hash, &ev.EventTime,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit event")
		}
		ev.ActorType = model.ActorType(actorType)
		if len(payload) > 0 {
			ev.Payload = json.RawMessage(payload)
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list audit events iterate")
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
