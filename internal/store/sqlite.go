package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id                  TEXT PRIMARY KEY,
	portfolio_id        TEXT NOT NULL,
	taxonomy_version_id TEXT NOT NULL,
	status              TEXT NOT NULL DEFAULT 'queued',
	config              TEXT NOT NULL,
	error               TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	country          TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	industry_node_id TEXT NOT NULL DEFAULT '',
	country_node_id  TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS aliases (
	id              TEXT PRIMARY KEY,
	company_id      TEXT NOT NULL REFERENCES companies(id),
	alias_text      TEXT NOT NULL,
	normalized_text TEXT NOT NULL UNIQUE,
	confidence      REAL NOT NULL,
	source          TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fund_reports (
	id                TEXT PRIMARY KEY,
	fund_id           TEXT NOT NULL,
	period_end        DATETIME NOT NULL,
	coverage_estimate REAL,
	nav_usd           REAL,
	document_id       TEXT NOT NULL DEFAULT '',
	source            TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS holdings (
	id                    TEXT PRIMARY KEY,
	fund_report_id        TEXT NOT NULL REFERENCES fund_reports(id),
	raw_company_name      TEXT NOT NULL,
	reported_sector       TEXT NOT NULL DEFAULT '',
	reported_country      TEXT NOT NULL DEFAULT '',
	value_usd             REAL,
	pct_nav               REAL,
	non_investment        INTEGER NOT NULL DEFAULT 0,
	extraction_method     TEXT NOT NULL DEFAULT '',
	extraction_confidence REAL,
	document_id           TEXT NOT NULL DEFAULT '',
	page_number           INTEGER NOT NULL DEFAULT 0,
	row_number            INTEGER NOT NULL DEFAULT 0,
	company_id            TEXT,
	match_method          TEXT NOT NULL DEFAULT '',
	match_confidence      REAL NOT NULL DEFAULT 0
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
	value_usd        REAL NOT NULL,
	weight           REAL NOT NULL,
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
	confidence       REAL NOT NULL,
	method           TEXT NOT NULL,
	status           TEXT NOT NULL,
	rationale        TEXT NOT NULL DEFAULT '',
	assumptions      TEXT NOT NULL DEFAULT '[]',
	model            TEXT NOT NULL DEFAULT '',
	prompt_version   TEXT NOT NULL DEFAULT '',
	input_hash       TEXT NOT NULL DEFAULT '',
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregation_snapshots (
	run_id                       TEXT NOT NULL REFERENCES runs(id),
	portfolio_id                 TEXT NOT NULL,
	as_of_date                   TEXT NOT NULL,
	taxonomy_type                TEXT NOT NULL,
	taxonomy_node_id             TEXT NOT NULL,
	total_exposure_value_usd     REAL NOT NULL,
	weight_sum                   REAL NOT NULL,
	holding_count                INTEGER NOT NULL,
	company_count                INTEGER NOT NULL,
	coverage_pct                 REAL NOT NULL,
	confidence_weighted_exposure REAL NOT NULL,
	total_exposure_p10           REAL,
	total_exposure_p90           REAL,
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
	created_at       DATETIME NOT NULL,
	resolved_at      DATETIME,
	resolved_by      TEXT NOT NULL DEFAULT '',
	resolution_note  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS audit_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	run_id      TEXT NOT NULL,
	actor_type  TEXT NOT NULL,
	actor_id    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id   TEXT NOT NULL DEFAULT '',
	payload     TEXT,
	prev_hash   TEXT NOT NULL DEFAULT '',
	hash        TEXT NOT NULL,
	event_time  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_portfolio ON runs(portfolio_id);
CREATE INDEX IF NOT EXISTS idx_aliases_normalized ON aliases(normalized_text);
CREATE INDEX IF NOT EXISTS idx_holdings_report ON holdings(fund_report_id);
CREATE INDEX IF NOT EXISTS idx_exposures_run ON exposures(run_id);
CREATE INDEX IF NOT EXISTS idx_classifications_run ON classifications(run_id);
CREATE INDEX IF NOT EXISTS idx_review_items_run ON review_items(run_id);
CREATE INDEX IF NOT EXISTS idx_review_items_status ON review_items(status);
CREATE INDEX IF NOT EXISTS idx_audit_events_run ON audit_events(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(entity_id);

CREATE TRIGGER IF NOT EXISTS audit_events_no_update
BEFORE UPDATE ON audit_events
BEGIN
	SELECT RAISE(ABORT, 'audit events are immutable');
END;

CREATE TRIGGER IF NOT EXISTS audit_events_no_delete
BEFORE DELETE ON audit_events
BEGIN
	SELECT RAISE(ABORT, 'audit events are immutable');
END;
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Runs

func (s *SQLiteStore) CreateRun(ctx context.Context, portfolioID, taxonomyVersionID string, cfg model.RunConfig) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal run config")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, portfolio_id, taxonomy_version_id, status, config, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, portfolioID, taxonomyVersionID, string(model.RunStatusQueued), string(cfgJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, portfolio_id, taxonomy_version_id, status, config, error, created_at, updated_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, portfolio_id, taxonomy_version_id, status, config, error, created_at, updated_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.PortfolioID != "" {
		query += ` AND portfolio_id = ?`
		args = append(args, filter.PortfolioID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// Companies and aliases

func (s *SQLiteStore) UpsertCompany(ctx context.Context, company model.Company) error {
	if company.CreatedAt.IsZero() {
		company.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO companies (id, name, country, description, industry_node_id, country_node_id, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   country = excluded.country,
		   description = excluded.description,
		   industry_node_id = excluded.industry_node_id,
		   country_node_id = excluded.country_node_id,
		   source = excluded.source`,
		company.ID, company.Name, company.Country, company.Description,
		company.IndustryNodeID, company.CountryNodeID, company.Source, company.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert company %s", company.ID)
}

func (s *SQLiteStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, country, description, industry_node_id, country_node_id, source, created_at
		 FROM companies WHERE id = ?`,
		id,
	)
	var c model.Company
	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.Description, &c.IndustryNodeID, &c.CountryNodeID, &c.Source, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("company not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get company")
	}
	return &c, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, country, description, industry_node_id, country_node_id, source, created_at
		 FROM companies ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.Country, &c.Description, &c.IndustryNodeID, &c.CountryNodeID, &c.Source, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

// UpsertAlias inserts keyed on normalized text. A concurrent duplicate is a
// no-op: the first learned confidence wins and is never upgraded.
func (s *SQLiteStore) UpsertAlias(ctx context.Context, alias model.Alias) error {
	if alias.ID == "" {
		alias.ID = uuid.New().String()
	}
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aliases (id, company_id, alias_text, normalized_text, confidence, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(normalized_text) DO NOTHING`,
		alias.ID, alias.CompanyID, alias.AliasText, alias.NormalizedText,
		alias.Confidence, alias.Source, alias.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert alias %q", alias.NormalizedText)
}

func (s *SQLiteStore) ListAliases(ctx context.Context) ([]model.Alias, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, alias_text, normalized_text, confidence, source, created_at
		 FROM aliases ORDER BY normalized_text`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list aliases")
	}
	defer rows.Close()

	var aliases []model.Alias
	for rows.Next() {
		var a model.Alias
		if err := rows.Scan(&a.ID, &a.CompanyID, &a.AliasText, &a.NormalizedText, &a.Confidence, &a.Source, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alias")
		}
		aliases = append(aliases, a)
	}
	return aliases, eris.Wrap(rows.Err(), "sqlite: list aliases iterate")
}

// Fund reports and holdings

func (s *SQLiteStore) UpsertFundReport(ctx context.Context, report model.FundReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fund_reports (id, fund_id, period_end, coverage_estimate, nav_usd, document_id, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   fund_id = excluded.fund_id,
		   period_end = excluded.period_end,
		   coverage_estimate = excluded.coverage_estimate,
		   nav_usd = excluded.nav_usd,
		   document_id = excluded.document_id,
		   source = excluded.source`,
		report.ID, report.FundID, report.PeriodEnd.UTC(), report.CoverageEstimate,
		report.NAVUSD, report.DocumentID, report.Source,
	)
	return eris.Wrapf(err, "sqlite: upsert fund report %s", report.ID)
}

func (s *SQLiteStore) ListFundReports(ctx context.Context) ([]model.FundReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fund_id, period_end, coverage_estimate, nav_usd, document_id, source
		 FROM fund_reports ORDER BY period_end, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fund reports")
	}
	defer rows.Close()

	var reports []model.FundReport
	for rows.Next() {
		var r model.FundReport
		if err := rows.Scan(&r.ID, &r.FundID, &r.PeriodEnd, &r.CoverageEstimate, &r.NAVUSD, &r.DocumentID, &r.Source); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fund report")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list fund reports iterate")
}

func (s *SQLiteStore) InsertHoldings(ctx context.Context, holdings []model.ReportedHolding) error {
	if len(holdings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert holdings")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO holdings (id, fund_report_id, raw_company_name, reported_sector, reported_country,
		   value_usd, pct_nav, non_investment, extraction_method, extraction_confidence,
		   document_id, page_number, row_number, company_id, match_method, match_confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert holdings")
	}
	defer stmt.Close()

	for _, h := range holdings {
		if _, err := stmt.ExecContext(ctx,
			h.ID, h.FundReportID, h.RawCompanyName, h.ReportedSector, h.ReportedCountry,
			h.ValueUSD, h.PctNAV, h.NonInvestment, h.ExtractionMethod, h.ExtractionConfidence,
			h.DocumentID, h.PageNumber, h.RowNumber, h.CompanyID, string(h.MatchMethod), h.MatchConfidence,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert holding %s", h.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert holdings")
}

// SetHoldingResolution writes the resolution outcome exactly once.
func (s *SQLiteStore) SetHoldingResolution(ctx context.Context, holding model.ReportedHolding) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE holdings SET company_id = ?, match_method = ?, match_confidence = ?
		 WHERE id = ? AND match_method = ''`,
		holding.CompanyID, string(holding.MatchMethod), holding.MatchConfidence, holding.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set holding resolution %s", holding.ID)
	}
	return checkRowsAffected(res, "unresolved holding", holding.ID)
}

func (s *SQLiteStore) ListHoldings(ctx context.Context, fundReportID string) ([]model.ReportedHolding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fund_report_id, raw_company_name, reported_sector, reported_country,
		   value_usd, pct_nav, non_investment, extraction_method, extraction_confidence,
		   document_id, page_number, row_number, company_id, match_method, match_confidence
		 FROM holdings WHERE fund_report_id = ? ORDER BY row_number, id`,
		fundReportID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list holdings")
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
			return nil, eris.Wrap(err, "sqlite: scan holding")
		}
		h.MatchMethod = model.MatchMethod(method)
		holdings = append(holdings, h)
	}
	return holdings, eris.Wrap(rows.Err(), "sqlite: list holdings iterate")
}

// Exposures

func (s *SQLiteStore) InsertExposures(ctx context.Context, exposures []model.InferredExposure) error {
	if len(exposures) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert exposures")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO exposures (id, run_id, portfolio_id, fund_id, company_id, raw_company_name,
		   holding_id, as_of_date, value_usd, weight, exposure_type, method)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert exposures")
	}
	defer stmt.Close()

	for _, e := range exposures {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.RunID, e.PortfolioID, e.FundID, e.CompanyID, e.RawCompanyName,
			e.HoldingID, e.AsOfDate, e.ValueUSD, e.Weight, string(e.Type), e.Method,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert exposure %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert exposures")
}

func (s *SQLiteStore) ListExposures(ctx context.Context, filter ExposureFilter) ([]model.InferredExposure, error) {
	query := `SELECT id, run_id, portfolio_id, fund_id, company_id, raw_company_name,
	            holding_id, as_of_date, value_usd, weight, exposure_type, method
	          FROM exposures WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.PortfolioID != "" {
		query += ` AND portfolio_id = ?`
		args = append(args, filter.PortfolioID)
	}
	if filter.FundID != "" {
		query += ` AND fund_id = ?`
		args = append(args, filter.FundID)
	}
	if filter.AsOfDate != "" {
		query += ` AND as_of_date = ?`
		args = append(args, filter.AsOfDate)
	}
	query += ` ORDER BY as_of_date, fund_id, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list exposures")
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
			return nil, eris.Wrap(err, "sqlite: scan exposure")
		}
		e.Type = model.ExposureType(expType)
		exposures = append(exposures, e)
	}
	return exposures, eris.Wrap(rows.Err(), "sqlite: list exposures iterate")
}

// Classifications

func (s *SQLiteStore) InsertClassifications(ctx context.Context, classifications []model.Classification) error {
	if len(classifications) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert classifications")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO classifications (id, run_id, company_id, raw_company_name, taxonomy_type,
		   node_id, node_name, confidence, method, status, rationale, assumptions,
		   model, prompt_version, input_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert classifications")
	}
	defer stmt.Close()

	for _, c := range classifications {
		assumptions, err := json.Marshal(c.Assumptions)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal assumptions")
		}
		if _, err := stmt.ExecContext(ctx,
			c.ID, c.RunID, c.CompanyID, c.RawCompanyName, c.TaxonomyType,
			c.NodeID, c.NodeName, c.Confidence, string(c.Method), string(c.Status),
			c.Rationale, string(assumptions), c.Model, c.PromptVersion, c.InputHash, c.CreatedAt,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert classification %s", c.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert classifications")
}

func (s *SQLiteStore) ListClassifications(ctx context.Context, runID string) ([]model.Classification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, company_id, raw_company_name, taxonomy_type, node_id, node_name,
		   confidence, method, status, rationale, assumptions, model, prompt_version, input_hash, created_at
		 FROM classifications WHERE run_id = ? ORDER BY company_id, taxonomy_type, id`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list classifications")
	}
	defer rows.Close()

	var out []model.Classification
	for rows.Next() {
		var c model.Classification
		var method, status, assumptions string
		if err := rows.Scan(
			&c.ID, &c.RunID, &c.CompanyID, &c.RawCompanyName, &c.TaxonomyType, &c.NodeID, &c.NodeName,
			&c.Confidence, &method, &status, &c.Rationale, &assumptions,
			&c.Model, &c.PromptVersion, &c.InputHash, &c.CreatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan classification")
		}
		c.Method = model.ClassificationMethod(method)
		c.Status = model.ClassificationStatus(status)
		if err := json.Unmarshal([]byte(assumptions), &c.Assumptions); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal assumptions")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list classifications iterate")
}

// Aggregation snapshots

func (s *SQLiteStore) ReplaceSnapshots(ctx context.Context, runID string, snapshots []model.AggregationSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace snapshots")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM aggregation_snapshots WHERE run_id = ?`, runID); err != nil {
		return eris.Wrapf(err, "sqlite: clear snapshots for run %s", runID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO aggregation_snapshots (run_id, portfolio_id, as_of_date, taxonomy_type, taxonomy_node_id,
		   total_exposure_value_usd, weight_sum, holding_count, company_count, coverage_pct,
		   confidence_weighted_exposure, total_exposure_p10, total_exposure_p90)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert snapshots")
	}
	defer stmt.Close()

	for _, row := range snapshots {
		if _, err := stmt.ExecContext(ctx,
			row.RunID, row.PortfolioID, row.AsOfDate, row.TaxonomyType, row.NodeID,
			row.TotalValueUSD, row.WeightSum, row.HoldingCount, row.CompanyCount, row.CoveragePct,
			row.ConfidenceWeightedUSD, row.P10, row.P90,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert snapshot %s/%s", row.TaxonomyType, row.NodeID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace snapshots")
}

func (s *SQLiteStore) ListSnapshots(ctx context.Context, filter SnapshotFilter) ([]model.AggregationSnapshot, error) {
	query := `SELECT run_id, portfolio_id, as_of_date, taxonomy_type, taxonomy_node_id,
	            total_exposure_value_usd, weight_sum, holding_count, company_count, coverage_pct,
	            confidence_weighted_exposure, total_exposure_p10, total_exposure_p90
	          FROM aggregation_snapshots WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.PortfolioID != "" {
		query += ` AND portfolio_id = ?`
		args = append(args, filter.PortfolioID)
	}
	if filter.TaxonomyType != "" {
		query += ` AND taxonomy_type = ?`
		args = append(args, filter.TaxonomyType)
	}
	if filter.AsOfDate != "" {
		query += ` AND as_of_date = ?`
		args = append(args, filter.AsOfDate)
	}
	query += ` ORDER BY run_id, portfolio_id, as_of_date, taxonomy_type, taxonomy_node_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list snapshots")
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
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		snapshots = append(snapshots, row)
	}
	return snapshots, eris.Wrap(rows.Err(), "sqlite: list snapshots iterate")
}

// Review queue

func (s *SQLiteStore) InsertReviewItems(ctx context.Context, items []model.ReviewItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert review items")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO review_items (id, run_id, exposure_id, holding_id, company_id, raw_company_name,
		   reason, priority, status, created_at, resolved_at, resolved_by, resolution_note)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert review items")
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.ExecContext(ctx,
			item.ID, item.RunID, item.ExposureID, item.HoldingID, item.CompanyID, item.RawCompanyName,
			string(item.Reason), string(item.Priority), string(item.Status), item.CreatedAt,
			item.ResolvedAt, item.ResolvedBy, item.ResolutionNote,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert review item %s", item.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert review items")
}

func (s *SQLiteStore) GetReviewItem(ctx context.Context, id string) (*model.ReviewItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, exposure_id, holding_id, company_id, raw_company_name,
		   reason, priority, status, created_at, resolved_at, resolved_by, resolution_note
		 FROM review_items WHERE id = ?`,
		id,
	)
	item, err := scanReviewItem(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("review item not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get review item")
	}
	return item, nil
}

// UpdateReviewItem persists a transition. Only pending rows accept one, so
// a lost race surfaces as not-found instead of a silent double resolve.
func (s *SQLiteStore) UpdateReviewItem(ctx context.Context, item model.ReviewItem) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE review_items SET status = ?, resolved_at = ?, resolved_by = ?, resolution_note = ?
		 WHERE id = ? AND status = 'pending'`,
		string(item.Status), item.ResolvedAt, item.ResolvedBy, item.ResolutionNote, item.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update review item %s", item.ID)
	}
	return checkRowsAffected(res, "pending review item", item.ID)
}

func (s *SQLiteStore) ListReviewItems(ctx context.Context, filter ReviewFilter) ([]model.ReviewItem, error) {
	query := `SELECT id, run_id, exposure_id, holding_id, company_id, raw_company_name,
	            reason, priority, status, created_at, resolved_at, resolved_by, resolution_note
	          FROM review_items WHERE 1=1`
	var args []any

	if filter.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, filter.RunID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Reason != "" {
		query += ` AND reason = ?`
		args = append(args, string(filter.Reason))
	}
	if filter.Priority != "" {
		query += ` AND priority = ?`
		args = append(args, string(filter.Priority))
	}
	query += ` ORDER BY created_at, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review items")
	}
	defer rows.Close()

	var items []model.ReviewItem
	for rows.Next() {
		item, err := scanReviewItem(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		items = append(items, *item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list review items iterate")
}

// Audit trail

func (s *SQLiteStore) InsertAuditEvent(ctx context.Context, ev model.AuditEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, run_id, actor_type, actor_id, action, entity_type, entity_id,
		   payload, prev_hash, hash, event_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, string(ev.ActorType), ev.ActorID, ev.Action, ev.EntityType, ev.EntityID,
		nullableJSON(ev.Payload), ev.PrevHash, ev.Hash, ev.EventTime.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert audit event %s", ev.ID)
}

func (s *SQLiteStore) LastAuditHash(ctx context.Context, runID string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_events WHERE run_id = ? ORDER BY seq DESC LIMIT 1`,
		runID,
	)
	var hash string
	err := row.Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "sqlite: last audit hash")
	}
	return hash, nil
}

func (s *SQLiteStore) ListAuditEvents(ctx context.Context, f audit.Filter) ([]model.AuditEvent, error) {
	query := `SELECT id, run_id, actor_type, actor_id, action, entity_type, entity_id,
	            payload, prev_hash, hash, event_time
	          FROM audit_events WHERE 1=1`
	var args []any

	if f.RunID != "" {
		query += ` AND run_id = ?`
		args = append(args, f.RunID)
	}
	if f.Action != "" {
		query += ` AND action = ?`
		args = append(args, f.Action)
	}
	if f.EntityID != "" {
		query += ` AND entity_id = ?`
		args = append(args, f.EntityID)
	}
	if !f.From.IsZero() {
		query += ` AND event_time >= ?`
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND event_time <= ?`
		args = append(args, f.To.UTC())
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit events")
	}
	defer rows.Close()

	var events []model.AuditEvent
	for rows.Next() {
		var ev model.AuditEvent
		var actorType string
		var payload sql.NullString
		if err := rows.Scan(
			&ev.ID, &ev.RunID, &actorType, &ev.ActorID, &ev.Action, &ev.EntityType, &ev.EntityID,
			&payload, &ev.PrevHash, &ev.Hash, &ev.EventTime,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit event")
		}
		ev.ActorType = model.ActorType(actorType)
		if payload.Valid {
			ev.Payload = json.RawMessage(payload.String)
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list audit events iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var cfgJSON string

	err := row.Scan(&r.ID, &r.PortfolioID, &r.TaxonomyVersionID, &r.Status, &cfgJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if err := json.Unmarshal([]byte(cfgJSON), &r.Config); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run config")
	}
	return &r, nil
}

func scanReviewItem(row scannable) (*model.ReviewItem, error) {
	var item model.ReviewItem
	var reason, priority, status string
	err := row.Scan(
		&item.ID, &item.RunID, &item.ExposureID, &item.HoldingID, &item.CompanyID, &item.RawCompanyName,
		&reason, &priority, &status, &item.CreatedAt, &item.ResolvedAt, &item.ResolvedBy, &item.ResolutionNote,
	)
	if err != nil {
		return nil, err
	}
	item.Reason = model.ReviewReason(reason)
	item.Priority = model.Priority(priority)
	item.Status = model.ReviewStatus(status)
	return &item, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
