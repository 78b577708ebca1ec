package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load source data into the store",
}

var (
	ingestFundID   string
	ingestPeriod   string
	ingestFile     string
	ingestCoverage float64
	ingestNAV      float64
	ingestDocID    string
)

// ingestHoldingsCmd loads one fund report's holdings from a CSV export.
// Expected header: company_name,sector,country,value_usd,pct_nav,non_investment
// with the value columns optional per row.
var ingestHoldingsCmd = &cobra.Command{
	Use:   "holdings",
	Short: "Load a fund report's holdings from CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		periodEnd, err := time.Parse("2006-01-02", ingestPeriod)
		if err != nil {
			return eris.Wrapf(err, "parse period %q", ingestPeriod)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(ingestFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", ingestFile)
		}
		defer f.Close() //nolint:errcheck

		report := model.FundReport{
			ID:         uuid.NewString(),
			FundID:     ingestFundID,
			PeriodEnd:  periodEnd.UTC(),
			DocumentID: ingestDocID,
			Source:     "csv",
		}
		if ingestCoverage > 0 {
			report.CoverageEstimate = &ingestCoverage
		}
		if ingestNAV > 0 {
			report.NAVUSD = &ingestNAV
		}

		holdings, err := parseHoldingsCSV(f, report.ID, ingestDocID)
		if err != nil {
			return err
		}
		if len(holdings) == 0 {
			return eris.Errorf("no holdings rows in %s", ingestFile)
		}

		if err := st.UpsertFundReport(ctx, report); err != nil {
			return err
		}
		if err := st.InsertHoldings(ctx, holdings); err != nil {
			return err
		}

		zap.L().Info("holdings ingested",
			zap.String("fund_id", ingestFundID),
			zap.String("period_end", ingestPeriod),
			zap.String("fund_report_id", report.ID),
			zap.Int("holdings", len(holdings)),
		)
		return nil
	},
}

// ingestCompaniesCmd loads the canonical company universe the resolver
// matches against. Expected header: id,name,country,description.
var ingestCompaniesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Load canonical companies from CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		f, err := os.Open(ingestFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", ingestFile)
		}
		defer f.Close() //nolint:errcheck

		companies, err := parseCompaniesCSV(f)
		if err != nil {
			return err
		}
		for _, c := range companies {
			if err := st.UpsertCompany(ctx, c); err != nil {
				return err
			}
		}

		zap.L().Info("companies ingested", zap.Int("companies", len(companies)))
		return nil
	},
}

func parseHoldingsCSV(r io.Reader, fundReportID, docID string) ([]model.ReportedHolding, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}
	col := columnIndex(header)
	if _, ok := col["company_name"]; !ok {
		return nil, eris.New("csv missing required column company_name")
	}

	var holdings []model.ReportedHolding
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read csv row %d", row)
		}

		name := strings.TrimSpace(field(record, col, "company_name"))
		if name == "" {
			return nil, eris.Errorf("row %d: company_name is required", row)
		}

		h := model.ReportedHolding{
			ID:               uuid.NewString(),
			FundReportID:     fundReportID,
			RawCompanyName:   name,
			ReportedSector:   strings.TrimSpace(field(record, col, "sector")),
			ReportedCountry:  strings.TrimSpace(field(record, col, "country")),
			ExtractionMethod: "csv",
			DocumentID:       docID,
			RowNumber:        row,
		}

		if v, ok, err := parseFloat(field(record, col, "value_usd")); err != nil {
			return nil, eris.Wrapf(err, "row %d: value_usd", row)
		} else if ok {
			h.ValueUSD = &v
		}
		if v, ok, err := parseFloat(field(record, col, "pct_nav")); err != nil {
			return nil, eris.Wrapf(err, "row %d: pct_nav", row)
		} else if ok {
			h.PctNAV = &v
		}
		if raw := strings.TrimSpace(field(record, col, "non_investment")); raw != "" {
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "row %d: non_investment", row)
			}
			h.NonInvestment = b
		}

		holdings = append(holdings, h)
	}
	return holdings, nil
}

func parseCompaniesCSV(r io.Reader) ([]model.Company, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}
	col := columnIndex(header)
	if _, ok := col["name"]; !ok {
		return nil, eris.New("csv missing required column name")
	}

	var companies []model.Company
	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "read csv row %d", row)
		}

		name := strings.TrimSpace(field(record, col, "name"))
		if name == "" {
			return nil, eris.Errorf("row %d: name is required", row)
		}
		id := strings.TrimSpace(field(record, col, "id"))
		if id == "" {
			id = uuid.NewString()
		}

		companies = append(companies, model.Company{
			ID:          id,
			Name:        name,
			Country:     strings.ToUpper(strings.TrimSpace(field(record, col, "country"))),
			Description: strings.TrimSpace(field(record, col, "description")),
			Source:      "csv",
			CreatedAt:   time.Now().UTC(),
		})
	}
	return companies, nil
}

func columnIndex(header []string) map[string]int {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return col
}

func field(record []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(record) {
		return ""
	}
	return record[i]
}

func parseFloat(raw string) (float64, bool, error) {
	raw = strings.TrimSpace(strings.ReplaceAll(raw, ",", ""))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func init() {
	ingestHoldingsCmd.Flags().StringVar(&ingestFundID, "fund", "", "Fund ID the report belongs to")
	ingestHoldingsCmd.Flags().StringVar(&ingestPeriod, "period", "", "Reporting period end (YYYY-MM-DD)")
	ingestHoldingsCmd.Flags().StringVar(&ingestFile, "file", "", "CSV file path")
	ingestHoldingsCmd.Flags().Float64Var(&ingestCoverage, "coverage", 0, "Coverage estimate in (0,1]")
	ingestHoldingsCmd.Flags().Float64Var(&ingestNAV, "nav", 0, "Reported fund NAV in USD")
	ingestHoldingsCmd.Flags().StringVar(&ingestDocID, "document", "", "Source document ID for lineage")
	_ = ingestHoldingsCmd.MarkFlagRequired("fund")
	_ = ingestHoldingsCmd.MarkFlagRequired("period")
	_ = ingestHoldingsCmd.MarkFlagRequired("file")

	ingestCompaniesCmd.Flags().StringVar(&ingestFile, "file", "", "CSV file path")
	_ = ingestCompaniesCmd.MarkFlagRequired("file")

	ingestCmd.AddCommand(ingestHoldingsCmd, ingestCompaniesCmd)
	rootCmd.AddCommand(ingestCmd)
}
