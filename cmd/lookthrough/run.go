package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/classify"
	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/pipeline"
	"github.com/sells-group/lookthrough/internal/resilience"
	"github.com/sells-group/lookthrough/internal/store"
	"github.com/sells-group/lookthrough/pkg/oracle"
)

var runPortfolio string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a full look-through run for a portfolio",
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

		tree, err := loadTree()
		if err != nil {
			return err
		}

		var client oracle.Client
		if cfg.Oracle.Key != "" {
			client = oracle.NewClient(cfg.Oracle.Key, oracle.Config{
				Model:         cfg.Oracle.Model,
				MaxTokens:     cfg.Oracle.MaxTokens,
				PromptVersion: cfg.Oracle.PromptVersion,
			})
		}

		runner := pipeline.NewRunner(st, audit.NewLog(st), tree, client, classify.Config{
			Model:          cfg.Oracle.Model,
			PromptVersion:  cfg.Oracle.PromptVersion,
			MaxConcurrency: cfg.Oracle.MaxConcurrency,
			RatePerSec:     cfg.Oracle.RatePerSec,
			Retry:          retryPolicy(),
		})

		result, err := runner.Run(ctx, runPortfolio, model.RunConfig{
			PortfolioTotalValueUSD:    cfg.Inference.PortfolioTotalValueUSD,
			ScaleToNAV:                cfg.Inference.ScaleToNAV,
			IncludeNonInvestmentItems: cfg.Inference.IncludeNonInvestmentItems,
			UsePublicMarketProxy:      cfg.Inference.UsePublicMarketProxy,
			TokenOverlapThreshold:     cfg.Resolver.TokenOverlapThreshold,
			MaxAliases:                cfg.Resolver.MaxAliases,
			ConfidenceThreshold:       cfg.Review.ConfidenceThreshold,
			MaterialityThresholdUSD:   cfg.Review.MaterialityThresholdUSD,
			OracleModel:               cfg.Oracle.Model,
			PromptVersion:             cfg.Oracle.PromptVersion,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{
			Status:      model.RunStatus(runsStatus),
			PortfolioID: runsPortfolio,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	},
}

var (
	runsStatus    string
	runsPortfolio string
)

func retryPolicy() resilience.Policy {
	return resilience.PolicyFromConfig(
		cfg.Oracle.MaxAttempts,
		cfg.Oracle.RetryInitialDelayMs,
		cfg.Oracle.RetryMaxDelayMs,
	)
}

func init() {
	runCmd.Flags().StringVar(&runPortfolio, "portfolio", "", "Portfolio ID to run look-through for")
	_ = runCmd.MarkFlagRequired("portfolio")
	rootCmd.AddCommand(runCmd)

	runsCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by run status")
	runsCmd.Flags().StringVar(&runsPortfolio, "portfolio", "", "Filter by portfolio ID")
	rootCmd.AddCommand(runsCmd)
}
