package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/review"
	"github.com/sells-group/lookthrough/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and work the human review queue",
}

var (
	queueRunID    string
	queueStatus   string
	queueReason   string
	queuePriority string
	queueLimit    int
	queueActor    string
	queueNote     string
)

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review queue items",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := st.ListReviewItems(ctx, store.ReviewFilter{
			RunID:    queueRunID,
			Status:   model.ReviewStatus(queueStatus),
			Reason:   model.ReviewReason(queueReason),
			Priority: model.Priority(queuePriority),
			Limit:    queueLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	},
}

func transitionCmd(use string, to model.ReviewStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <item-id> [item-id...]",
		Short: "Mark review items " + string(to),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			items := make([]*model.ReviewItem, 0, len(args))
			for _, id := range args {
				item, err := st.GetReviewItem(ctx, id)
				if err != nil {
					return eris.Wrapf(err, "load review item %s", id)
				}
				items = append(items, item)
			}

			queue := review.NewQueue(audit.NewLog(st))
			results := queue.BulkTransition(ctx, items, to, queueActor, queueNote)

			for i, res := range results {
				if !res.OK {
					continue
				}
				if err := st.UpdateReviewItem(ctx, *items[i]); err != nil {
					results[i].OK = false
					results[i].Error = err.Error()
				}
			}

			failed := 0
			for _, res := range results {
				if !res.OK {
					failed++
				}
			}
			zap.L().Info("queue transition applied",
				zap.String("to", string(to)),
				zap.Int("ok", len(results)-failed),
				zap.Int("failed", failed),
			)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
			if failed > 0 {
				return eris.Errorf("%d of %d transitions failed", failed, len(results))
			}
			return nil
		},
	}
}

func init() {
	queueListCmd.Flags().StringVar(&queueRunID, "run", "", "Filter by run ID")
	queueListCmd.Flags().StringVar(&queueStatus, "status", "", "Filter by status (pending, approved, rejected, dismissed)")
	queueListCmd.Flags().StringVar(&queueReason, "reason", "", "Filter by reason")
	queueListCmd.Flags().StringVar(&queuePriority, "priority", "", "Filter by priority (high, medium, low)")
	queueListCmd.Flags().IntVar(&queueLimit, "limit", 100, "Maximum items to return")

	queueCmd.PersistentFlags().StringVar(&queueActor, "actor", "", "Human actor recorded on transitions")
	queueCmd.PersistentFlags().StringVar(&queueNote, "note", "", "Resolution note recorded on transitions")

	queueCmd.AddCommand(
		queueListCmd,
		transitionCmd("approve", model.ReviewApproved),
		transitionCmd("reject", model.ReviewRejected),
		transitionCmd("dismiss", model.ReviewDismissed),
	)
	rootCmd.AddCommand(queueCmd)
}
