package main

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/fraudgraph/internal/app"
)

var (
	explainDepth   int
	explainTimeout time.Duration
)

var explainCmd = &cobra.Command{
	Use:   "explain <transaction-id>",
	Short: "Explain the fraud risk of a transaction",
	Long: `Submits the explanation to the background workers and waits for it.
If --timeout passes first the job is cancelled and its last status printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runExplain,
}

var explainPurgeCmd = &cobra.Command{
	Use:   "purge-results",
	Short: "Delete every explanation result held in the redis result store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			n, err := a.PurgeExplanations(ctx)
			if err != nil {
				return err
			}
			logger.WithFields(logrus.Fields{"purged": n}).Info("Explanation results purged")
			return nil
		})
	},
}

func init() {
	explainCmd.AddCommand(explainPurgeCmd)
	explainCmd.Flags().IntVarP(&explainDepth, "depth", "d", -1, "hops from the transaction (negative uses extract.default_depth)")
	explainCmd.Flags().DurationVar(&explainTimeout, "timeout", 60*time.Second, "how long to wait for the explanation")
}

func runExplain(cmd *cobra.Command, args []string) error {
	txID := args[0]

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if _, err := a.SubmitExplanation(ctx, txID, explainDepth); err != nil {
			return err
		}

		waitCtx, cancel := context.WithTimeout(ctx, explainTimeout)
		defer cancel()

		exp, err := a.AwaitExplanation(waitCtx, txID)
		if err == nil {
			return printJSON(exp)
		}
		if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
			a.CancelExplanation(txID)
			logger.WithField("transaction_id", txID).Warn("Explanation abandoned")
			if st, serr := a.ExplanationStatus(context.Background(), txID); serr == nil {
				printJSON(st)
			}
		}
		return err
	})
}
