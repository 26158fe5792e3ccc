package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/fraudgraph/internal/app"
	"github.com/rohankatakam/fraudgraph/internal/models"
)

var scoreFile string

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score one transaction with the loaded model",
	Long: `Reads one JSON transaction and prints its fraud probability and ranked
risk factors. Fails with "model is not loaded" when no artifact is
configured; it never reports a zero risk in place of an answer.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().StringVarP(&scoreFile, "file", "f", "-", "JSON transaction file, or - for stdin")
}

func runScore(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if scoreFile != "-" {
		f, err := os.Open(scoreFile)
		if err != nil {
			return fmt.Errorf("open %s: %w", scoreFile, err)
		}
		defer f.Close()
		r = f
	}

	var tx models.TransactionInput
	if err := json.NewDecoder(r).Decode(&tx); err != nil {
		return fmt.Errorf("decode transaction: %w", err)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		score, err := a.Score(ctx, tx)
		if err != nil {
			return err
		}
		return printJSON(score)
	})
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history <transaction-id>",
	Short: "Show audited score requests for a transaction, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			records, err := a.ScoreHistory(ctx, args[0], historyLimit)
			if err != nil {
				return err
			}
			return printJSON(records)
		})
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "records to show")
	scoreCmd.AddCommand(historyCmd)
}
