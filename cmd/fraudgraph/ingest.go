package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/fraudgraph/internal/app"
	"github.com/rohankatakam/fraudgraph/internal/ingest"
)

var ingestFile string

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load transactions into the graph",
	Long: `Reads newline-delimited JSON transactions and upserts each one with its
user, IP, email and device. Records that fail validation are skipped and
counted; failed graph writes go to the dead-letter queue when an audit
database is configured.

Examples:
  fraudgraph ingest --file transactions.jsonl
  cat transactions.jsonl | fraudgraph ingest --file -`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "", "JSON lines file, or - for stdin")
	ingestCmd.MarkFlagRequired("file")
}

func runIngest(cmd *cobra.Command, args []string) error {
	var r io.Reader = os.Stdin
	if ingestFile != "-" {
		f, err := os.Open(ingestFile)
		if err != nil {
			return fmt.Errorf("open %s: %w", ingestFile, err)
		}
		defer f.Close()
		r = f
	}

	txs, err := ingest.ReadJSONLines(r)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		summary, err := a.IngestAll(ctx, txs)
		if perr := printJSON(summary); perr != nil {
			return perr
		}
		return err
	})
}
