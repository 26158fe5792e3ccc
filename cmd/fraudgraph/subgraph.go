package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/fraudgraph/internal/app"
)

var subgraphDepth int

var subgraphCmd = &cobra.Command{
	Use:   "subgraph <transaction-id>",
	Short: "Extract the neighbourhood of a transaction",
	Long: `Prints the nodes and edges within --depth hops of the transaction.
The result names the tier that produced it: rich, simple, or synthetic
when the store is unreachable or the transaction is unknown.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return printJSON(a.Subgraph(ctx, args[0], subgraphDepth))
		})
	},
}

func init() {
	subgraphCmd.Flags().IntVarP(&subgraphDepth, "depth", "d", -1, "hops from the transaction (negative uses extract.default_depth)")
}
