package cli

import (
	"github.com/dl-alexandre/pdsync/internal/types"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past sync runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the most recent runs",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

var (
	historyLimit int
	historyKeep  int
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of runs to show (0 for all)")
	historyPruneCmd.Flags().IntVar(&historyKeep, "keep", 100, "Number of recent runs to keep")

	historyCmd.AddCommand(historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := newOutput()
	db, err := openIndex()
	if err != nil {
		return fail(out, "history", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(cmd.Context(), historyLimit)
	if err != nil {
		return fail(out, "history", err)
	}
	if runs == nil {
		runs = []types.RunRecord{}
	}
	return out.WriteSuccess("history", &types.RunHistoryResponse{Runs: runs})
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	out := newOutput()
	db, err := openIndex()
	if err != nil {
		return fail(out, "history.prune", err)
	}
	defer db.Close()

	removed, err := db.PruneRuns(cmd.Context(), historyKeep)
	if err != nil {
		return fail(out, "history.prune", err)
	}
	return out.WriteSuccess("history.prune", map[string]interface{}{
		"removed": removed,
		"kept":    historyKeep,
	})
}
