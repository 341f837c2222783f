package commands

import (
	"fmt"

	"moodledl/internal/components/serviceutil"
	"moodledl/internal/db"
	"moodledl/internal/history"

	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "The amount of runs to list.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [run id]",
	Short: "Lists previous runs, or the results of a single run.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(configPath)
		if err != nil {
			serviceutil.Fatal("failed to read config", err)
		}
		path := cfg.historyPath()
		if path == "" {
			serviceutil.Fatal("failed to open history", fmt.Errorf("history_db is not configured"))
		}

		database, err := db.Open(path)
		if err != nil {
			serviceutil.Fatal("failed to open history db", err)
		}
		defer database.Close()
		store := history.NewStore(database)

		if len(args) == 1 {
			results, err := store.Results(cmd.Context(), args[0])
			if err != nil {
				serviceutil.Fatal("failed to read run results", err)
			}
			renderResults(cmd.OutOrStdout(), results)
			return
		}

		runs, err := store.Runs(cmd.Context(), historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to read runs", err)
		}
		renderRuns(cmd.OutOrStdout(), runs)
	},
}
