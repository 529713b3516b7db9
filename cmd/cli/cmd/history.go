package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/heap-analysis/internal/catalog"
)

var (
	// History command flags
	historyLimit  int
	historyPath   string
	historyDelete bool
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List previously analyzed dumps from the catalog",
	Long: `List previously analyzed dumps recorded in the catalog database.

Records are written by "analyze --save". With --path the full summary of a
single dump is printed; --path together with --delete removes its record.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	binName := BinName()
	historyCmd.Example = `  # List the ten most recent analyses
  ` + binName + ` history --limit 10

  # Show the recorded summary of one dump
  ` + binName + ` history --path /data/app.hprof

  # Remove a record
  ` + binName + ` history --path /data/app.hprof --delete`

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of records to list")
	historyCmd.Flags().StringVar(&historyPath, "path", "", "Show (or delete) the record of one dump path")
	historyCmd.Flags().BoolVar(&historyDelete, "delete", false, "Delete the record selected by --path")
}

func runHistory(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	conf := GetConfig()
	ctx := context.Background()

	cat, err := catalog.Open(&conf.Database)
	if err != nil {
		return fmt.Errorf("failed to open dump catalog: %w", err)
	}
	defer cat.Close()

	if historyPath != "" {
		if historyDelete {
			if err := cat.Delete(ctx, historyPath); err != nil {
				return err
			}
			log.Info("Deleted catalog record for %s", historyPath)
			return nil
		}

		rec, err := cat.GetByPath(ctx, historyPath)
		if err != nil {
			return err
		}
		summary, err := rec.ToSummary()
		if err != nil {
			return fmt.Errorf("failed to decode stored summary: %w", err)
		}
		printSummary(log, summary)
		return nil
	}

	if historyDelete {
		return fmt.Errorf("--delete requires --path")
	}

	records, err := cat.Recent(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		log.Info("No analyzed dumps recorded")
		return nil
	}

	log.Info("=== Analyzed Dumps ===")
	for _, rec := range records {
		log.Info("  %s  %10s  %8d objects  %-9s  %s",
			rec.UpdatedAt.Format(time.DateTime),
			humanBytes(uint64(rec.SizeBytes)),
			rec.ObjectCount,
			rec.ParseMode,
			rec.Path)
	}
	return nil
}
