package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/heap-analysis/internal/catalog"
	"github.com/heap-analysis/internal/parser/hprof"
	"github.com/heap-analysis/internal/report"
	"github.com/heap-analysis/internal/storage"
	"github.com/heap-analysis/pkg/model"
	"github.com/heap-analysis/pkg/utils"
)

var (
	// Analyze command flags
	inputPath    string
	outputDir    string
	parseMode    string
	budgetMB     int64
	topN         int
	fetchRemote  bool
	noReuseIndex bool
	saveRecord   bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Parse a heap dump and generate a summary report",
	Long: `Parse an HPROF heap dump and generate a summary report.

The analyze command parses the dump, builds a class histogram with shallow
sizes, counts GC roots by kind, and writes the result as summary.json into
the output directory.

Parsing modes:
  - auto    : in-memory when the file fits the memory budget, indexed otherwise (default)
  - memory  : materialize the whole object graph in memory
  - indexed : build or reuse an on-disk object index next to the dump

With --fetch the input is treated as a key in the configured storage backend
and downloaded into the data directory first; an existing local copy is
reused. With --save the result is recorded in the dump catalog database.`,
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	binName := BinName()
	analyzeCmd.Example = `  # Analyze a local heap dump
  ` + binName + ` analyze -i ./test/app.hprof -o ./output

  # Force the on-disk indexed backing and rebuild its index
  ` + binName + ` analyze -i ./big.hprof --mode indexed --no-reuse-index

  # Fetch from configured storage, then record the result in the catalog
  ` + binName + ` analyze -i dumps/app.hprof --fetch --save

  # Report the 50 largest classes
  ` + binName + ` analyze -i ./app.hprof -n 50`

	analyzeCmd.Flags().StringVarP(&inputPath, "input", "i", "", "Heap dump file, or storage key with --fetch (required)")
	analyzeCmd.Flags().StringVarP(&outputDir, "output", "o", "./output", "Output directory for the summary report")
	analyzeCmd.MarkFlagRequired("input")

	analyzeCmd.Flags().StringVar(&parseMode, "mode", "", "Parsing mode: auto, memory, indexed (default from config)")
	analyzeCmd.Flags().Int64Var(&budgetMB, "budget-mb", 0, "Memory budget in MB for auto mode (default from config)")
	analyzeCmd.Flags().IntVarP(&topN, "top", "n", report.DefaultTopN, "Number of top classes to report")
	analyzeCmd.Flags().BoolVar(&fetchRemote, "fetch", false, "Fetch the dump from configured storage first")
	analyzeCmd.Flags().BoolVar(&noReuseIndex, "no-reuse-index", false, "Rebuild the on-disk index even when a fresh one exists")
	analyzeCmd.Flags().BoolVar(&saveRecord, "save", false, "Record the result in the dump catalog database")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	conf := GetConfig()
	ctx := context.Background()

	// Resolve flag defaults from config
	modeStr := parseMode
	if modeStr == "" {
		modeStr = conf.Analysis.Mode
	}
	budget := budgetMB
	if budget <= 0 {
		budget = conf.Analysis.MemoryBudgetMB
	}
	reuse := conf.Analysis.ReuseIndex && !noReuseIndex

	mode, err := parseParsingMode(modeStr)
	if err != nil {
		return err
	}

	timer := utils.NewTimer("heap-analysis", utils.WithLogger(log))

	// Resolve the dump to a local file
	dumpPath := inputPath
	if fetchRemote {
		if err := conf.EnsureDataDir(); err != nil {
			return err
		}
		store, err := storage.NewStorage(&conf.Storage)
		if err != nil {
			return err
		}
		timer.Start("fetch")
		dumpPath, err = storage.FetchDump(ctx, store, inputPath, conf.Analysis.DataDir)
		timer.StopPhase("fetch")
		if err != nil {
			return err
		}
		log.Info("Fetched dump to %s", dumpPath)
	}

	info, err := os.Stat(dumpPath)
	if err != nil {
		return fmt.Errorf("input file not found: %s", dumpPath)
	}

	// Mirror the auto decision so the report names the backing actually used
	if mode == hprof.ModeAuto {
		if info.Size() <= budget<<20 {
			mode = hprof.ModeInMemory
		} else {
			mode = hprof.ModeIndexed
		}
	}

	log.Info("Analyzing %s (%d bytes, %s mode)", dumpPath, info.Size(), mode)

	ctx, span := otel.Tracer("heap-analysis").Start(ctx, "analyze")
	span.SetAttributes(
		attribute.String("dump.path", dumpPath),
		attribute.Int64("dump.size_bytes", info.Size()),
		attribute.String("dump.parse_mode", mode.String()),
	)
	defer span.End()

	timer.Start("parse")
	dump, err := hprof.Parse(ctx, dumpPath, &hprof.Options{
		Mode:         mode,
		MemoryBudget: budget << 20,
		Logger:       log,
		ReuseIndex:   reuse,
	})
	timer.StopPhase("parse")
	if err != nil {
		return fmt.Errorf("failed to parse heap dump: %w", err)
	}
	defer dump.Close()

	timer.Start("summarize")
	builder := report.NewBuilder(&report.Options{TopN: topN, Logger: log})
	summary, err := builder.Build(dump, dumpPath, info.Size(), mode.String(), nil)
	timer.StopPhase("summarize")
	if err != nil {
		return err
	}
	summary.Timings = timer.ToMap()
	if mode == hprof.ModeIndexed {
		summary.IndexDir = hprof.IndexDirFor(dumpPath)
	}

	printSummary(log, summary)

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	summaryFile := filepath.Join(outputDir, "summary.json")
	if err := report.WriteJSON(summary, summaryFile); err != nil {
		return err
	}
	log.Info("Summary written to %s", summaryFile)

	if saveRecord {
		cat, err := catalog.Open(&conf.Database)
		if err != nil {
			return fmt.Errorf("failed to open dump catalog: %w", err)
		}
		defer cat.Close()

		rec, err := catalog.NewDumpRecord(summary, timer.TotalDuration())
		if err != nil {
			return fmt.Errorf("failed to encode catalog record: %w", err)
		}
		if err := cat.Save(ctx, rec); err != nil {
			return fmt.Errorf("failed to save catalog record: %w", err)
		}
		log.Info("Recorded analysis of %s in catalog", summary.DumpPath)
	}

	timer.PrintSummary()
	return nil
}

// printSummary logs the headline numbers and the class histogram.
func printSummary(log utils.Logger, summary *model.DumpSummary) {
	log.Info("=== Heap Dump Summary ===")
	log.Info("Dump:      %s", summary.DumpPath)
	log.Info("File size: %s", humanBytes(uint64(summary.FileSize)))
	log.Info("ID size:   %d bytes", summary.IDSize)
	log.Info("Mode:      %s", summary.ParseMode)
	log.Info("Classes:   %d", summary.ClassCount)
	log.Info("Objects:   %d", summary.ObjectCount)
	log.Info("GC roots:  %d", summary.GCRootCount)
	if summary.IndexDir != "" {
		log.Info("Index dir: %s", summary.IndexDir)
	}

	if len(summary.TopClasses) > 0 {
		log.Info("")
		log.Info("=== Top Classes by Shallow Size ===")
		for i, stat := range summary.TopClasses {
			log.Info("  %2d. %10s  %8d instances  %s",
				i+1, humanBytes(stat.ShallowSize), stat.Instances, stat.Name)
		}
	}

	if len(summary.GCRoots) > 0 {
		log.Info("")
		log.Info("=== GC Roots ===")
		for _, kind := range sortedKeys(summary.GCRoots) {
			log.Info("  %-14s %d", kind, summary.GCRoots[kind])
		}
	}
	log.Info("")
}

// humanBytes renders a byte count with a binary unit suffix.
func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// parseParsingMode maps the config/flag mode names onto hprof parsing modes.
func parseParsingMode(s string) (hprof.ParsingMode, error) {
	switch strings.ToLower(s) {
	case "", "auto":
		return hprof.ModeAuto, nil
	case "memory", "in-memory":
		return hprof.ModeInMemory, nil
	case "indexed":
		return hprof.ModeIndexed, nil
	default:
		return 0, fmt.Errorf("unknown parsing mode: %q (valid: auto, memory, indexed)", s)
	}
}
