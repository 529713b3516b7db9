package cmd

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/heap-analysis/pkg/config"
	"github.com/heap-analysis/pkg/telemetry"
	"github.com/heap-analysis/pkg/utils"
)

var (
	// Global flags
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger utils.Logger

	telemetryShutdown telemetry.ShutdownFunc
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "heap-analysis",
	Short: "A Java heap dump (HPROF) analysis tool",
	Long: `heap-analysis is a CLI tool for parsing and analyzing Java heap dumps
in HPROF binary format.

Small dumps are parsed fully in memory; large dumps go through an on-disk
object index that is reused across runs. The tool produces a class histogram
with shallow sizes, GC root statistics, and per-object inbound reference
queries, and can keep a catalog of analyzed dumps in a database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Setup logger: --verbose wins over the configured level
		logLevel := utils.ParseLogLevel(cfg.Log.Level)
		if verbose {
			logLevel = utils.LevelDebug
		}
		if cfg.Log.OutputPath != "" {
			logger, err = utils.NewFileLogger(logLevel, cfg.Log.OutputPath)
			if err != nil {
				return err
			}
		} else {
			logger = utils.NewDefaultLogger(logLevel, os.Stdout)
		}
		utils.SetGlobalLogger(logger)

		// Tracing is driven entirely by OTEL_* environment variables and
		// stays a no-op when OTEL_ENABLED is unset.
		shutdown, err := telemetry.Init(cmd.Context())
		if err != nil {
			logger.Warn("Failed to initialize telemetry: %v", err)
		} else {
			telemetryShutdown = shutdown
		}

		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if telemetryShutdown != nil {
			return telemetryShutdown(context.Background())
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default searches ., ./configs, /etc/heap-analysis)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	binName := BinName()
	rootCmd.Example = `  # Analyze a heap dump
  ` + binName + ` analyze -i ./test/app.hprof -o ./output

  # Force the on-disk indexed backing
  ` + binName + ` analyze -i ./big.hprof --mode indexed

  # Fetch a dump from configured storage before analyzing
  ` + binName + ` analyze -i dumps/app.hprof --fetch

  # Inspect the instances of one class
  ` + binName + ` inspect -i ./test/app.hprof --class java/lang/String --inbound

  # List previously analyzed dumps
  ` + binName + ` history --limit 10`
}

// GetLogger returns the configured logger
func GetLogger() utils.Logger {
	return logger
}

// GetConfig returns the loaded configuration
func GetConfig() *config.Config {
	return cfg
}

// BinName returns the base name of the current executable
func BinName() string {
	return filepath.Base(os.Args[0])
}
