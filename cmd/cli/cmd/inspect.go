package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/heap-analysis/internal/parser/hprof"
)

var (
	// Inspect command flags
	inspectInput   string
	inspectClass   string
	inspectMode    string
	inspectLimit   int
	inspectInbound bool
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect the instances of a single class",
	Long: `Inspect the instances of one class in a heap dump.

The class name uses the JVM-internal slash-delimited form, for example
java/lang/String. The command lists the matching objects with their outbound
reference counts; with --inbound it also resolves who references each object,
which triggers the reverse-index build on first use.`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	binName := BinName()
	inspectCmd.Example = `  # List the String instances of a dump
  ` + binName + ` inspect -i ./app.hprof --class java/lang/String

  # Show who references each byte buffer
  ` + binName + ` inspect -i ./app.hprof --class java/nio/DirectByteBuffer --inbound`

	inspectCmd.Flags().StringVarP(&inspectInput, "input", "i", "", "Heap dump file (required)")
	inspectCmd.MarkFlagRequired("input")
	inspectCmd.Flags().StringVar(&inspectClass, "class", "", "Class name in internal form, e.g. java/lang/String (required)")
	inspectCmd.MarkFlagRequired("class")
	inspectCmd.Flags().StringVar(&inspectMode, "mode", "", "Parsing mode: auto, memory, indexed (default from config)")
	inspectCmd.Flags().IntVar(&inspectLimit, "limit", 20, "Maximum number of objects to list")
	inspectCmd.Flags().BoolVar(&inspectInbound, "inbound", false, "Resolve inbound references for each listed object")
}

func runInspect(cmd *cobra.Command, args []string) error {
	log := GetLogger()
	conf := GetConfig()
	ctx := context.Background()

	modeStr := inspectMode
	if modeStr == "" {
		modeStr = conf.Analysis.Mode
	}
	mode, err := parseParsingMode(modeStr)
	if err != nil {
		return err
	}

	if _, err := os.Stat(inspectInput); err != nil {
		return fmt.Errorf("input file not found: %s", inspectInput)
	}

	dump, err := hprof.Parse(ctx, inspectInput, &hprof.Options{
		Mode:         mode,
		MemoryBudget: conf.Analysis.MemoryBudgetMB << 20,
		Logger:       log,
		ReuseIndex:   conf.Analysis.ReuseIndex,
	})
	if err != nil {
		return fmt.Errorf("failed to parse heap dump: %w", err)
	}
	defer dump.Close()

	cls, ok := dump.ClassByName(inspectClass)
	if !ok {
		return fmt.Errorf("class not found: %s", inspectClass)
	}

	ids := dump.ObjectsOfClass(inspectClass)
	log.Info("Class %s: %d instances, %d bytes per instance",
		cls.Name, len(ids), dump.InstanceSize(cls.ID))

	limit := inspectLimit
	if limit <= 0 || limit > len(ids) {
		limit = len(ids)
	}
	for _, id := range ids[:limit] {
		obj, ok := dump.ObjectByID(id)
		if !ok {
			continue
		}
		line := fmt.Sprintf("  object #%d: %s, %d outbound refs", obj.ID, kindName(obj), len(obj.References()))
		if inspectInbound {
			count, err := dump.InboundCount(id)
			if err != nil {
				return fmt.Errorf("failed to resolve inbound references: %w", err)
			}
			line += fmt.Sprintf(", %d inbound refs", count)
			if count > 0 {
				refs, err := dump.InboundRefs(id)
				if err != nil {
					return fmt.Errorf("failed to resolve inbound references: %w", err)
				}
				line += fmt.Sprintf(" from %s", formatIDs(refs, 8))
			}
		}
		log.Info("%s", line)
	}
	if limit < len(ids) {
		log.Info("  ... and %d more", len(ids)-limit)
	}
	return nil
}

func kindName(obj *hprof.HeapObject) string {
	switch obj.Kind {
	case hprof.KindObjectArray:
		return fmt.Sprintf("object array[%d]", obj.ArrayLength)
	case hprof.KindPrimitiveArray:
		return fmt.Sprintf("primitive array[%d]", obj.ArrayLength)
	default:
		return "instance"
	}
}

func formatIDs(ids []hprof.ObjectID, max int) string {
	if len(ids) <= max {
		return fmt.Sprintf("%v", ids)
	}
	return fmt.Sprintf("%v...", ids[:max])
}
