// Package report aggregates a parsed heap dump into a DumpSummary: header
// facts, a class histogram with shallow sizes, and GC root counts by kind.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/heap-analysis/internal/parser/hprof"
	"github.com/heap-analysis/pkg/model"
	"github.com/heap-analysis/pkg/utils"
)

// Options configures report generation.
type Options struct {
	// TopN bounds the class histogram in the summary. Zero means DefaultTopN.
	TopN int
	// Logger receives progress output. If nil, output is suppressed.
	Logger utils.Logger
}

// DefaultTopN is the class histogram size used when Options.TopN is zero.
const DefaultTopN = 20

// DefaultOptions returns the default report options.
func DefaultOptions() *Options {
	return &Options{TopN: DefaultTopN}
}

// Builder produces DumpSummary reports from parsed heap dumps.
type Builder struct {
	opts *Options
}

// NewBuilder creates a report Builder.
func NewBuilder(opts *Options) *Builder {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultTopN
	}
	return &Builder{opts: opts}
}

// Build walks every object of the dump and assembles the summary. The dump
// stays open; the caller owns its lifecycle. Timer phases, when a timer is
// given, are attached as the summary's timings.
func (b *Builder) Build(d hprof.HeapDump, dumpPath string, fileSize int64, mode string, timer *utils.Timer) (*model.DumpSummary, error) {
	header := d.Header()

	stats, err := b.classHistogram(d, header.IDSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build class histogram: %w", err)
	}

	roots := d.GCRoots()
	rootCounts := make(map[string]int)
	for _, root := range roots {
		rootCounts[string(root.Kind)]++
	}

	summary := &model.DumpSummary{
		DumpPath:    dumpPath,
		FileSize:    fileSize,
		IDSize:      uint32(header.IDSize),
		Timestamp:   header.Timestamp,
		ParseMode:   mode,
		ClassCount:  d.ClassCount(),
		ObjectCount: d.ObjectCount(),
		GCRootCount: len(roots),
		TopClasses:  model.TopClassStats(stats, b.opts.TopN),
		GCRoots:     rootCounts,
		AnalyzedAt:  time.Now(),
	}
	if timer != nil {
		summary.Timings = timer.ToMap()
	}

	if b.opts.Logger != nil {
		b.opts.Logger.WithFields(map[string]interface{}{
			"classes":  summary.ClassCount,
			"objects":  summary.ObjectCount,
			"gc_roots": summary.GCRootCount,
		}).Info("heap summary built")
	}
	return summary, nil
}

// classHistogram aggregates instance counts and shallow sizes per class.
// Instances are sized by their class's full instance size, object arrays by
// element count times the id size, primitive arrays by element count times
// the element width.
func (b *Builder) classHistogram(d hprof.HeapDump, idSize int) ([]model.ClassStat, error) {
	byName := make(map[string]*model.ClassStat)

	get := func(name string, instanceSize uint32) *model.ClassStat {
		stat, ok := byName[name]
		if !ok {
			stat = &model.ClassStat{Name: name, InstanceSize: instanceSize}
			byName[name] = stat
		}
		return stat
	}

	err := d.EachObject(func(obj *hprof.HeapObject) bool {
		switch obj.Kind {
		case hprof.KindInstance, hprof.KindObjectArray:
			name := "<unknown>"
			var size uint32
			if cls, ok := d.ClassByID(obj.ClassID); ok {
				name = cls.Name
				size = d.InstanceSize(cls.ID)
			}
			shallow := uint64(size)
			if obj.Kind == hprof.KindObjectArray {
				shallow = uint64(obj.ArrayLength) * uint64(idSize)
			}
			stat := get(name, size)
			stat.Instances++
			stat.ShallowSize += shallow
		case hprof.KindPrimitiveArray:
			elemWidth := hprof.BasicTypeSize(obj.ElemType, idSize)
			stat := get(PrimitiveArrayName(obj.ElemType), uint32(elemWidth))
			stat.Instances++
			stat.ShallowSize += uint64(obj.ArrayLength) * uint64(elemWidth)
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	stats := make([]model.ClassStat, 0, len(byName))
	for _, stat := range byName {
		stats = append(stats, *stat)
	}
	model.SortClassStats(stats)
	return stats, nil
}

// PrimitiveArrayName renders a primitive array class name in the jmap
// histogram style (byte[], int[], ...).
func PrimitiveArrayName(t hprof.BasicType) string {
	switch t {
	case hprof.TypeBoolean:
		return "boolean[]"
	case hprof.TypeChar:
		return "char[]"
	case hprof.TypeFloat:
		return "float[]"
	case hprof.TypeDouble:
		return "double[]"
	case hprof.TypeByte:
		return "byte[]"
	case hprof.TypeShort:
		return "short[]"
	case hprof.TypeInt:
		return "int[]"
	case hprof.TypeLong:
		return "long[]"
	default:
		return "<primitive>[]"
	}
}

// WriteJSON writes the summary to path as indented JSON.
func WriteJSON(summary *model.DumpSummary, path string) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}
