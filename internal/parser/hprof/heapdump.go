package hprof

import (
	"context"
	"fmt"
	"os"

	"github.com/heap-analysis/pkg/utils"
)

// ParsingMode selects the graph backing.
type ParsingMode int

const (
	// ModeAuto picks in-memory when the file fits the memory budget,
	// indexed otherwise.
	ModeAuto ParsingMode = iota
	// ModeInMemory materializes the whole graph in one scan.
	ModeInMemory
	// ModeIndexed builds or reuses an on-disk object index and re-reads
	// payload bytes from the source file on demand.
	ModeIndexed
)

func (m ParsingMode) String() string {
	switch m {
	case ModeInMemory:
		return "in-memory"
	case ModeIndexed:
		return "indexed"
	default:
		return "auto"
	}
}

// DefaultMemoryBudget bounds the file size given to the in-memory backing
// when ModeAuto decides.
const DefaultMemoryBudget = 1 << 30 // 1GB

// Options configures Parse.
type Options struct {
	// Mode selects the backing. Default is ModeAuto.
	Mode ParsingMode
	// MemoryBudget is the largest file size ModeAuto hands to the in-memory
	// backing. Zero means DefaultMemoryBudget.
	MemoryBudget int64
	// Logger receives debug/progress output. If nil, output is suppressed.
	Logger utils.Logger
	// ReuseIndex allows an existing non-stale on-disk index to be reused.
	// The zero value forces a rebuild; DefaultOptions enables reuse.
	ReuseIndex bool
}

// DefaultOptions returns the default parse options.
func DefaultOptions() *Options {
	return &Options{
		Mode:         ModeAuto,
		MemoryBudget: DefaultMemoryBudget,
		ReuseIndex:   true,
	}
}

// HeapDump is the read-only query surface over a parsed dump, identical for
// both backings. Lookup misses return zero values, never errors; methods
// that return errors report ErrClosed after Close.
type HeapDump interface {
	// Header returns the dump file header.
	Header() Header
	// Classes returns all class definitions ordered by dense class id.
	Classes() []*HeapClass
	// GCRoots returns all GC roots in file order.
	GCRoots() []GCRoot
	ClassCount() int
	ObjectCount() int
	// ClassByName resolves an internal slash-form name (java/lang/String).
	// Dot-qualified names never match.
	ClassByName(name string) (*HeapClass, bool)
	ClassByID(id ClassID) (*HeapClass, bool)
	ObjectByID(id ObjectID) (*HeapObject, bool)
	// ObjectsOfClass returns the ids of every object whose class has the
	// given internal name, ascending by id.
	ObjectsOfClass(name string) []ObjectID
	// EachObject visits every object ordered by dense id until fn returns
	// false.
	EachObject(fn func(*HeapObject) bool) error
	// InstanceSize sums DeclaredInstanceSize over the class's ancestor
	// chain. Returns 0 for unknown ids.
	InstanceSize(id ClassID) uint32
	// InboundCount returns how many objects reference id. The first inbound
	// query triggers the lazy reverse-index build.
	InboundCount(id ObjectID) (int, error)
	// InboundRefs returns the ids of the objects referencing id, ascending.
	InboundRefs(id ObjectID) ([]ObjectID, error)
	// Close releases file handles. Further queries fail or return zeros.
	Close() error
}

// Parse opens, scans and indexes a heap dump, returning a closable HeapDump.
// Format errors abort the parse; no partial result is ever returned.
func Parse(ctx context.Context, path string, opts *Options) (HeapDump, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	budget := opts.MemoryBudget
	if budget <= 0 {
		budget = DefaultMemoryBudget
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat heap dump: %w", err)
	}

	mode := opts.Mode
	if mode == ModeAuto {
		if info.Size() <= budget {
			mode = ModeInMemory
		} else {
			mode = ModeIndexed
		}
	}
	debugf(opts.Logger, "parsing %s in %s mode (%d bytes)", path, mode, info.Size())

	switch mode {
	case ModeInMemory:
		return parseInMemory(ctx, path, opts)
	case ModeIndexed:
		return parseIndexed(ctx, path, info, opts)
	default:
		return nil, fmt.Errorf("unknown parsing mode %d", mode)
	}
}

// debugf logs through the optional logger.
func debugf(logger utils.Logger, format string, args ...interface{}) {
	if logger != nil {
		logger.Debug(format, args...)
	}
}
