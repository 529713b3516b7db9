// Package model defines the data structures reported by heap dump analysis.
package model

import (
	"sort"
	"time"
)

// DumpSummary is the top-level report produced for a parsed heap dump.
type DumpSummary struct {
	DumpPath    string    `json:"dump_path"`
	FileSize    int64     `json:"file_size"`
	IDSize      uint32    `json:"id_size"`
	Timestamp   time.Time `json:"timestamp"`
	ParseMode   string    `json:"parse_mode"`
	ClassCount  int       `json:"class_count"`
	ObjectCount int       `json:"object_count"`
	GCRootCount int       `json:"gc_root_count"`
	IndexDir    string    `json:"index_dir,omitempty"`

	TopClasses []ClassStat            `json:"top_classes,omitempty"`
	GCRoots    map[string]int         `json:"gc_roots,omitempty"`
	Timings    map[string]interface{} `json:"timings,omitempty"`
	AnalyzedAt time.Time              `json:"analyzed_at"`
}

// ClassStat aggregates the instances of a single class.
type ClassStat struct {
	Name         string `json:"name"`
	Instances    int    `json:"instances"`
	InstanceSize uint32 `json:"instance_size"`
	ShallowSize  uint64 `json:"shallow_size"`
}

// SortClassStats orders stats by total shallow size, largest first,
// breaking ties by instance count and then name for stable output.
func SortClassStats(stats []ClassStat) {
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].ShallowSize != stats[j].ShallowSize {
			return stats[i].ShallowSize > stats[j].ShallowSize
		}
		if stats[i].Instances != stats[j].Instances {
			return stats[i].Instances > stats[j].Instances
		}
		return stats[i].Name < stats[j].Name
	})
}

// TopClassStats returns the n largest stats after sorting.
func TopClassStats(stats []ClassStat, n int) []ClassStat {
	SortClassStats(stats)
	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}
