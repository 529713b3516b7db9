package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortClassStats(t *testing.T) {
	stats := []ClassStat{
		{Name: "java/lang/String", Instances: 100, ShallowSize: 2400},
		{Name: "byte[]", Instances: 80, ShallowSize: 81920},
		{Name: "java/util/HashMap$Node", Instances: 50, ShallowSize: 1600},
	}

	SortClassStats(stats)

	assert.Equal(t, "byte[]", stats[0].Name)
	assert.Equal(t, "java/lang/String", stats[1].Name)
	assert.Equal(t, "java/util/HashMap$Node", stats[2].Name)
}

func TestSortClassStats_Ties(t *testing.T) {
	stats := []ClassStat{
		{Name: "b/B", Instances: 10, ShallowSize: 100},
		{Name: "a/A", Instances: 10, ShallowSize: 100},
		{Name: "c/C", Instances: 20, ShallowSize: 100},
	}

	SortClassStats(stats)

	// Equal size: more instances first, then lexicographic.
	assert.Equal(t, "c/C", stats[0].Name)
	assert.Equal(t, "a/A", stats[1].Name)
	assert.Equal(t, "b/B", stats[2].Name)
}

func TestTopClassStats(t *testing.T) {
	stats := []ClassStat{
		{Name: "a/A", ShallowSize: 10},
		{Name: "b/B", ShallowSize: 30},
		{Name: "c/C", ShallowSize: 20},
	}

	top := TopClassStats(stats, 2)
	require.Len(t, top, 2)
	assert.Equal(t, "b/B", top[0].Name)
	assert.Equal(t, "c/C", top[1].Name)

	// n larger than the slice returns everything
	assert.Len(t, TopClassStats(stats, 10), 3)
}

func TestDumpSummary_JSONRoundTrip(t *testing.T) {
	summary := DumpSummary{
		DumpPath:    "/data/heap.hprof",
		FileSize:    1 << 20,
		IDSize:      8,
		ParseMode:   "indexed",
		ClassCount:  42,
		ObjectCount: 1000,
		GCRootCount: 7,
		GCRoots:     map[string]int{"STICKY_CLASS": 5, "THREAD_OBJECT": 2},
		TopClasses: []ClassStat{
			{Name: "byte[]", Instances: 80, ShallowSize: 81920},
		},
	}

	data, err := json.Marshal(summary)
	require.NoError(t, err)

	var decoded DumpSummary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, summary.DumpPath, decoded.DumpPath)
	assert.Equal(t, summary.ObjectCount, decoded.ObjectCount)
	assert.Equal(t, summary.GCRoots, decoded.GCRoots)
	assert.Equal(t, summary.TopClasses, decoded.TopClasses)
}
