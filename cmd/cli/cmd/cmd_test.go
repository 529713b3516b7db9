package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heap-analysis/internal/parser/hprof"
	"github.com/heap-analysis/internal/testutil"
)

func TestParseParsingMode(t *testing.T) {
	tests := []struct {
		input   string
		want    hprof.ParsingMode
		wantErr bool
	}{
		{"", hprof.ModeAuto, false},
		{"auto", hprof.ModeAuto, false},
		{"memory", hprof.ModeInMemory, false},
		{"in-memory", hprof.ModeInMemory, false},
		{"Indexed", hprof.ModeIndexed, false},
		{"streaming", 0, true},
	}
	for _, tt := range tests {
		mode, err := parseParsingMode(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, mode, "input %q", tt.input)
	}
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.0 KiB", humanBytes(1024))
	assert.Equal(t, "1.5 MiB", humanBytes(3<<20/2))
	assert.Equal(t, "2.0 GiB", humanBytes(2<<30))
}

func TestKindName(t *testing.T) {
	assert.Equal(t, "instance", kindName(&hprof.HeapObject{Kind: hprof.KindInstance}))
	assert.Equal(t, "object array[3]", kindName(&hprof.HeapObject{Kind: hprof.KindObjectArray, ArrayLength: 3}))
	assert.Equal(t, "primitive array[16]", kindName(&hprof.HeapObject{Kind: hprof.KindPrimitiveArray, ArrayLength: 16}))
}

func TestFormatIDs(t *testing.T) {
	assert.Equal(t, "[1 2 3]", formatIDs([]hprof.ObjectID{1, 2, 3}, 8))
	assert.Equal(t, "[1 2]...", formatIDs([]hprof.ObjectID{1, 2, 3}, 2))
}

func TestRootConfigLoading(t *testing.T) {
	dir := t.TempDir()
	configs := testutil.CreateDir(t, dir, "configs")
	path := testutil.WriteFile(t, configs, "config.yaml", []byte(`
analysis:
  mode: indexed
  memory_budget_mb: 256
log:
  level: warn
`))

	oldCfgFile, oldVerbose := cfgFile, verbose
	defer func() { cfgFile, verbose = oldCfgFile, oldVerbose }()
	cfgFile = path
	verbose = false

	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	require.NotNil(t, cfg)
	assert.Equal(t, "indexed", cfg.Analysis.Mode)
	assert.Equal(t, int64(256), cfg.Analysis.MemoryBudgetMB)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, testutil.FileExists(t, path))
	require.NotNil(t, GetLogger())
}
