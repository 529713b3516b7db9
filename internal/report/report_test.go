package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heap-analysis/internal/parser/hprof"
	"github.com/heap-analysis/pkg/model"
	"github.com/heap-analysis/pkg/utils"
)

// fakeDump is a scripted HeapDump backing for report tests.
type fakeDump struct {
	header  hprof.Header
	classes []*hprof.HeapClass
	objects []*hprof.HeapObject
	roots   []hprof.GCRoot
	sizes   map[hprof.ClassID]uint32
}

func (d *fakeDump) Header() hprof.Header { return d.header }
func (d *fakeDump) Classes() []*hprof.HeapClass { return d.classes }
func (d *fakeDump) GCRoots() []hprof.GCRoot { return d.roots }
func (d *fakeDump) ClassCount() int { return len(d.classes) }
func (d *fakeDump) ObjectCount() int { return len(d.objects) }

func (d *fakeDump) ClassByName(name string) (*hprof.HeapClass, bool) {
	for _, cls := range d.classes {
		if cls.Name == name {
			return cls, true
		}
	}
	return nil, false
}

func (d *fakeDump) ClassByID(id hprof.ClassID) (*hprof.HeapClass, bool) {
	for _, cls := range d.classes {
		if cls.ID == id {
			return cls, true
		}
	}
	return nil, false
}

func (d *fakeDump) ObjectByID(id hprof.ObjectID) (*hprof.HeapObject, bool) {
	for _, obj := range d.objects {
		if obj.ID == id {
			return obj, true
		}
	}
	return nil, false
}

func (d *fakeDump) ObjectsOfClass(name string) []hprof.ObjectID {
	cls, ok := d.ClassByName(name)
	if !ok {
		return nil
	}
	var ids []hprof.ObjectID
	for _, obj := range d.objects {
		if obj.ClassID == cls.ID {
			ids = append(ids, obj.ID)
		}
	}
	return ids
}

func (d *fakeDump) EachObject(fn func(*hprof.HeapObject) bool) error {
	for _, obj := range d.objects {
		if !fn(obj) {
			break
		}
	}
	return nil
}

func (d *fakeDump) InstanceSize(id hprof.ClassID) uint32 {
	return d.sizes[id]
}

func (d *fakeDump) InboundCount(id hprof.ObjectID) (int, error) { return 0, nil }
func (d *fakeDump) InboundRefs(id hprof.ObjectID) ([]hprof.ObjectID, error) { return nil, nil }
func (d *fakeDump) Close() error { return nil }

func newFakeDump() *fakeDump {
	return &fakeDump{
		header: hprof.Header{
			Format:    "JAVA PROFILE 1.0.2",
			IDSize:    8,
			Timestamp: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		},
		classes: []*hprof.HeapClass{
			{ID: 0, Name: "java/lang/Object"},
			{ID: 1, Name: "java/lang/String"},
			{ID: 2, Name: "[Ljava/lang/String;"},
		},
		sizes: map[hprof.ClassID]uint32{0: 16, 1: 24},
		objects: []*hprof.HeapObject{
			{ID: 0, ClassID: 1, Kind: hprof.KindInstance},
			{ID: 1, ClassID: 1, Kind: hprof.KindInstance},
			{ID: 2, ClassID: 1, Kind: hprof.KindInstance},
			{ID: 3, ClassID: 2, Kind: hprof.KindObjectArray, ArrayLength: 4},
			{ID: 4, ClassID: hprof.NoClass, Kind: hprof.KindPrimitiveArray, ElemType: hprof.TypeByte, ArrayLength: 100},
			{ID: 5, ClassID: hprof.NoClass, Kind: hprof.KindPrimitiveArray, ElemType: hprof.TypeByte, ArrayLength: 28},
		},
		roots: []hprof.GCRoot{
			{Kind: hprof.RootStickyClass},
			{Kind: hprof.RootStickyClass},
			{Kind: hprof.RootThreadObject, HasObject: true, ObjectID: 0},
		},
	}
}

func TestBuilder_Build(t *testing.T) {
	dump := newFakeDump()
	builder := NewBuilder(nil)

	summary, err := builder.Build(dump, "/data/app.hprof", 4096, "in-memory", nil)
	require.NoError(t, err)

	assert.Equal(t, "/data/app.hprof", summary.DumpPath)
	assert.Equal(t, int64(4096), summary.FileSize)
	assert.Equal(t, uint32(8), summary.IDSize)
	assert.Equal(t, dump.header.Timestamp, summary.Timestamp)
	assert.Equal(t, "in-memory", summary.ParseMode)
	assert.Equal(t, 3, summary.ClassCount)
	assert.Equal(t, 6, summary.ObjectCount)
	assert.Equal(t, 3, summary.GCRootCount)
	assert.Equal(t, map[string]int{
		"STICKY_CLASS":  2,
		"THREAD_OBJECT": 1,
	}, summary.GCRoots)
	assert.False(t, summary.AnalyzedAt.IsZero())
	assert.Nil(t, summary.Timings)

	require.Len(t, summary.TopClasses, 3)
	// 128 bytes of byte[] beat 72 bytes of String beat the 32 byte array.
	assert.Equal(t, model.ClassStat{Name: "byte[]", Instances: 2, InstanceSize: 1, ShallowSize: 128}, summary.TopClasses[0])
	assert.Equal(t, model.ClassStat{Name: "java/lang/String", Instances: 3, InstanceSize: 24, ShallowSize: 72}, summary.TopClasses[1])
	assert.Equal(t, model.ClassStat{Name: "[Ljava/lang/String;", Instances: 1, InstanceSize: 0, ShallowSize: 32}, summary.TopClasses[2])
}

func TestBuilder_Build_TopNBounds(t *testing.T) {
	dump := newFakeDump()
	builder := NewBuilder(&Options{TopN: 1})

	summary, err := builder.Build(dump, "/data/app.hprof", 4096, "indexed", nil)
	require.NoError(t, err)

	require.Len(t, summary.TopClasses, 1)
	assert.Equal(t, "byte[]", summary.TopClasses[0].Name)
}

func TestBuilder_Build_Timings(t *testing.T) {
	timer := utils.NewTimer("analysis")
	timer.Start("parse")
	timer.StopPhase("parse")

	dump := newFakeDump()
	summary, err := NewBuilder(nil).Build(dump, "/data/app.hprof", 4096, "auto", timer)
	require.NoError(t, err)

	require.NotNil(t, summary.Timings)
	assert.Contains(t, summary.Timings, "phases")
}

func TestPrimitiveArrayName(t *testing.T) {
	assert.Equal(t, "byte[]", PrimitiveArrayName(hprof.TypeByte))
	assert.Equal(t, "boolean[]", PrimitiveArrayName(hprof.TypeBoolean))
	assert.Equal(t, "long[]", PrimitiveArrayName(hprof.TypeLong))
	assert.Equal(t, "<primitive>[]", PrimitiveArrayName(hprof.BasicType(99)))
}

func TestWriteJSON(t *testing.T) {
	dump := newFakeDump()
	summary, err := NewBuilder(nil).Build(dump, "/data/app.hprof", 4096, "in-memory", nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "summary.json")
	require.NoError(t, WriteJSON(summary, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded model.DumpSummary
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, summary.DumpPath, decoded.DumpPath)
	assert.Equal(t, summary.ObjectCount, decoded.ObjectCount)
	assert.Len(t, decoded.TopClasses, 3)
}
