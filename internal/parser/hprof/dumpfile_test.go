package hprof

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// dumpBuilder assembles a syntactically valid HPROF file in memory for
// tests. String and LOAD_CLASS records are emitted as they are declared;
// heap sub-records accumulate into a single HEAP_DUMP_SEGMENT flushed by
// build.
type dumpBuilder struct {
	records bytes.Buffer
	seg     bytes.Buffer

	idSize    int
	stringIDs map[string]uint64
	nextID    uint64
}

type declField struct {
	name string
	typ  BasicType
}

type staticField struct {
	name  string
	typ   BasicType
	value uint64
}

func newDumpBuilder() *dumpBuilder {
	return &dumpBuilder{
		idSize:    8,
		stringIDs: make(map[string]uint64),
		nextID:    0xA000,
	}
}

func (b *dumpBuilder) be16(w *bytes.Buffer, v uint16) { binary.Write(w, binary.BigEndian, v) }
func (b *dumpBuilder) be32(w *bytes.Buffer, v uint32) { binary.Write(w, binary.BigEndian, v) }
func (b *dumpBuilder) be64(w *bytes.Buffer, v uint64) { binary.Write(w, binary.BigEndian, v) }

func (b *dumpBuilder) writeID(w *bytes.Buffer, v uint64) {
	if b.idSize == 4 {
		b.be32(w, uint32(v))
		return
	}
	b.be64(w, v)
}

func (b *dumpBuilder) record(tag RecordTag, body []byte) {
	b.records.WriteByte(byte(tag))
	b.be32(&b.records, 0) // time delta
	b.be32(&b.records, uint32(len(body)))
	b.records.Write(body)
}

// stringID interns a UTF8 record and returns its id.
func (b *dumpBuilder) stringID(s string) uint64 {
	if id, ok := b.stringIDs[s]; ok {
		return id
	}
	b.nextID++
	id := b.nextID
	b.stringIDs[s] = id

	var body bytes.Buffer
	b.writeID(&body, id)
	body.WriteString(s)
	b.record(TagString, body.Bytes())
	return id
}

// loadClass binds a class address to an internal slash-form name.
func (b *dumpBuilder) loadClass(classAddr uint64, name string) {
	nameID := b.stringID(name)
	var body bytes.Buffer
	b.be32(&body, 1) // class serial
	b.writeID(&body, classAddr)
	b.be32(&body, 0) // stack trace serial
	b.writeID(&body, nameID)
	b.record(TagLoadClass, body.Bytes())
}

// classDump emits a CLASS_DUMP sub-record with an empty constant pool.
func (b *dumpBuilder) classDump(classAddr, superAddr uint64, instanceSize uint32, statics []staticField, fields []declField) {
	b.seg.WriteByte(byte(HeapTagClassDump))
	b.writeID(&b.seg, classAddr)
	b.be32(&b.seg, 0) // stack trace serial
	b.writeID(&b.seg, superAddr)
	for i := 0; i < 5; i++ { // loader, signers, protection domain, 2 reserved
		b.writeID(&b.seg, 0)
	}
	b.be32(&b.seg, instanceSize)
	b.be16(&b.seg, 0) // constant pool
	b.be16(&b.seg, uint16(len(statics)))
	for _, sf := range statics {
		b.writeID(&b.seg, b.stringID(sf.name))
		b.seg.WriteByte(byte(sf.typ))
		b.writeValue(sf.typ, sf.value)
	}
	b.be16(&b.seg, uint16(len(fields)))
	for _, f := range fields {
		b.writeID(&b.seg, b.stringID(f.name))
		b.seg.WriteByte(byte(f.typ))
	}
}

func (b *dumpBuilder) writeValue(t BasicType, v uint64) {
	switch BasicTypeSize(t, b.idSize) {
	case 1:
		b.seg.WriteByte(byte(v))
	case 2:
		b.be16(&b.seg, uint16(v))
	case 4:
		b.be32(&b.seg, uint32(v))
	default:
		b.be64(&b.seg, v)
	}
}

// instanceDump emits an INSTANCE_DUMP with raw payload bytes.
func (b *dumpBuilder) instanceDump(addr, classAddr uint64, data []byte) {
	b.seg.WriteByte(byte(HeapTagInstanceDump))
	b.writeID(&b.seg, addr)
	b.be32(&b.seg, 0)
	b.writeID(&b.seg, classAddr)
	b.be32(&b.seg, uint32(len(data)))
	b.seg.Write(data)
}

// fieldBytes encodes instance payload values in order, each widened as its
// declared type requires.
func (b *dumpBuilder) fieldBytes(values ...interface{}) []byte {
	var buf bytes.Buffer
	for _, v := range values {
		switch x := v.(type) {
		case uint64: // object reference / long
			b.be64(&buf, x)
		case uint32:
			b.be32(&buf, x)
		case uint16:
			b.be16(&buf, x)
		case byte:
			buf.WriteByte(x)
		default:
			panic("unsupported field value type")
		}
	}
	return buf.Bytes()
}

func (b *dumpBuilder) objectArrayDump(addr, classAddr uint64, elems []uint64) {
	b.seg.WriteByte(byte(HeapTagObjectArrayDump))
	b.writeID(&b.seg, addr)
	b.be32(&b.seg, 0)
	b.be32(&b.seg, uint32(len(elems)))
	b.writeID(&b.seg, classAddr)
	for _, e := range elems {
		b.writeID(&b.seg, e)
	}
}

func (b *dumpBuilder) primArrayDump(addr uint64, typ BasicType, count int) {
	b.seg.WriteByte(byte(HeapTagPrimitiveArrayDump))
	b.writeID(&b.seg, addr)
	b.be32(&b.seg, 0)
	b.be32(&b.seg, uint32(count))
	b.seg.WriteByte(byte(typ))
	b.seg.Write(make([]byte, count*BasicTypeSize(typ, b.idSize)))
}

func (b *dumpBuilder) rootUnknown(addr uint64) {
	b.seg.WriteByte(byte(HeapTagRootUnknown))
	b.writeID(&b.seg, addr)
}

func (b *dumpBuilder) rootJNIGlobal(addr, refID uint64) {
	b.seg.WriteByte(byte(HeapTagRootJNIGlobal))
	b.writeID(&b.seg, addr)
	b.writeID(&b.seg, refID)
}

func (b *dumpBuilder) rootJavaFrame(addr uint64, threadSerial uint32, frame int32) {
	b.seg.WriteByte(byte(HeapTagRootJavaFrame))
	b.writeID(&b.seg, addr)
	b.be32(&b.seg, threadSerial)
	b.be32(&b.seg, uint32(frame))
}

func (b *dumpBuilder) rootThreadObject(addr uint64, threadSerial, stackTraceSerial uint32) {
	b.seg.WriteByte(byte(HeapTagRootThreadObject))
	b.writeID(&b.seg, addr)
	b.be32(&b.seg, threadSerial)
	b.be32(&b.seg, stackTraceSerial)
}

func (b *dumpBuilder) rootStickyClass(addr uint64) {
	b.seg.WriteByte(byte(HeapTagRootStickyClass))
	b.writeID(&b.seg, addr)
}

// build returns the complete file bytes: header, accumulated records, the
// heap segment (if any) and a HEAP_DUMP_END terminator.
func (b *dumpBuilder) build() []byte {
	var out bytes.Buffer
	out.WriteString(hprofMagic)
	out.WriteByte(0)
	b.be32(&out, uint32(b.idSize))
	b.be64(&out, 1700000000000)

	out.Write(b.records.Bytes())
	if b.seg.Len() > 0 {
		out.WriteByte(byte(TagHeapDumpSegment))
		b.be32(&out, 0)
		b.be32(&out, uint32(b.seg.Len()))
		out.Write(b.seg.Bytes())
	}
	out.WriteByte(byte(TagHeapDumpEnd))
	b.be32(&out, 0)
	b.be32(&out, 0)
	return out.Bytes()
}

// writeFile writes the dump into a temp dir and returns its path.
func (b *dumpBuilder) writeFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.hprof")
	require.NoError(t, os.WriteFile(path, b.build(), 0o644))
	return path
}

// buildChainDump emits the four-object reference chain A→B→C→D used by
// several tests: one class with a single "next" object field.
func buildChainDump() *dumpBuilder {
	b := newDumpBuilder()
	const classNode = 0x100
	b.loadClass(classNode, "com/example/Node")
	b.classDump(classNode, 0, 8, nil, []declField{{"next", TypeObject}})
	b.instanceDump(0x1001, classNode, b.fieldBytes(uint64(0x1002))) // A -> B
	b.instanceDump(0x1002, classNode, b.fieldBytes(uint64(0x1003))) // B -> C
	b.instanceDump(0x1003, classNode, b.fieldBytes(uint64(0x1004))) // C -> D
	b.instanceDump(0x1004, classNode, b.fieldBytes(uint64(0)))      // D -> null
	b.rootUnknown(0x1001)
	return b
}
