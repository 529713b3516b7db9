// Package hprof parses Java HPROF heap dump files into a queryable object graph.
package hprof

import "time"

// RecordTag represents the type of a top-level record in HPROF format.
type RecordTag uint8

const (
	TagString          RecordTag = 0x01
	TagLoadClass       RecordTag = 0x02
	TagUnloadClass     RecordTag = 0x03
	TagStackFrame      RecordTag = 0x04
	TagStackTrace      RecordTag = 0x05
	TagAllocSites      RecordTag = 0x06
	TagHeapSummary     RecordTag = 0x07
	TagStartThread     RecordTag = 0x0A
	TagEndThread       RecordTag = 0x0B
	TagHeapDump        RecordTag = 0x0C
	TagHeapDumpSegment RecordTag = 0x1C
	TagHeapDumpEnd     RecordTag = 0x2C
	TagCPUSamples      RecordTag = 0x0D
	TagControlSettings RecordTag = 0x0E
)

// HeapDumpTag represents sub-tags within a heap dump record.
type HeapDumpTag uint8

const (
	HeapTagRootUnknown        HeapDumpTag = 0xFF
	HeapTagRootJNIGlobal      HeapDumpTag = 0x01
	HeapTagRootJNILocal       HeapDumpTag = 0x02
	HeapTagRootJavaFrame      HeapDumpTag = 0x03
	HeapTagRootNativeStack    HeapDumpTag = 0x04
	HeapTagRootStickyClass    HeapDumpTag = 0x05
	HeapTagRootThreadBlock    HeapDumpTag = 0x06
	HeapTagRootMonitorUsed    HeapDumpTag = 0x07
	HeapTagRootThreadObject   HeapDumpTag = 0x08
	HeapTagClassDump          HeapDumpTag = 0x20
	HeapTagInstanceDump       HeapDumpTag = 0x21
	HeapTagObjectArrayDump    HeapDumpTag = 0x22
	HeapTagPrimitiveArrayDump HeapDumpTag = 0x23
)

// BasicType represents Java primitive value types as encoded in HPROF.
type BasicType uint8

const (
	TypeObject  BasicType = 2
	TypeBoolean BasicType = 4
	TypeChar    BasicType = 5
	TypeFloat   BasicType = 6
	TypeDouble  BasicType = 7
	TypeByte    BasicType = 8
	TypeShort   BasicType = 9
	TypeInt     BasicType = 10
	TypeLong    BasicType = 11
)

// BasicTypeSize returns the size in bytes for a basic type.
// Returns 0 for unknown type codes; callers treat that as a format error.
func BasicTypeSize(t BasicType, idSize int) int {
	switch t {
	case TypeObject:
		return idSize
	case TypeBoolean, TypeByte:
		return 1
	case TypeChar, TypeShort:
		return 2
	case TypeFloat, TypeInt:
		return 4
	case TypeDouble, TypeLong:
		return 8
	default:
		return 0
	}
}

// Header represents the HPROF file header.
type Header struct {
	Format    string    // always "JAVA PROFILE 1.0.2"
	IDSize    int       // size of native identifiers (4 or 8 bytes)
	Timestamp time.Time // dump creation time
}

// ObjectID is a dense sequential identifier assigned to a heap object for
// the lifetime of one parse. It replaces the 64-bit native address found in
// the file so indexes stay compact and directly addressable.
type ObjectID uint32

// ClassID is a dense sequential identifier assigned to a class definition.
type ClassID int32

// NoClass marks the absence of a class: the superclass of a root class, or
// the class slot of a primitive array (primitive arrays have no real heap
// class in this model, only an element-type tag).
const NoClass ClassID = -1

// Field describes one declared instance field of a class.
type Field struct {
	Name string
	Type BasicType
}

// HeapClass is a class definition read from a CLASS_DUMP sub-record.
// Name is the JVM-internal slash-delimited form (java/lang/String); dotted
// names are never produced or accepted.
type HeapClass struct {
	ID           ClassID
	Name         string
	SuperClassID ClassID
	// DeclaredInstanceSize counts the bytes of this class's own declared
	// fields only; a derived class's full instance size is the sum over its
	// ancestor chain.
	DeclaredInstanceSize uint32
	Fields               []Field
	// StaticFieldRefs holds the objects referenced by OBJECT-typed static
	// fields with non-null values, in declaration order.
	StaticFieldRefs []ObjectID

	addr      uint64 // native class address
	superAddr uint64
}

// ObjectKind distinguishes the three heap object shapes.
type ObjectKind uint8

const (
	KindInstance ObjectKind = iota
	KindObjectArray
	KindPrimitiveArray
)

// HeapObject is one heap object: a plain instance, an object array, or a
// primitive array. Instances carry references extracted from OBJECT-typed
// declared fields walking the superclass chain root-first; object arrays
// carry the non-null elements in array order; primitive arrays carry none.
type HeapObject struct {
	ID          ObjectID
	ClassID     ClassID // NoClass for primitive arrays
	Kind        ObjectKind
	ArrayLength int
	ElemType    BasicType // set for primitive arrays only
	Refs        []ObjectID

	addr uint64 // native address, kept for diagnostics
}

// IsArray reports whether the object is an object or primitive array.
func (o *HeapObject) IsArray() bool {
	return o.Kind == KindObjectArray || o.Kind == KindPrimitiveArray
}

// IsPrimitiveArray reports whether the object is a primitive array.
func (o *HeapObject) IsPrimitiveArray() bool {
	return o.Kind == KindPrimitiveArray
}

// PrimitiveArrayType returns the element type of a primitive array, or 0
// for other object kinds.
func (o *HeapObject) PrimitiveArrayType() BasicType {
	if o.Kind != KindPrimitiveArray {
		return 0
	}
	return o.ElemType
}

// References returns the outbound references of the object. The slice is
// owned by the HeapDump and must not be modified.
func (o *HeapObject) References() []ObjectID {
	return o.Refs
}

// GCRootKind identifies one of the nine standard GC root kinds.
type GCRootKind string

const (
	RootUnknown      GCRootKind = "UNKNOWN"
	RootJNIGlobal    GCRootKind = "JNI_GLOBAL"
	RootJNILocal     GCRootKind = "JNI_LOCAL"
	RootJavaFrame    GCRootKind = "JAVA_FRAME"
	RootNativeStack  GCRootKind = "NATIVE_STACK"
	RootStickyClass  GCRootKind = "STICKY_CLASS"
	RootThreadBlock  GCRootKind = "THREAD_BLOCK"
	RootMonitorUsed  GCRootKind = "MONITOR_USED"
	RootThreadObject GCRootKind = "THREAD_OBJECT"
)

// GCRoot is an entry point into the object graph. ObjectID is valid only
// when HasObject is set; sticky-class roots typically target class objects,
// which are not heap objects in this model. The kind-specific fields are
// parsed but carry no invariants.
type GCRoot struct {
	Kind             GCRootKind
	Addr             uint64
	ObjectID         ObjectID
	HasObject        bool
	ThreadSerial     uint32
	FrameIndex       int32
	StackTraceSerial uint32
	JNIRefID         uint64
}
