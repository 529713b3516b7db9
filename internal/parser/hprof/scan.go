package hprof

import (
	"context"
	"fmt"
	"io"
)

// rawField is a declared instance field before its name string is resolved.
type rawField struct {
	nameID uint64
	typ    BasicType
}

// rawClass is a fully parsed CLASS_DUMP body, still keyed by native
// addresses and string ids.
type rawClass struct {
	addr           uint64
	superAddr      uint64
	instanceSize   uint32
	fields         []rawField
	staticRefAddrs []uint64 // non-zero OBJECT-typed static field values, declaration order
}

// rawRoot is a parsed GC-root sub-record, still keyed by native address.
type rawRoot struct {
	kind             GCRootKind
	addr             uint64
	threadSerial     uint32
	frameIndex       int32
	stackTraceSerial uint32
	jniRefID         uint64
}

// scanHooks receive decoded records during one forward scan. A nil hook
// skips the corresponding payload without allocation: Pass 1 sets only the
// address-bearing hooks, the in-memory builder sets everything. The scanner
// owns framing; hooks never touch the reader.
type scanHooks struct {
	onString    func(id uint64, s string) error
	onLoadClass func(classAddr, nameID uint64) error
	onClass     func(c *rawClass) error

	// onInstance receives the payload offset and size always; payload bytes
	// only when wantPayload is set.
	onInstance  func(addr, classAddr uint64, payloadOff int64, dataSize uint32, payload []byte) error
	wantPayload bool

	// onObjectArray receives element addresses only when wantElements is set.
	onObjectArray func(addr, classAddr uint64, payloadOff int64, count uint32, elems []uint64) error
	wantElements  bool

	onPrimArray func(addr uint64, elemType BasicType, count uint32, payloadOff int64) error
	onRoot      func(r rawRoot) error
}

// scanRecords walks every top-level record from the current position to EOF,
// dispatching heap-dump segments through the hooks. Unknown top-level tags
// are skipped by their declared length; unknown heap sub-tags abort the scan
// because their width is unknowable and the cursor would desynchronize.
func scanRecords(ctx context.Context, r *Reader, hooks *scanHooks) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tag, _, length, err := r.ReadRecordHeader()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch tag {
		case TagString:
			if err := scanStringRecord(r, length, hooks); err != nil {
				return err
			}
		case TagLoadClass:
			if err := scanLoadClassRecord(r, hooks); err != nil {
				return err
			}
		case TagHeapDump, TagHeapDumpSegment:
			if err := scanHeapSegment(ctx, r, length, hooks); err != nil {
				return err
			}
		case TagHeapDumpEnd:
			// Marks the end of a segmented dump; body is empty but the
			// declared length is honored anyway.
			if err := r.Skip(int64(length)); err != nil {
				return err
			}
		default:
			// Unknown and irrelevant top-level records are length-prefixed,
			// so skipping them is always safe.
			if err := r.Skip(int64(length)); err != nil {
				return err
			}
		}
	}
}

// scanStringRecord parses a UTF8 record.
func scanStringRecord(r *Reader, length uint32, hooks *scanHooks) error {
	id, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	strLen := int(length) - r.IDSize()
	if strLen < 0 {
		return fmt.Errorf("%w: string record length %d shorter than id", ErrInvalidFormat, length)
	}

	if hooks.onString == nil {
		return r.Skip(int64(strLen))
	}
	strBytes, err := r.ReadBytes(strLen)
	if err != nil {
		return truncated(err)
	}
	return hooks.onString(id, string(strBytes))
}

// scanLoadClassRecord parses a LOAD_CLASS record, mapping the class object
// address to its name string id.
func scanLoadClassRecord(r *Reader, hooks *scanHooks) error {
	// Class serial number (unused).
	if _, err := r.ReadUint32(); err != nil {
		return truncated(err)
	}

	classAddr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	// Stack trace serial number (unused).
	if _, err := r.ReadUint32(); err != nil {
		return truncated(err)
	}

	nameID, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	if hooks.onLoadClass != nil {
		return hooks.onLoadClass(classAddr, nameID)
	}
	return nil
}

// scanHeapSegment walks sub-records until the declared segment length is
// consumed.
func scanHeapSegment(ctx context.Context, r *Reader, length uint32, hooks *scanHooks) error {
	end := r.Position() + int64(length)

	for r.Position() < end {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tagByte, err := r.ReadByte()
		if err != nil {
			return truncated(err)
		}

		switch tag := HeapDumpTag(tagByte); tag {
		case HeapTagClassDump:
			err = scanClassDump(r, hooks)
		case HeapTagInstanceDump:
			err = scanInstanceDump(r, hooks)
		case HeapTagObjectArrayDump:
			err = scanObjectArrayDump(r, hooks)
		case HeapTagPrimitiveArrayDump:
			err = scanPrimitiveArrayDump(r, hooks)
		case HeapTagRootUnknown, HeapTagRootJNIGlobal, HeapTagRootJNILocal,
			HeapTagRootJavaFrame, HeapTagRootNativeStack, HeapTagRootStickyClass,
			HeapTagRootThreadBlock, HeapTagRootMonitorUsed, HeapTagRootThreadObject:
			err = scanGCRoot(r, tag, hooks)
		default:
			return fmt.Errorf("%w: unknown heap dump sub-tag 0x%02X at offset %d",
				ErrInvalidFormat, tagByte, r.Position()-1)
		}
		if err != nil {
			return err
		}
	}

	if r.Position() != end {
		return fmt.Errorf("%w: heap segment overran declared length by %d bytes",
			ErrInvalidFormat, r.Position()-end)
	}
	return nil
}

// scanClassDump parses a CLASS_DUMP body. The body is fully walked even
// when no hook is set: constant pool, static fields and field declarations
// are self-describing and must be consumed to keep the cursor framed.
func scanClassDump(r *Reader, hooks *scanHooks) error {
	idSize := r.IDSize()

	classAddr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	// Stack trace serial number.
	if _, err := r.ReadUint32(); err != nil {
		return truncated(err)
	}

	superAddr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	// Class loader, signers, protection domain, two reserved ids. All
	// informational only.
	if err := r.Skip(int64(idSize * 5)); err != nil {
		return err
	}

	instanceSize, err := r.ReadUint32()
	if err != nil {
		return truncated(err)
	}

	// Constant pool entries: value width determined by type, content unused.
	cpCount, err := r.ReadUint16()
	if err != nil {
		return truncated(err)
	}
	for i := 0; i < int(cpCount); i++ {
		if _, err := r.ReadUint16(); err != nil { // pool index
			return truncated(err)
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return truncated(err)
		}
		if err := r.SkipValue(BasicType(typeByte)); err != nil {
			return err
		}
	}

	var c *rawClass
	if hooks.onClass != nil {
		c = &rawClass{addr: classAddr, superAddr: superAddr, instanceSize: instanceSize}
	}

	// Static fields carry values; OBJECT-typed non-zero values become
	// references held by the class.
	staticCount, err := r.ReadUint16()
	if err != nil {
		return truncated(err)
	}
	for i := 0; i < int(staticCount); i++ {
		if _, err := r.ReadID(); err != nil { // field name id
			return truncated(err)
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return truncated(err)
		}
		t := BasicType(typeByte)
		if t == TypeObject {
			refAddr, err := r.ReadID()
			if err != nil {
				return truncated(err)
			}
			if c != nil && refAddr != 0 {
				c.staticRefAddrs = append(c.staticRefAddrs, refAddr)
			}
		} else {
			if err := r.SkipValue(t); err != nil {
				return err
			}
		}
	}

	// Instance field declarations: name + type only, values live in each
	// INSTANCE_DUMP payload.
	fieldCount, err := r.ReadUint16()
	if err != nil {
		return truncated(err)
	}
	for i := 0; i < int(fieldCount); i++ {
		nameID, err := r.ReadID()
		if err != nil {
			return truncated(err)
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return truncated(err)
		}
		t := BasicType(typeByte)
		if BasicTypeSize(t, idSize) == 0 {
			return fmt.Errorf("%w: unknown basic type %d in field declaration", ErrInvalidFormat, t)
		}
		if c != nil {
			c.fields = append(c.fields, rawField{nameID: nameID, typ: t})
		}
	}

	if c != nil {
		return hooks.onClass(c)
	}
	return nil
}

// scanInstanceDump parses an INSTANCE_DUMP sub-record.
func scanInstanceDump(r *Reader, hooks *scanHooks) error {
	addr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	// Stack trace serial number.
	if _, err := r.ReadUint32(); err != nil {
		return truncated(err)
	}

	classAddr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	dataSize, err := r.ReadUint32()
	if err != nil {
		return truncated(err)
	}

	payloadOff := r.Position()
	var payload []byte
	if hooks.onInstance != nil && hooks.wantPayload && dataSize > 0 {
		payload, err = r.ReadBytes(int(dataSize))
		if err != nil {
			return truncated(err)
		}
	} else if err := r.Skip(int64(dataSize)); err != nil {
		return err
	}

	if hooks.onInstance != nil {
		return hooks.onInstance(addr, classAddr, payloadOff, dataSize, payload)
	}
	return nil
}

// scanObjectArrayDump parses an OBJ_ARRAY_DUMP sub-record.
func scanObjectArrayDump(r *Reader, hooks *scanHooks) error {
	idSize := r.IDSize()

	addr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	// Stack trace serial number.
	if _, err := r.ReadUint32(); err != nil {
		return truncated(err)
	}

	count, err := r.ReadUint32()
	if err != nil {
		return truncated(err)
	}

	classAddr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	payloadOff := r.Position()
	var elems []uint64
	if hooks.onObjectArray != nil && hooks.wantElements && count > 0 {
		elems = make([]uint64, count)
		for i := range elems {
			if elems[i], err = r.ReadID(); err != nil {
				return truncated(err)
			}
		}
	} else if err := r.Skip(int64(count) * int64(idSize)); err != nil {
		return err
	}

	if hooks.onObjectArray != nil {
		return hooks.onObjectArray(addr, classAddr, payloadOff, count, elems)
	}
	return nil
}

// scanPrimitiveArrayDump parses a PRIM_ARRAY_DUMP sub-record.
func scanPrimitiveArrayDump(r *Reader, hooks *scanHooks) error {
	addr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	// Stack trace serial number.
	if _, err := r.ReadUint32(); err != nil {
		return truncated(err)
	}

	count, err := r.ReadUint32()
	if err != nil {
		return truncated(err)
	}

	typeByte, err := r.ReadByte()
	if err != nil {
		return truncated(err)
	}
	elemType := BasicType(typeByte)
	elemSize := BasicTypeSize(elemType, r.IDSize())
	if elemSize == 0 {
		return fmt.Errorf("%w: unknown primitive array element type %d", ErrInvalidFormat, elemType)
	}

	payloadOff := r.Position()
	if err := r.Skip(int64(count) * int64(elemSize)); err != nil {
		return err
	}

	if hooks.onPrimArray != nil {
		return hooks.onPrimArray(addr, elemType, count, payloadOff)
	}
	return nil
}

// scanGCRoot parses one of the nine fixed GC-root shapes.
func scanGCRoot(r *Reader, tag HeapDumpTag, hooks *scanHooks) error {
	addr, err := r.ReadID()
	if err != nil {
		return truncated(err)
	}

	root := rawRoot{addr: addr}
	switch tag {
	case HeapTagRootUnknown:
		root.kind = RootUnknown
	case HeapTagRootStickyClass:
		root.kind = RootStickyClass
	case HeapTagRootMonitorUsed:
		root.kind = RootMonitorUsed
	case HeapTagRootJNIGlobal:
		root.kind = RootJNIGlobal
		if root.jniRefID, err = r.ReadID(); err != nil {
			return truncated(err)
		}
	case HeapTagRootJNILocal:
		root.kind = RootJNILocal
		if root.threadSerial, err = r.ReadUint32(); err != nil {
			return truncated(err)
		}
	case HeapTagRootThreadBlock:
		root.kind = RootThreadBlock
		if root.threadSerial, err = r.ReadUint32(); err != nil {
			return truncated(err)
		}
	case HeapTagRootNativeStack:
		root.kind = RootNativeStack
		if root.threadSerial, err = r.ReadUint32(); err != nil {
			return truncated(err)
		}
	case HeapTagRootJavaFrame:
		root.kind = RootJavaFrame
		if root.threadSerial, err = r.ReadUint32(); err != nil {
			return truncated(err)
		}
		frame, err := r.ReadUint32()
		if err != nil {
			return truncated(err)
		}
		root.frameIndex = int32(frame)
	case HeapTagRootThreadObject:
		root.kind = RootThreadObject
		if root.threadSerial, err = r.ReadUint32(); err != nil {
			return truncated(err)
		}
		if root.stackTraceSerial, err = r.ReadUint32(); err != nil {
			return truncated(err)
		}
	}

	if hooks.onRoot != nil {
		return hooks.onRoot(root)
	}
	return nil
}
