package hprof

import (
	"encoding/binary"
	"fmt"
	"os"
)

// objectEntry is one decoded metadata record from objects.idx.
type objectEntry struct {
	objectID     uint32
	fileOffset   int64
	dataSize     uint32
	classID      ClassID
	elementCount int32
	flags        uint8
	elemType     BasicType
}

func (e *objectEntry) isArray() bool          { return e.flags != 0 }
func (e *objectEntry) isObjectArray() bool    { return e.flags == flagObjectArray }
func (e *objectEntry) isPrimitiveArray() bool { return e.flags == flagPrimitiveArray }

// objectIndex is a random-access reader over objects.idx. The file is a
// flat array of fixed-width records, so a dense id resolves to its metadata
// with a single positioned read.
type objectIndex struct {
	f     *os.File
	count int
}

func openObjectIndex(path string) (*objectIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open object index: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat object index: %w", err)
	}
	if info.Size()%objectRecordWidth != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: size %d not a record multiple", errIndexCorrupt, info.Size())
	}
	return &objectIndex{f: f, count: int(info.Size() / objectRecordWidth)}, nil
}

func (ix *objectIndex) entryCount() int {
	return ix.count
}

// readObject decodes the record for a dense id. The stored id must match
// the requested one; a mismatch means the file was not produced by this
// build and is treated as corruption.
func (ix *objectIndex) readObject(id ObjectID) (objectEntry, error) {
	var buf [objectRecordWidth]byte
	if _, err := ix.f.ReadAt(buf[:], int64(id)*objectRecordWidth); err != nil {
		return objectEntry{}, fmt.Errorf("read index record %d: %w", id, err)
	}

	e := objectEntry{
		objectID:     binary.LittleEndian.Uint32(buf[0:]),
		fileOffset:   int64(binary.LittleEndian.Uint64(buf[4:])),
		dataSize:     binary.LittleEndian.Uint32(buf[12:]),
		classID:      ClassID(binary.LittleEndian.Uint32(buf[16:])),
		elementCount: int32(binary.LittleEndian.Uint32(buf[20:])),
		flags:        buf[24],
		elemType:     BasicType(buf[25]),
	}
	if e.objectID != uint32(id) {
		return objectEntry{}, fmt.Errorf("%w: record %d carries id %d", errIndexCorrupt, id, e.objectID)
	}
	return e, nil
}

func (ix *objectIndex) Close() error {
	return ix.f.Close()
}
