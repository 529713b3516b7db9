package hprof

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// On-disk object index: a flat array of fixed-width little-endian records,
// directly addressable by dense id. The layout is a private cache format;
// the only contract is that the same engine version reads what it wrote.
//
//	offset  0  u32  object id (record's own dense id, integrity check)
//	offset  4  u64  payload offset in the source file
//	offset 12  u32  payload size in bytes
//	offset 16  i32  dense class id (-1 for primitive arrays)
//	offset 20  i32  element count (-1 for non-arrays)
//	offset 24  u8   flags
//	offset 25  u8   primitive element type (0 otherwise)
//	offset 26  u16  reserved
const (
	objectRecordWidth = 28

	flagObjectArray    = 1
	flagPrimitiveArray = 2
)

const (
	indexDirSuffix   = ".idx"
	objectIndexName  = "objects.idx"
	inboundIndexName = "inbound.idx"
)

// indexDir returns the index directory path for a dump file:
// <dumpPath>.idx alongside the source.
func indexDir(dumpPath string) string {
	return dumpPath + indexDirSuffix
}

// IndexDirFor returns the directory the indexed backing uses to persist
// index files for the given dump path.
func IndexDirFor(dumpPath string) string {
	return indexDir(dumpPath)
}

// collectAddresses is Pass 1: a forward scan harvesting every heap-object
// native address. CLASS_DUMP bodies and GC roots are walked structurally by
// the scanner but produce nothing here. The result is sorted ascending and
// deduplicated; the dense id of an address is its rank in that order, so
// ids never depend on on-file record order.
func collectAddresses(ctx context.Context, r *Reader) ([]uint64, error) {
	var addrs []uint64
	appendAddr := func(addr uint64) {
		addrs = append(addrs, addr)
	}

	hooks := &scanHooks{
		onInstance: func(addr, _ uint64, _ int64, _ uint32, _ []byte) error {
			appendAddr(addr)
			return nil
		},
		onObjectArray: func(addr, _ uint64, _ int64, _ uint32, _ []uint64) error {
			appendAddr(addr)
			return nil
		},
		onPrimArray: func(addr uint64, _ BasicType, _ uint32, _ int64) error {
			appendAddr(addr)
			return nil
		},
	}
	if err := scanRecords(ctx, r, hooks); err != nil {
		return nil, err
	}

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	// A dump may carry duplicate records for one address; one id each.
	dedup := addrs[:0]
	for i, a := range addrs {
		if i == 0 || a != addrs[i-1] {
			dedup = append(dedup, a)
		}
	}
	return dedup, nil
}

// addrRank resolves a native address to its dense id by binary search over
// the sorted Pass-1 address list.
func addrRank(addrs []uint64, addr uint64) (ObjectID, bool) {
	i := sort.Search(len(addrs), func(i int) bool { return addrs[i] >= addr })
	if i < len(addrs) && addrs[i] == addr {
		return ObjectID(i), true
	}
	return 0, false
}

// indexWriter writes fixed-width records into objects.idx at offsets
// computed from the dense id, making the finished file a flat array.
type indexWriter struct {
	f   *os.File
	buf [objectRecordWidth]byte
}

func (w *indexWriter) writeRecord(id ObjectID, fileOffset int64, dataSize uint32, classID ClassID, elementCount int32, flags uint8, elemType BasicType) error {
	b := w.buf[:]
	binary.LittleEndian.PutUint32(b[0:], uint32(id))
	binary.LittleEndian.PutUint64(b[4:], uint64(fileOffset))
	binary.LittleEndian.PutUint32(b[12:], dataSize)
	binary.LittleEndian.PutUint32(b[16:], uint32(classID))
	binary.LittleEndian.PutUint32(b[20:], uint32(elementCount))
	b[24] = flags
	b[25] = byte(elemType)
	b[26] = 0
	b[27] = 0
	if _, err := w.f.WriteAt(b, int64(id)*objectRecordWidth); err != nil {
		return fmt.Errorf("write index record %d: %w", id, err)
	}
	return nil
}

// buildSchemaAndIndex is Pass 2: a second forward scan that parses class
// schema, strings and GC roots into memory and, when w is non-nil, writes
// one index record per heap object. With w nil (index reuse) the scan still
// runs for the in-memory side but skips all index writes.
func buildSchemaAndIndex(ctx context.Context, r *Reader, s *schema, addrs []uint64, w *indexWriter) ([]rawRoot, error) {
	idSize := r.IDSize()
	var roots []rawRoot

	hooks := &scanHooks{
		onString: func(id uint64, v string) error {
			s.addString(id, v)
			return nil
		},
		onLoadClass: func(classAddr, nameID uint64) error {
			s.addLoadClass(classAddr, nameID)
			return nil
		},
		onClass: func(c *rawClass) error {
			s.addClass(c)
			return nil
		},
		onRoot: func(rt rawRoot) error {
			roots = append(roots, rt)
			return nil
		},
	}
	if w != nil {
		hooks.onInstance = func(addr, classAddr uint64, payloadOff int64, dataSize uint32, _ []byte) error {
			id, ok := addrRank(addrs, addr)
			if !ok {
				return fmt.Errorf("%w: object 0x%x missing from address collection", ErrInvalidFormat, addr)
			}
			return w.writeRecord(id, payloadOff, dataSize, s.classID(classAddr), -1, 0, 0)
		}
		hooks.onObjectArray = func(addr, classAddr uint64, payloadOff int64, count uint32, _ []uint64) error {
			id, ok := addrRank(addrs, addr)
			if !ok {
				return fmt.Errorf("%w: object array 0x%x missing from address collection", ErrInvalidFormat, addr)
			}
			dataSize := count * uint32(idSize)
			return w.writeRecord(id, payloadOff, dataSize, s.classID(classAddr), int32(count), flagObjectArray, 0)
		}
		hooks.onPrimArray = func(addr uint64, elemType BasicType, count uint32, payloadOff int64) error {
			id, ok := addrRank(addrs, addr)
			if !ok {
				return fmt.Errorf("%w: primitive array 0x%x missing from address collection", ErrInvalidFormat, addr)
			}
			dataSize := count * uint32(BasicTypeSize(elemType, idSize))
			return w.writeRecord(id, payloadOff, dataSize, NoClass, int32(count), flagPrimitiveArray, elemType)
		}
	}

	if err := scanRecords(ctx, r, hooks); err != nil {
		return nil, err
	}
	return roots, nil
}

// canReuseObjectIndex implements the staleness rule: an existing objects.idx
// is trusted only when it is at least as new as the source file and its size
// matches the Pass-1 object count exactly. Anything else forces a rebuild.
func canReuseObjectIndex(path string, srcInfo os.FileInfo, objectCount int) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.ModTime().Before(srcInfo.ModTime()) {
		return false
	}
	return info.Size() == int64(objectCount)*objectRecordWidth
}

// writeObjectIndex runs Pass 2 with index writes into a temp file and
// renames it into place, so a crashed build never leaves a plausible-looking
// partial index behind.
func writeObjectIndex(ctx context.Context, r *Reader, s *schema, addrs []uint64, dir string) ([]rawRoot, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, objectIndexName+".tmp*")
	if err != nil {
		return nil, fmt.Errorf("create object index: %w", err)
	}
	defer os.Remove(tmp.Name())

	// Pre-size so every record lands inside the file even when WriteAt
	// jumps around by dense id.
	if err := tmp.Truncate(int64(len(addrs)) * objectRecordWidth); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("size object index: %w", err)
	}

	roots, err := buildSchemaAndIndex(ctx, r, s, addrs, &indexWriter{f: tmp})
	if err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close object index: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, objectIndexName)); err != nil {
		return nil, fmt.Errorf("install object index: %w", err)
	}
	return roots, nil
}
