package hprof

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/heap-analysis/pkg/utils"
)

// parseIndexed builds or reuses the on-disk object index and returns a dump
// that answers queries from fixed-width metadata plus on-demand payload
// re-reads of the source file.
func parseIndexed(ctx context.Context, path string, srcInfo os.FileInfo, opts *Options) (HeapDump, error) {
	timer := utils.NewTimer("hprof parse (indexed)",
		utils.WithLogger(opts.Logger), utils.WithEnabled(opts.Logger != nil))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open heap dump: %w", err)
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	reader := NewReader(f)
	header, err := reader.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	recordsStart := reader.Position()

	var addrs []uint64
	pt := timer.Start("pass 1: collect addresses")
	addrs, err = collectAddresses(ctx, reader)
	pt.Stop()
	if err != nil {
		return nil, fmt.Errorf("address collection failed: %w", err)
	}

	dir := indexDir(path)
	objPath := filepath.Join(dir, objectIndexName)
	reuse := opts.ReuseIndex && canReuseObjectIndex(objPath, srcInfo, len(addrs))
	debugf(opts.Logger, "object index reuse=%v (%d objects)", reuse, len(addrs))

	if err := reader.Seek(recordsStart); err != nil {
		return nil, err
	}

	s := newSchema(header.IDSize)
	var rawRoots []rawRoot
	pt = timer.Start("pass 2: build schema and index")
	if reuse {
		rawRoots, err = buildSchemaAndIndex(ctx, reader, s, addrs, nil)
	} else {
		rawRoots, err = writeObjectIndex(ctx, reader, s, addrs, dir)
	}
	pt.Stop()
	if err != nil {
		return nil, fmt.Errorf("index build failed: %w", err)
	}
	s.resolve()

	ix, err := openObjectIndex(objPath)
	if err != nil {
		return nil, err
	}
	if ix.entryCount() != len(addrs) {
		ix.Close()
		return nil, fmt.Errorf("%w: %d index entries for %d objects", errIndexCorrupt, ix.entryCount(), len(addrs))
	}

	d := &indexedDump{
		path:       path,
		dir:        dir,
		f:          f,
		srcModTime: srcInfo.ModTime(),
		header:     header,
		schema:     s,
		addrs:      addrs,
		ix:         ix,
		logger:     opts.Logger,
		reuseIndex: opts.ReuseIndex,
	}
	timer.TimeFunc("resolve roots", func() {
		d.finalize(rawRoots)
	})
	timer.PrintSummary()
	ok = true
	return d, nil
}

// indexedDump is the disk-backed HeapDump backing. Class schema, GC roots
// and the sorted address list stay in memory; per-object metadata lives in
// objects.idx and payload bytes are re-read from the source file.
type indexedDump struct {
	path       string
	dir        string
	f          *os.File
	srcModTime time.Time
	header     *Header
	schema     *schema
	addrs      []uint64 // sorted; dense id = rank
	ix         *objectIndex
	roots      []GCRoot
	byName     map[string]*HeapClass
	logger     utils.Logger
	reuseIndex bool

	classObjectsOnce sync.Once
	classObjects     map[ClassID][]ObjectID
	classObjectsErr  error

	inboundOnce sync.Once
	inbound     *inboundIndex
	inboundErr  error

	rebuildOnce sync.Once
	rebuildErr  error

	mu     sync.RWMutex
	closed bool
}

func (d *indexedDump) finalize(rawRoots []rawRoot) {
	d.byName = make(map[string]*HeapClass, len(d.schema.classes))
	for _, c := range d.schema.classes {
		if c.Name == "" {
			continue
		}
		if _, exists := d.byName[c.Name]; !exists {
			d.byName[c.Name] = c
		}
	}

	for i, c := range d.schema.classes {
		for _, addr := range d.schema.staticAddrs[i] {
			if oid, found := addrRank(d.addrs, addr); found {
				c.StaticFieldRefs = append(c.StaticFieldRefs, oid)
			}
		}
	}

	d.roots = make([]GCRoot, len(rawRoots))
	for i, r := range rawRoots {
		root := GCRoot{
			Kind:             r.kind,
			Addr:             r.addr,
			ThreadSerial:     r.threadSerial,
			FrameIndex:       r.frameIndex,
			StackTraceSerial: r.stackTraceSerial,
			JNIRefID:         r.jniRefID,
		}
		if oid, found := addrRank(d.addrs, r.addr); found {
			root.ObjectID = oid
			root.HasObject = true
		}
		d.roots[i] = root
	}
}

func (d *indexedDump) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// readPayload re-reads an object's payload bytes from the source file.
func (d *indexedDump) readPayload(e *objectEntry) ([]byte, error) {
	if e.dataSize == 0 {
		return nil, nil
	}
	buf := make([]byte, e.dataSize)
	if _, err := d.f.ReadAt(buf, e.fileOffset); err != nil {
		return nil, fmt.Errorf("read payload at %d: %w", e.fileOffset, err)
	}
	return buf, nil
}

// outboundRefs decodes an object's references exactly as the in-memory
// builder does, from a fresh payload read.
func (d *indexedDump) outboundRefs(e *objectEntry) ([]ObjectID, error) {
	switch {
	case e.isPrimitiveArray():
		return nil, nil
	case e.isObjectArray():
		data, err := d.readPayload(e)
		if err != nil {
			return nil, err
		}
		idSize := d.header.IDSize
		var refs []ObjectID
		for off := 0; off+idSize <= len(data); off += idSize {
			var addr uint64
			if idSize == 4 {
				addr = uint64(binary.BigEndian.Uint32(data[off:]))
			} else {
				addr = binary.BigEndian.Uint64(data[off:])
			}
			if addr == 0 {
				continue
			}
			if oid, found := addrRank(d.addrs, addr); found {
				refs = append(refs, oid)
			}
		}
		return refs, nil
	default:
		if e.classID == NoClass || e.dataSize == 0 {
			return nil, nil
		}
		data, err := d.readPayload(e)
		if err != nil {
			return nil, err
		}
		addrs := d.schema.instanceRefAddrs(e.classID, data)
		if len(addrs) == 0 {
			return nil, nil
		}
		refs := make([]ObjectID, 0, len(addrs))
		for _, addr := range addrs {
			if oid, found := addrRank(d.addrs, addr); found {
				refs = append(refs, oid)
			}
		}
		return refs, nil
	}
}

// recoverIndex rebuilds objects.idx from the source file after a corrupt
// record was detected, then swaps the fresh index in. A reused index can be
// stale in ways the size/modtime check cannot see; rebuilding from the
// source is always safe because the address list came from the same file.
func (d *indexedDump) recoverIndex() {
	debugf(d.logger, "object index corrupt, rebuilding")

	src, err := os.Open(d.path)
	if err != nil {
		d.rebuildErr = fmt.Errorf("reopen heap dump: %w", err)
		return
	}
	defer src.Close()

	reader := NewReader(src)
	if _, err := reader.ReadHeader(); err != nil {
		d.rebuildErr = err
		return
	}
	s := newSchema(d.header.IDSize)
	if _, err := writeObjectIndex(context.Background(), reader, s, d.addrs, d.dir); err != nil {
		d.rebuildErr = err
		return
	}

	ix, err := openObjectIndex(filepath.Join(d.dir, objectIndexName))
	if err != nil {
		d.rebuildErr = err
		return
	}
	if ix.entryCount() != len(d.addrs) {
		ix.Close()
		d.rebuildErr = fmt.Errorf("%w: %d index entries for %d objects", errIndexCorrupt, ix.entryCount(), len(d.addrs))
		return
	}
	old := d.ix
	d.ix = ix
	old.Close()
}

// materialize builds a HeapObject from its index record and payload.
func (d *indexedDump) materialize(id ObjectID) (*HeapObject, error) {
	e, err := d.ix.readObject(id)
	if errors.Is(err, errIndexCorrupt) {
		d.rebuildOnce.Do(d.recoverIndex)
		if d.rebuildErr != nil {
			return nil, d.rebuildErr
		}
		e, err = d.ix.readObject(id)
	}
	if err != nil {
		return nil, err
	}
	obj := &HeapObject{
		ID:      id,
		ClassID: e.classID,
		addr:    d.addrs[id],
	}
	switch {
	case e.isObjectArray():
		obj.Kind = KindObjectArray
		obj.ArrayLength = int(e.elementCount)
	case e.isPrimitiveArray():
		obj.Kind = KindPrimitiveArray
		obj.ArrayLength = int(e.elementCount)
		obj.ElemType = e.elemType
	default:
		obj.Kind = KindInstance
	}
	if obj.Refs, err = d.outboundRefs(&e); err != nil {
		return nil, err
	}
	return obj, nil
}

func (d *indexedDump) Header() Header {
	if d.isClosed() {
		return Header{}
	}
	return *d.header
}

func (d *indexedDump) Classes() []*HeapClass {
	if d.isClosed() {
		return nil
	}
	return d.schema.classes
}

func (d *indexedDump) GCRoots() []GCRoot {
	if d.isClosed() {
		return nil
	}
	return d.roots
}

func (d *indexedDump) ClassCount() int {
	if d.isClosed() {
		return 0
	}
	return len(d.schema.classes)
}

func (d *indexedDump) ObjectCount() int {
	if d.isClosed() {
		return 0
	}
	return len(d.addrs)
}

func (d *indexedDump) ClassByName(name string) (*HeapClass, bool) {
	if d.isClosed() {
		return nil, false
	}
	c, found := d.byName[name]
	return c, found
}

func (d *indexedDump) ClassByID(id ClassID) (*HeapClass, bool) {
	if d.isClosed() || id < 0 || int(id) >= len(d.schema.classes) {
		return nil, false
	}
	return d.schema.classes[id], true
}

func (d *indexedDump) ObjectByID(id ObjectID) (*HeapObject, bool) {
	if d.isClosed() || int(id) >= len(d.addrs) {
		return nil, false
	}
	obj, err := d.materialize(id)
	if err != nil {
		debugf(d.logger, "materialize object %d: %v", id, err)
		return nil, false
	}
	return obj, true
}

func (d *indexedDump) ObjectsOfClass(name string) []ObjectID {
	if d.isClosed() {
		return nil
	}
	c, found := d.byName[name]
	if !found {
		return nil
	}
	d.classObjectsOnce.Do(d.buildClassObjects)
	if d.classObjectsErr != nil {
		debugf(d.logger, "class object scan: %v", d.classObjectsErr)
		return nil
	}
	return d.classObjects[c.ID]
}

// buildClassObjects sweeps the metadata records once; payloads are not
// touched.
func (d *indexedDump) buildClassObjects() {
	m := make(map[ClassID][]ObjectID)
	for id := 0; id < len(d.addrs); id++ {
		e, err := d.ix.readObject(ObjectID(id))
		if err != nil {
			d.classObjectsErr = err
			return
		}
		if e.classID == NoClass {
			continue
		}
		m[e.classID] = append(m[e.classID], ObjectID(id))
	}
	d.classObjects = m
}

func (d *indexedDump) EachObject(fn func(*HeapObject) bool) error {
	if d.isClosed() {
		return ErrClosed
	}
	for id := 0; id < len(d.addrs); id++ {
		obj, err := d.materialize(ObjectID(id))
		if err != nil {
			return err
		}
		if !fn(obj) {
			return nil
		}
	}
	return nil
}

func (d *indexedDump) InstanceSize(id ClassID) uint32 {
	if d.isClosed() {
		return 0
	}
	return d.schema.totalInstanceSize(id)
}

// ensureInbound builds or opens inbound.idx on first demand. A present,
// non-stale, well-formed file is reused; anything else is rebuilt from the
// object index.
func (d *indexedDump) ensureInbound() {
	path := filepath.Join(d.dir, inboundIndexName)

	if d.reuseIndex {
		if info, err := os.Stat(path); err == nil && !info.ModTime().Before(d.srcModTime) {
			ib, err := openInboundIndex(path, len(d.addrs))
			if err == nil {
				d.inbound = ib
				return
			}
			debugf(d.logger, "inbound index rebuild: %v", err)
		}
	}

	_, err := buildInboundIndex(d.dir, len(d.addrs), func(emit func(source, target ObjectID)) error {
		for id := 0; id < len(d.addrs); id++ {
			e, err := d.ix.readObject(ObjectID(id))
			if err != nil {
				return err
			}
			refs, err := d.outboundRefs(&e)
			if err != nil {
				return err
			}
			for _, target := range refs {
				emit(ObjectID(id), target)
			}
		}
		return nil
	})
	if err != nil {
		d.inboundErr = err
		return
	}
	d.inbound, d.inboundErr = openInboundIndex(path, len(d.addrs))
}

func (d *indexedDump) InboundCount(id ObjectID) (int, error) {
	if d.isClosed() {
		return 0, ErrClosed
	}
	if int(id) >= len(d.addrs) {
		return 0, nil
	}
	d.inboundOnce.Do(d.ensureInbound)
	if d.inboundErr != nil {
		return 0, d.inboundErr
	}
	return d.inbound.count(id), nil
}

func (d *indexedDump) InboundRefs(id ObjectID) ([]ObjectID, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	if int(id) >= len(d.addrs) {
		return nil, nil
	}
	d.inboundOnce.Do(d.ensureInbound)
	if d.inboundErr != nil {
		return nil, d.inboundErr
	}
	return d.inbound.refs(id)
}

func (d *indexedDump) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	err := d.f.Close()
	if cerr := d.ix.Close(); err == nil {
		err = cerr
	}
	if d.inbound != nil {
		if cerr := d.inbound.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
