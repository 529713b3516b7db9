package hprof

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/heap-analysis/pkg/utils"
)

// pendingObject buffers one heap-object record until the scan completes and
// every address can be resolved to a dense id.
type pendingObject struct {
	addr      uint64
	classAddr uint64
	kind      ObjectKind
	payload   []byte   // instance field data
	elems     []uint64 // object array element addresses
	count     int
	elemType  BasicType
}

// parseInMemory materializes the complete graph from a single forward scan.
// Dense object ids follow record observation order; references are resolved
// after the scan, so record order relative to CLASS_DUMPs never matters.
func parseInMemory(ctx context.Context, path string, opts *Options) (HeapDump, error) {
	timer := utils.NewTimer("hprof parse (in-memory)",
		utils.WithLogger(opts.Logger), utils.WithEnabled(opts.Logger != nil))

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open heap dump: %w", err)
	}
	defer f.Close()

	reader := NewReader(f)
	header, err := reader.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	s := newSchema(header.IDSize)
	var (
		pending  []pendingObject
		addrToID = make(map[uint64]ObjectID)
		rawRoots []rawRoot
	)

	addObject := func(p pendingObject) {
		if _, seen := addrToID[p.addr]; seen {
			return // duplicate record for one address keeps the first
		}
		addrToID[p.addr] = ObjectID(len(pending))
		pending = append(pending, p)
	}

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
		wantPayload: true,
		onInstance: func(addr, classAddr uint64, _ int64, _ uint32, payload []byte) error {
			addObject(pendingObject{addr: addr, classAddr: classAddr, kind: KindInstance, payload: payload})
			return nil
		},
		wantElements: true,
		onObjectArray: func(addr, classAddr uint64, _ int64, count uint32, elems []uint64) error {
			addObject(pendingObject{addr: addr, classAddr: classAddr, kind: KindObjectArray, elems: elems, count: int(count)})
			return nil
		},
		onPrimArray: func(addr uint64, elemType BasicType, count uint32, _ int64) error {
			addObject(pendingObject{addr: addr, kind: KindPrimitiveArray, count: int(count), elemType: elemType})
			return nil
		},
		onRoot: func(r rawRoot) error {
			rawRoots = append(rawRoots, r)
			return nil
		},
	}

	pt := timer.Start("scan records")
	if err := scanRecords(ctx, reader, hooks); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}
	pt.Stop()

	d := &memoryDump{header: header, schema: s, addrToID: addrToID}
	timer.TimeFunc("build graph", func() {
		d.finalize(pending, rawRoots)
	})
	timer.PrintSummary()
	return d, nil
}

// memoryDump is the in-memory HeapDump backing. All state is immutable
// after finalize, so concurrent reads need no locking; only the lazy
// secondary indexes use sync.Once.
type memoryDump struct {
	header   *Header
	schema   *schema
	objects  []*HeapObject
	addrToID map[uint64]ObjectID
	roots    []GCRoot
	byName   map[string]*HeapClass

	classObjectsOnce sync.Once
	classObjects     map[ClassID][]ObjectID

	inboundOnce sync.Once
	inbound     [][]ObjectID

	mu     sync.RWMutex
	closed bool
}

func (d *memoryDump) finalize(pending []pendingObject, rawRoots []rawRoot) {
	d.schema.resolve()

	d.byName = make(map[string]*HeapClass, len(d.schema.classes))
	for _, c := range d.schema.classes {
		if c.Name == "" {
			continue
		}
		if _, exists := d.byName[c.Name]; !exists {
			d.byName[c.Name] = c
		}
	}

	// Static field references resolve against the final object set;
	// addresses with no object record are dropped.
	for i, c := range d.schema.classes {
		for _, addr := range d.schema.staticAddrs[i] {
			if oid, ok := d.addrToID[addr]; ok {
				c.StaticFieldRefs = append(c.StaticFieldRefs, oid)
			}
		}
	}

	d.objects = make([]*HeapObject, len(pending))
	for i, p := range pending {
		obj := &HeapObject{
			ID:   ObjectID(i),
			Kind: p.kind,
			addr: p.addr,
		}
		switch p.kind {
		case KindInstance:
			obj.ClassID = d.schema.classID(p.classAddr)
			obj.Refs = d.resolveAddrs(d.schema.instanceRefAddrs(obj.ClassID, p.payload))
		case KindObjectArray:
			obj.ClassID = d.schema.classID(p.classAddr)
			obj.ArrayLength = p.count
			obj.Refs = d.resolveAddrs(p.elems)
		case KindPrimitiveArray:
			obj.ClassID = NoClass
			obj.ArrayLength = p.count
			obj.ElemType = p.elemType
		}
		d.objects[i] = obj
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
		if oid, ok := d.addrToID[r.addr]; ok {
			root.ObjectID = oid
			root.HasObject = true
		}
		d.roots[i] = root
	}
}

// resolveAddrs maps native addresses to dense ids, dropping addresses that
// never appeared as an object record.
func (d *memoryDump) resolveAddrs(addrs []uint64) []ObjectID {
	if len(addrs) == 0 {
		return nil
	}
	refs := make([]ObjectID, 0, len(addrs))
	for _, addr := range addrs {
		if oid, ok := d.addrToID[addr]; ok {
			refs = append(refs, oid)
		}
	}
	return refs
}

func (d *memoryDump) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

func (d *memoryDump) Header() Header {
	if d.isClosed() {
		return Header{}
	}
	return *d.header
}

func (d *memoryDump) Classes() []*HeapClass {
	if d.isClosed() {
		return nil
	}
	return d.schema.classes
}

func (d *memoryDump) GCRoots() []GCRoot {
	if d.isClosed() {
		return nil
	}
	return d.roots
}

func (d *memoryDump) ClassCount() int {
	if d.isClosed() {
		return 0
	}
	return len(d.schema.classes)
}

func (d *memoryDump) ObjectCount() int {
	if d.isClosed() {
		return 0
	}
	return len(d.objects)
}

func (d *memoryDump) ClassByName(name string) (*HeapClass, bool) {
	if d.isClosed() {
		return nil, false
	}
	c, ok := d.byName[name]
	return c, ok
}

func (d *memoryDump) ClassByID(id ClassID) (*HeapClass, bool) {
	if d.isClosed() || id < 0 || int(id) >= len(d.schema.classes) {
		return nil, false
	}
	return d.schema.classes[id], true
}

func (d *memoryDump) ObjectByID(id ObjectID) (*HeapObject, bool) {
	if d.isClosed() || int(id) >= len(d.objects) {
		return nil, false
	}
	return d.objects[id], true
}

func (d *memoryDump) ObjectsOfClass(name string) []ObjectID {
	if d.isClosed() {
		return nil
	}
	c, ok := d.byName[name]
	if !ok {
		return nil
	}
	d.classObjectsOnce.Do(d.buildClassObjects)
	return d.classObjects[c.ID]
}

func (d *memoryDump) buildClassObjects() {
	d.classObjects = make(map[ClassID][]ObjectID)
	for _, obj := range d.objects {
		if obj.ClassID == NoClass {
			continue
		}
		d.classObjects[obj.ClassID] = append(d.classObjects[obj.ClassID], obj.ID)
	}
}

func (d *memoryDump) EachObject(fn func(*HeapObject) bool) error {
	if d.isClosed() {
		return ErrClosed
	}
	for _, obj := range d.objects {
		if !fn(obj) {
			return nil
		}
	}
	return nil
}

func (d *memoryDump) InstanceSize(id ClassID) uint32 {
	if d.isClosed() {
		return 0
	}
	return d.schema.totalInstanceSize(id)
}

func (d *memoryDump) InboundCount(id ObjectID) (int, error) {
	if d.isClosed() {
		return 0, ErrClosed
	}
	if int(id) >= len(d.objects) {
		return 0, nil
	}
	d.inboundOnce.Do(d.buildInbound)
	return len(d.inbound[id]), nil
}

func (d *memoryDump) InboundRefs(id ObjectID) ([]ObjectID, error) {
	if d.isClosed() {
		return nil, ErrClosed
	}
	if int(id) >= len(d.objects) {
		return nil, nil
	}
	d.inboundOnce.Do(d.buildInbound)
	return d.inbound[id], nil
}

// buildInbound inverts every outbound edge. Sources end up ascending per
// target because objects are walked in id order.
func (d *memoryDump) buildInbound() {
	inbound := make([][]ObjectID, len(d.objects))
	for _, obj := range d.objects {
		for _, target := range obj.Refs {
			inbound[target] = append(inbound[target], obj.ID)
		}
	}
	d.inbound = inbound
}

func (d *memoryDump) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
