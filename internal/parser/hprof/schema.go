package hprof

import "encoding/binary"

// schema accumulates class definitions during a scan and resolves them into
// dense-id HeapClass values. Class ids are assigned in CLASS_DUMP
// observation order. Field layouts concatenated over the ancestor chain are
// cached per class so every instance of a class shares one immutable slice.
type schema struct {
	idSize  int
	strings map[uint64]string // UTF8 string id -> value
	nameIDs map[uint64]uint64 // class address -> name string id

	classes []*HeapClass
	byAddr  map[uint64]ClassID
	raw     []*rawClass // parallel to classes, dropped after resolve

	layouts   [][]Field // ancestor-concatenated fields, root class first
	layoutLen []int

	// staticAddrs keeps each class's OBJECT-typed static field values as
	// native addresses; the builder resolves them to dense ids once the
	// object set is known.
	staticAddrs [][]uint64
}

func newSchema(idSize int) *schema {
	return &schema{
		idSize:  idSize,
		strings: make(map[uint64]string),
		nameIDs: make(map[uint64]uint64),
		byAddr:  make(map[uint64]ClassID),
	}
}

func (s *schema) addString(id uint64, v string) {
	s.strings[id] = v
}

func (s *schema) addLoadClass(classAddr, nameID uint64) {
	s.nameIDs[classAddr] = nameID
}

// addClass registers a parsed CLASS_DUMP and assigns its dense id. A class
// address seen twice keeps its first definition.
func (s *schema) addClass(c *rawClass) ClassID {
	if id, ok := s.byAddr[c.addr]; ok {
		return id
	}
	id := ClassID(len(s.classes))
	s.byAddr[c.addr] = id
	s.classes = append(s.classes, &HeapClass{
		ID:                   id,
		SuperClassID:         NoClass,
		DeclaredInstanceSize: c.instanceSize,
		addr:                 c.addr,
		superAddr:            c.superAddr,
	})
	s.raw = append(s.raw, c)
	return id
}

// classID resolves a class address to its dense id. Returns NoClass when no
// CLASS_DUMP was seen for the address.
func (s *schema) classID(addr uint64) ClassID {
	if id, ok := s.byAddr[addr]; ok {
		return id
	}
	return NoClass
}

// resolve fills in names, superclass links and declared field lists once the
// scan has delivered every string, LOAD_CLASS and CLASS_DUMP record. Names
// keep the JVM-internal slash form exactly as stored in the dump.
func (s *schema) resolve() {
	s.staticAddrs = make([][]uint64, len(s.classes))
	for i, c := range s.classes {
		if nameID, ok := s.nameIDs[c.addr]; ok {
			c.Name = s.strings[nameID]
		}
		s.staticAddrs[i] = s.raw[i].staticRefAddrs
		if c.superAddr != 0 {
			if superID, ok := s.byAddr[c.superAddr]; ok {
				c.SuperClassID = superID
			}
		}
		rc := s.raw[i]
		if len(rc.fields) > 0 {
			c.Fields = make([]Field, len(rc.fields))
			for j, f := range rc.fields {
				c.Fields[j] = Field{Name: s.strings[f.nameID], Type: f.typ}
			}
		}
	}
	s.raw = nil
	s.layouts = make([][]Field, len(s.classes))
	s.layoutLen = make([]int, len(s.classes))
	for i := range s.layoutLen {
		s.layoutLen[i] = -1
	}
}

// layout returns the instance field layout of a class: every ancestor's
// declared fields concatenated, root class first, most-derived last. The
// returned slice is shared and must not be modified.
func (s *schema) layout(id ClassID) []Field {
	if id < 0 || int(id) >= len(s.classes) {
		return nil
	}
	if s.layoutLen[id] >= 0 {
		return s.layouts[id]
	}

	// Collect the chain most-derived first, then emit root first. The
	// length bound protects against a cyclic superclass chain in a
	// malformed dump.
	var chain []ClassID
	for cur := id; cur != NoClass && len(chain) <= len(s.classes); cur = s.classes[cur].SuperClassID {
		chain = append(chain, cur)
	}
	var fields []Field
	for i := len(chain) - 1; i >= 0; i-- {
		fields = append(fields, s.classes[chain[i]].Fields...)
	}
	s.layouts[id] = fields
	s.layoutLen[id] = len(fields)
	return fields
}

// totalInstanceSize sums declaredInstanceSize over the ancestor chain.
func (s *schema) totalInstanceSize(id ClassID) uint32 {
	var total uint32
	steps := 0
	for cur := id; cur != NoClass && int(cur) < len(s.classes); cur = s.classes[cur].SuperClassID {
		total += s.classes[cur].DeclaredInstanceSize
		if steps++; steps > len(s.classes) {
			break
		}
	}
	return total
}

// instanceRefAddrs decodes an instance payload against the class layout and
// returns the native addresses held by non-null OBJECT-typed fields, in
// field order. Non-reference fields are stepped over by width.
func (s *schema) instanceRefAddrs(id ClassID, data []byte) []uint64 {
	fields := s.layout(id)
	if len(fields) == 0 || len(data) == 0 {
		return nil
	}

	var refs []uint64
	offset := 0
	for _, f := range fields {
		width := BasicTypeSize(f.Type, s.idSize)
		if offset+width > len(data) {
			break
		}
		if f.Type == TypeObject {
			var addr uint64
			if s.idSize == 4 {
				addr = uint64(binary.BigEndian.Uint32(data[offset:]))
			} else {
				addr = binary.BigEndian.Uint64(data[offset:])
			}
			if addr != 0 {
				refs = append(refs, addr)
			}
		}
		offset += width
	}
	return refs
}
