package hprof

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// inbound.idx layout (little-endian), CSR over the reverse edge set:
//
//	u32          object count n
//	(n+1) × u64  per-target offsets into the source-id region, in entries;
//	             target t's sources live at [offsets[t], offsets[t+1])
//	m × u32      source dense ids, ascending within each target
//
// Counts are derived from adjacent offsets, so no separate count table is
// stored.

// inboundIndex is a reader over inbound.idx. Offsets stay in memory; source
// ids are read from disk per query.
type inboundIndex struct {
	f       *os.File
	offsets []uint64 // length n+1
}

// openInboundIndex opens and validates an inbound index. The declared entry
// count must match the dump's object count and the file size must account
// for every offset and source id; anything else is corruption and the
// caller rebuilds.
func openInboundIndex(path string, objectCount int) (*inboundIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inbound index: %w", err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	var head [4]byte
	if _, err := io.ReadFull(br, head[:]); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: short inbound header", errIndexCorrupt)
	}
	n := int(binary.LittleEndian.Uint32(head[:]))
	if n != objectCount {
		f.Close()
		return nil, fmt.Errorf("%w: inbound index covers %d objects, dump has %d", errIndexCorrupt, n, objectCount)
	}

	offsets := make([]uint64, n+1)
	var buf [8]byte
	for i := range offsets {
		if _, err := io.ReadFull(br, buf[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: short inbound offset table", errIndexCorrupt)
		}
		offsets[i] = binary.LittleEndian.Uint64(buf[:])
		if i > 0 && offsets[i] < offsets[i-1] {
			f.Close()
			return nil, fmt.Errorf("%w: inbound offsets not monotonic", errIndexCorrupt)
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat inbound index: %w", err)
	}
	want := inboundHeaderSize(n) + int64(offsets[n])*4
	if info.Size() != want {
		f.Close()
		return nil, fmt.Errorf("%w: inbound index size %d, want %d", errIndexCorrupt, info.Size(), want)
	}

	return &inboundIndex{f: f, offsets: offsets}, nil
}

func inboundHeaderSize(n int) int64 {
	return 4 + int64(n+1)*8
}

func (x *inboundIndex) count(id ObjectID) int {
	if int(id) >= len(x.offsets)-1 {
		return 0
	}
	return int(x.offsets[id+1] - x.offsets[id])
}

func (x *inboundIndex) refs(id ObjectID) ([]ObjectID, error) {
	n := x.count(id)
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n*4)
	off := inboundHeaderSize(len(x.offsets)-1) + int64(x.offsets[id])*4
	if _, err := x.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read inbound refs for %d: %w", id, err)
	}
	refs := make([]ObjectID, n)
	for i := range refs {
		refs[i] = ObjectID(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return refs, nil
}

func (x *inboundIndex) Close() error {
	return x.f.Close()
}

// buildInboundIndex derives every outbound edge through eachEdges, inverts
// the set and persists it. Edges are packed target-major into one slice and
// sorted, which yields the CSR layout directly with sources ascending per
// target. Written to a temp file and renamed into place.
func buildInboundIndex(dir string, objectCount int, eachEdges func(emit func(source, target ObjectID)) error) (string, error) {
	var edges []uint64
	err := eachEdges(func(source, target ObjectID) {
		edges = append(edges, uint64(target)<<32|uint64(source))
	})
	if err != nil {
		return "", err
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })

	offsets := make([]uint64, objectCount+1)
	for _, e := range edges {
		offsets[int(e>>32)+1]++
	}
	for i := 1; i < len(offsets); i++ {
		offsets[i] += offsets[i-1]
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, inboundIndexName+".tmp*")
	if err != nil {
		return "", fmt.Errorf("create inbound index: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriterSize(tmp, 64*1024)
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(objectCount))
	if _, err := w.Write(buf[:4]); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write inbound header: %w", err)
	}
	for _, off := range offsets {
		binary.LittleEndian.PutUint64(buf[:], off)
		if _, err := w.Write(buf[:]); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write inbound offsets: %w", err)
		}
	}
	for _, e := range edges {
		binary.LittleEndian.PutUint32(buf[:4], uint32(e))
		if _, err := w.Write(buf[:4]); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write inbound sources: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("flush inbound index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close inbound index: %w", err)
	}

	path := filepath.Join(dir, inboundIndexName)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("install inbound index: %w", err)
	}
	return path, nil
}
