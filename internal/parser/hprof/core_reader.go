package hprof

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// hprofMagic is the only supported format string. Version 1.0.1 dumps differ
// in stack-trace record layout and are rejected rather than misparsed.
const hprofMagic = "JAVA PROFILE 1.0.2"

// Reader provides buffered big-endian reading of HPROF binary data over a
// seekable source, tracking the absolute file position of every read so the
// indexed builder can record payload offsets for later re-reads.
type Reader struct {
	src     io.ReadSeeker
	r       *bufio.Reader
	pos     int64
	idSize  int
	byteBuf []byte
}

// NewReader creates a new HPROF reader positioned at the start of src.
func NewReader(src io.ReadSeeker) *Reader {
	return &Reader{
		src:     src,
		r:       bufio.NewReaderSize(src, 64*1024),
		idSize:  8, // default until the header is read
		byteBuf: make([]byte, 8),
	}
}

// SetIDSize sets the identifier size (4 or 8 bytes).
func (r *Reader) SetIDSize(size int) {
	r.idSize = size
}

// IDSize returns the current identifier size.
func (r *Reader) IDSize() int {
	return r.idSize
}

// Position returns the absolute offset of the next byte to be read.
func (r *Reader) Position() int64 {
	return r.pos
}

// Seek repositions the reader at an absolute file offset, discarding any
// buffered data.
func (r *Reader) Seek(offset int64) error {
	if _, err := r.src.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("seek to %d: %w", offset, err)
	}
	r.r.Reset(r.src)
	r.pos = offset
	return nil
}

// ReadHeader reads and validates the HPROF file header.
func (r *Reader) ReadHeader() (*Header, error) {
	format, err := r.readNullTerminatedString()
	if err != nil {
		return nil, fmt.Errorf("failed to read format string: %w", err)
	}
	if format != hprofMagic {
		return nil, fmt.Errorf("%w: unsupported format string %q", ErrInvalidFormat, format)
	}

	idSize, err := r.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read ID size: %w", err)
	}
	if idSize != 4 && idSize != 8 {
		return nil, fmt.Errorf("%w: identifier size %d (want 4 or 8)", ErrInvalidFormat, idSize)
	}
	r.idSize = int(idSize)

	// Timestamp is milliseconds since epoch.
	timestamp, err := r.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("failed to read timestamp: %w", err)
	}

	return &Header{
		Format:    format,
		IDSize:    int(idSize),
		Timestamp: time.UnixMilli(int64(timestamp)),
	}, nil
}

// ReadRecordHeader reads a top-level record header (tag, time delta, body
// length). io.EOF at the tag byte means a clean end of file; a short read
// mid-header is reported as unexpected.
func (r *Reader) ReadRecordHeader() (tag RecordTag, timeDelta uint32, length uint32, err error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return 0, 0, 0, err
	}
	tag = RecordTag(tagByte)

	timeDelta, err = r.ReadUint32()
	if err != nil {
		return 0, 0, 0, truncated(err)
	}

	length, err = r.ReadUint32()
	if err != nil {
		return 0, 0, 0, truncated(err)
	}

	return tag, timeDelta, length, nil
}

// ReadByte reads a single byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err == nil {
		r.pos++
	}
	return b, err
}

// ReadBytes reads n bytes into a new slice.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	m, err := io.ReadFull(r.r, buf)
	r.pos += int64(m)
	return buf, err
}

// ReadUint16 reads a big-endian uint16.
func (r *Reader) ReadUint16() (uint16, error) {
	m, err := io.ReadFull(r.r, r.byteBuf[:2])
	r.pos += int64(m)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.byteBuf[:2]), nil
}

// ReadUint32 reads a big-endian uint32.
func (r *Reader) ReadUint32() (uint32, error) {
	m, err := io.ReadFull(r.r, r.byteBuf[:4])
	r.pos += int64(m)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.byteBuf[:4]), nil
}

// ReadUint64 reads a big-endian uint64.
func (r *Reader) ReadUint64() (uint64, error) {
	m, err := io.ReadFull(r.r, r.byteBuf[:8])
	r.pos += int64(m)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(r.byteBuf[:8]), nil
}

// ReadID reads a native identifier (size depends on header).
func (r *Reader) ReadID() (uint64, error) {
	if r.idSize == 4 {
		v, err := r.ReadUint32()
		return uint64(v), err
	}
	return r.ReadUint64()
}

// Skip skips n bytes.
func (r *Reader) Skip(n int64) error {
	m, err := r.r.Discard(int(n))
	r.pos += int64(m)
	if err != nil {
		return truncated(err)
	}
	return nil
}

// SkipValue skips a value of the given basic type. Unknown type codes are a
// fatal format error: the byte width is unknowable and every later byte
// would be misframed.
func (r *Reader) SkipValue(t BasicType) error {
	size := BasicTypeSize(t, r.idSize)
	if size == 0 {
		return fmt.Errorf("%w: unknown basic type %d", ErrInvalidFormat, t)
	}
	return r.Skip(int64(size))
}

// ReadValue reads a value of the given basic type as its raw big-endian
// bits widened to uint64. Object values are native addresses.
func (r *Reader) ReadValue(t BasicType) (uint64, error) {
	switch t {
	case TypeBoolean, TypeByte:
		b, err := r.ReadByte()
		return uint64(b), err
	case TypeChar, TypeShort:
		v, err := r.ReadUint16()
		return uint64(v), err
	case TypeFloat, TypeInt:
		v, err := r.ReadUint32()
		return uint64(v), err
	case TypeDouble, TypeLong:
		return r.ReadUint64()
	case TypeObject:
		return r.ReadID()
	default:
		return 0, fmt.Errorf("%w: unknown basic type %d", ErrInvalidFormat, t)
	}
}

// readNullTerminatedString reads a null-terminated string.
func (r *Reader) readNullTerminatedString() (string, error) {
	var result []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", truncated(err)
		}
		if b == 0 {
			break
		}
		result = append(result, b)
		if len(result) > 64 {
			return "", fmt.Errorf("%w: unterminated format string", ErrInvalidFormat)
		}
	}
	return string(result), nil
}

// truncated maps io.EOF to io.ErrUnexpectedEOF for reads that started inside
// a structure the format promised to be complete.
func truncated(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
