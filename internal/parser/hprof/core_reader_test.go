package hprof

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func headerBytes(format string, idSize uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString(format)
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, idSize)
	binary.Write(&buf, binary.BigEndian, uint64(time.Now().UnixMilli()))
	return buf.Bytes()
}

func TestReader_ReadHeader(t *testing.T) {
	t.Run("valid header", func(t *testing.T) {
		reader := NewReader(bytes.NewReader(headerBytes("JAVA PROFILE 1.0.2", 8)))
		header, err := reader.ReadHeader()
		require.NoError(t, err)
		assert.Equal(t, "JAVA PROFILE 1.0.2", header.Format)
		assert.Equal(t, 8, header.IDSize)
		assert.Equal(t, 8, reader.IDSize())
	})

	t.Run("4-byte id size", func(t *testing.T) {
		reader := NewReader(bytes.NewReader(headerBytes("JAVA PROFILE 1.0.2", 4)))
		header, err := reader.ReadHeader()
		require.NoError(t, err)
		assert.Equal(t, 4, header.IDSize)
	})

	t.Run("bad magic", func(t *testing.T) {
		reader := NewReader(bytes.NewReader(headerBytes("JAVA PROFILE 1.0.1", 8)))
		_, err := reader.ReadHeader()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("bad id size", func(t *testing.T) {
		reader := NewReader(bytes.NewReader(headerBytes("JAVA PROFILE 1.0.2", 16)))
		_, err := reader.ReadHeader()
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("truncated", func(t *testing.T) {
		reader := NewReader(bytes.NewReader([]byte("JAVA PRO")))
		_, err := reader.ReadHeader()
		assert.Error(t, err)
	})
}

func TestReader_ReadID(t *testing.T) {
	t.Run("4-byte ID", func(t *testing.T) {
		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, uint32(0x12345678))

		reader := NewReader(bytes.NewReader(buf.Bytes()))
		reader.SetIDSize(4)

		id, err := reader.ReadID()
		require.NoError(t, err)
		assert.Equal(t, uint64(0x12345678), id)
	})

	t.Run("8-byte ID", func(t *testing.T) {
		var buf bytes.Buffer
		binary.Write(&buf, binary.BigEndian, uint64(0x123456789ABCDEF0))

		reader := NewReader(bytes.NewReader(buf.Bytes()))
		reader.SetIDSize(8)

		id, err := reader.ReadID()
		require.NoError(t, err)
		assert.Equal(t, uint64(0x123456789ABCDEF0), id)
	})
}

func TestReader_PositionTracking(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A}
	reader := NewReader(bytes.NewReader(data))

	assert.Equal(t, int64(0), reader.Position())

	_, err := reader.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, int64(1), reader.Position())

	_, err = reader.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, int64(5), reader.Position())

	require.NoError(t, reader.Skip(2))
	assert.Equal(t, int64(7), reader.Position())

	require.NoError(t, reader.Seek(2))
	assert.Equal(t, int64(2), reader.Position())
	b, err := reader.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(0x03), b)
}

func TestReader_ReadRecordHeader(t *testing.T) {
	t.Run("valid record", func(t *testing.T) {
		var buf bytes.Buffer
		buf.WriteByte(byte(TagString))
		binary.Write(&buf, binary.BigEndian, uint32(42))
		binary.Write(&buf, binary.BigEndian, uint32(100))

		reader := NewReader(bytes.NewReader(buf.Bytes()))
		tag, delta, length, err := reader.ReadRecordHeader()
		require.NoError(t, err)
		assert.Equal(t, TagString, tag)
		assert.Equal(t, uint32(42), delta)
		assert.Equal(t, uint32(100), length)
	})

	t.Run("clean EOF at record boundary", func(t *testing.T) {
		reader := NewReader(bytes.NewReader(nil))
		_, _, _, err := reader.ReadRecordHeader()
		assert.Equal(t, io.EOF, err)
	})

	t.Run("truncated mid-header", func(t *testing.T) {
		reader := NewReader(bytes.NewReader([]byte{byte(TagString), 0x00}))
		_, _, _, err := reader.ReadRecordHeader()
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}

func TestReader_ReadValue(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0x7F)                                   // byte
	binary.Write(&buf, binary.BigEndian, uint16(0x1234))  // short
	binary.Write(&buf, binary.BigEndian, uint32(0xCAFE))  // int
	binary.Write(&buf, binary.BigEndian, uint64(0xBEEF))  // long
	binary.Write(&buf, binary.BigEndian, uint64(0x99999)) // object id

	reader := NewReader(bytes.NewReader(buf.Bytes()))
	reader.SetIDSize(8)

	v, err := reader.ReadValue(TypeByte)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7F), v)

	v, err = reader.ReadValue(TypeShort)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1234), v)

	v, err = reader.ReadValue(TypeInt)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xCAFE), v)

	v, err = reader.ReadValue(TypeLong)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xBEEF), v)

	v, err = reader.ReadValue(TypeObject)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x99999), v)
}

func TestReader_UnknownBasicType(t *testing.T) {
	reader := NewReader(bytes.NewReader([]byte{0x00, 0x00, 0x00, 0x00}))
	_, err := reader.ReadValue(BasicType(3))
	assert.ErrorIs(t, err, ErrInvalidFormat)

	err = reader.SkipValue(BasicType(99))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestBasicTypeSize(t *testing.T) {
	tests := []struct {
		typ      BasicType
		idSize   int
		expected int
	}{
		{TypeBoolean, 8, 1},
		{TypeByte, 8, 1},
		{TypeChar, 8, 2},
		{TypeShort, 8, 2},
		{TypeInt, 8, 4},
		{TypeFloat, 8, 4},
		{TypeLong, 8, 8},
		{TypeDouble, 8, 8},
		{TypeObject, 4, 4},
		{TypeObject, 8, 8},
		{BasicType(0), 8, 0},
		{BasicType(3), 8, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, BasicTypeSize(tt.typ, tt.idSize))
	}
}
