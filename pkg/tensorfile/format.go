// Package tensorfile implements a flat, memory-mappable container holding an
// ordered list of typed tensor records.
//
// Layout: a fixed header, the record payloads (each 64-byte aligned), then a
// directory with one fixed-size entry per record. All integers are
// little-endian.
package tensorfile

import (
	"encoding/binary"
	"errors"

	"github.com/samcharles93/loom/internal/tensor"
)

const (
	// Magic is "LTF\0".
	Magic = "LTF\x00"

	CurrentMajor uint16 = 1
	CurrentMinor uint16 = 0

	// MaxRank bounds the number of dimensions a record may carry.
	MaxRank = 8

	headerSize = 32
	entrySize  = 16 + 8*MaxRank + 8
	align      = 64
)

var (
	ErrInvalidMagic     = errors.New("tensorfile: invalid magic")
	ErrUnsupportedMajor = errors.New("tensorfile: unsupported major version")
	ErrCorruptFile      = errors.New("tensorfile: corrupt file")
)

type header struct {
	Major       uint16
	Minor       uint16
	RecordCount uint32
	DirOffset   uint64
	FileSize    uint64
}

// Entry describes one record.
type Entry struct {
	DType  tensor.DType
	Shape  []int
	Offset uint64
	Size   uint64
}

func encodeHeader(h header) []byte {
	b := make([]byte, headerSize)
	copy(b[0:4], Magic)
	binary.LittleEndian.PutUint16(b[4:], h.Major)
	binary.LittleEndian.PutUint16(b[6:], h.Minor)
	binary.LittleEndian.PutUint32(b[8:], h.RecordCount)
	// b[12:16] reserved
	binary.LittleEndian.PutUint64(b[16:], h.DirOffset)
	binary.LittleEndian.PutUint64(b[24:], h.FileSize)
	return b
}

func decodeHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, ErrCorruptFile
	}
	if string(b[0:4]) != Magic {
		return header{}, ErrInvalidMagic
	}
	h := header{
		Major:       binary.LittleEndian.Uint16(b[4:]),
		Minor:       binary.LittleEndian.Uint16(b[6:]),
		RecordCount: binary.LittleEndian.Uint32(b[8:]),
		DirOffset:   binary.LittleEndian.Uint64(b[16:]),
		FileSize:    binary.LittleEndian.Uint64(b[24:]),
	}
	if h.Major != CurrentMajor {
		return header{}, ErrUnsupportedMajor
	}
	return h, nil
}

// entry layout: dtype u8, rank u8, 6 bytes reserved, offset u64,
// dims [MaxRank]u64, size u64.
func encodeEntry(e Entry) []byte {
	b := make([]byte, entrySize)
	b[0] = byte(e.DType)
	b[1] = byte(len(e.Shape))
	binary.LittleEndian.PutUint64(b[8:], e.Offset)
	for i, d := range e.Shape {
		binary.LittleEndian.PutUint64(b[16+8*i:], uint64(d))
	}
	binary.LittleEndian.PutUint64(b[16+8*MaxRank:], e.Size)
	return b
}

func decodeEntry(b []byte) (Entry, bool) {
	if len(b) < entrySize {
		return Entry{}, false
	}
	rank := int(b[1])
	if rank > MaxRank {
		return Entry{}, false
	}
	e := Entry{
		DType:  tensor.DType(b[0]),
		Shape:  make([]int, rank),
		Offset: binary.LittleEndian.Uint64(b[8:]),
		Size:   binary.LittleEndian.Uint64(b[16+8*MaxRank:]),
	}
	if e.DType.Size() == 0 {
		return Entry{}, false
	}
	for i := range rank {
		d := binary.LittleEndian.Uint64(b[16+8*i:])
		if d > 1<<40 {
			return Entry{}, false
		}
		e.Shape[i] = int(d)
	}
	return e, true
}

func alignUp(n uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

func rangesOverlap(a0, a1, b0, b1 uint64) bool {
	return a0 < b1 && b0 < a1
}
