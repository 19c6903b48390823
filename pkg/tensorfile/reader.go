package tensorfile

import (
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/loom/internal/tensor"
)

// File is an opened container. Record payload slices alias the mapping and
// are only valid until Close.
type File struct {
	Data    []byte
	Entries []Entry
	Minor   uint16
	mmapped bool
}

// Open maps path read-only and validates its structure. When mmap is not
// available the file is read into memory instead.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := st.Size()
	if size64 < headerSize || size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	size := int(size64)

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err == nil {
		tf, perr := parse(data, true)
		if perr != nil {
			_ = unix.Munmap(data)
			return nil, perr
		}
		return tf, nil
	}

	data, err = readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

// OpenReaderAt loads a container from r without mapping it.
func OpenReaderAt(r io.ReaderAt, size int64) (*File, error) {
	if size < 0 || size > int64(int(^uint(0)>>1)) {
		return nil, ErrCorruptFile
	}
	data, err := readAllAt(r, int(size))
	if err != nil {
		return nil, err
	}
	return parse(data, false)
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}

func parse(data []byte, mmapped bool) (*File, error) {
	hdr, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.FileSize != uint64(len(data)) {
		return nil, fmt.Errorf("%w: header size %d, file size %d", ErrCorruptFile, hdr.FileSize, len(data))
	}
	dirStart := hdr.DirOffset
	dirEnd := dirStart + uint64(hdr.RecordCount)*entrySize
	if dirStart < headerSize || dirEnd < dirStart || dirEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: directory out of bounds", ErrCorruptFile)
	}

	entries := make([]Entry, hdr.RecordCount)
	for i := range entries {
		start := dirStart + uint64(i)*entrySize
		e, ok := decodeEntry(data[start : start+entrySize])
		if !ok {
			return nil, fmt.Errorf("%w: record %d has a bad directory entry", ErrCorruptFile, i)
		}
		end := e.Offset + e.Size
		switch {
		case end < e.Offset || end > uint64(len(data)):
			return nil, fmt.Errorf("%w: record %d out of bounds", ErrCorruptFile, i)
		case e.Offset < headerSize:
			return nil, fmt.Errorf("%w: record %d overlaps header", ErrCorruptFile, i)
		case rangesOverlap(e.Offset, end, dirStart, dirEnd):
			return nil, fmt.Errorf("%w: record %d overlaps directory", ErrCorruptFile, i)
		case e.Offset%align != 0:
			return nil, fmt.Errorf("%w: record %d not %d-byte aligned", ErrCorruptFile, i, align)
		case uint64(tensor.NumElements(e.Shape)*e.DType.Size()) != e.Size:
			return nil, fmt.Errorf("%w: record %d size does not match %s%v", ErrCorruptFile, i, e.DType, e.Shape)
		}
		entries[i] = e
	}
	return &File{Data: data, Entries: entries, Minor: hdr.Minor, mmapped: mmapped}, nil
}

// Len returns the number of records.
func (f *File) Len() int { return len(f.Entries) }

// Record returns record i as a tensor that owns its memory.
func (f *File) Record(i int) (*tensor.Tensor, error) {
	if f == nil || f.Data == nil {
		return nil, fmt.Errorf("tensorfile: file is closed")
	}
	if i < 0 || i >= len(f.Entries) {
		return nil, fmt.Errorf("tensorfile: record %d out of range [0,%d)", i, len(f.Entries))
	}
	e := f.Entries[i]
	payload := slices.Clone(f.Data[e.Offset : e.Offset+e.Size])
	return tensor.FromBytes(e.DType, e.Shape, payload)
}

// Close releases the mapping, if any.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = unix.Munmap(f.Data)
	}
	f.Data = nil
	f.Entries = nil
	f.mmapped = false
	return err
}

// ReadAll opens path and copies out every record.
func ReadAll(path string) ([]*tensor.Tensor, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	out := make([]*tensor.Tensor, f.Len())
	for i := range out {
		if out[i], err = f.Record(i); err != nil {
			return nil, err
		}
	}
	return out, nil
}
