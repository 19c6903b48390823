package tensorfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/samcharles93/loom/internal/tensor"
)

// Write stores records at path. The file is written to a temporary sibling and
// renamed into place so readers never observe a partial container.
func Write(path string, records []*tensor.Tensor) (err error) {
	entries := make([]Entry, len(records))
	off := alignUp(headerSize)
	for i, r := range records {
		if r == nil {
			return fmt.Errorf("tensorfile: record %d is nil", i)
		}
		if r.Rank() > MaxRank {
			return fmt.Errorf("tensorfile: record %d has rank %d (max %d)", i, r.Rank(), MaxRank)
		}
		size := uint64(len(r.Bytes()))
		entries[i] = Entry{DType: r.DType(), Shape: r.Shape(), Offset: off, Size: size}
		off = alignUp(off + size)
	}
	dirOffset := off
	fileSize := dirOffset + uint64(len(entries))*entrySize

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := bufio.NewWriterSize(tmp, 1<<20)
	hdr := header{
		Major:       CurrentMajor,
		Minor:       CurrentMinor,
		RecordCount: uint32(len(entries)),
		DirOffset:   dirOffset,
		FileSize:    fileSize,
	}
	pos := uint64(0)
	put := func(p []byte) error {
		n, werr := w.Write(p)
		pos += uint64(n)
		return werr
	}
	pad := func(to uint64) error {
		if to < pos {
			return fmt.Errorf("tensorfile: internal layout error at %d", pos)
		}
		return put(make([]byte, to-pos))
	}

	if err = put(encodeHeader(hdr)); err != nil {
		return err
	}
	for i, r := range records {
		if err = pad(entries[i].Offset); err != nil {
			return err
		}
		if err = put(r.Bytes()); err != nil {
			return err
		}
	}
	if err = pad(dirOffset); err != nil {
		return err
	}
	for _, e := range entries {
		if err = put(encodeEntry(e)); err != nil {
			return err
		}
	}
	if err = w.Flush(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
