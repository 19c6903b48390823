package inference

import (
	"context"
	"fmt"
	"os"

	bfloat16 "github.com/d4l3k/go-bfloat16"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/tensor"
)

// tokenEmbedder turns token ids into a [seq, 1, hidden] f32 tensor.
type tokenEmbedder interface {
	Embed(ctx context.Context, ids []int) (*tensor.Tensor, error)
	Close() error
}

type moduleEmbedder struct {
	m      backend.Module
	hidden int
}

func (e *moduleEmbedder) Embed(ctx context.Context, ids []int) (*tensor.Tensor, error) {
	out, err := safeForward(ctx, e.m, 1, tensor.Ints([]int{len(ids)}, ids))
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	h := out[0]
	if h.Len() != len(ids)*e.hidden {
		return nil, fmt.Errorf("%w: embedding output %v, want %d rows of %d", ErrForward, h, len(ids), e.hidden)
	}
	if h, err = h.Reshape(len(ids), 1, e.hidden); err != nil {
		return nil, err
	}
	return h.Convert(tensor.DTypeF32)
}

func (e *moduleEmbedder) Close() error { return e.m.Close() }

// diskEmbedder reads bf16 rows from a flat file indexed by token id.
type diskEmbedder struct {
	f      *os.File
	hidden int
	rows   int64
}

func openDiskEmbedder(path string, hidden int) (*diskEmbedder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: disk embedding: %w", ErrMalformedModel, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}
	stride := int64(hidden) * 2
	if st.Size() == 0 || st.Size()%stride != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is %d bytes, not a multiple of the %d byte row stride", ErrMalformedModel, path, st.Size(), stride)
	}
	return &diskEmbedder{f: f, hidden: hidden, rows: st.Size() / stride}, nil
}

func (d *diskEmbedder) Embed(ctx context.Context, ids []int) (*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stride := d.hidden * 2
	buf := make([]byte, len(ids)*stride)
	for i, id := range ids {
		if id < 0 || int64(id) >= d.rows {
			return nil, fmt.Errorf("%w: token %d outside embedding table of %d rows", ErrForward, id, d.rows)
		}
		if _, err := d.f.ReadAt(buf[i*stride:(i+1)*stride], int64(id)*int64(stride)); err != nil {
			return nil, fmt.Errorf("%w: read embedding row %d: %w", ErrForward, id, err)
		}
	}
	return tensor.Float32s([]int{len(ids), 1, d.hidden}, bfloat16.DecodeFloat32(buf)), nil
}

func (d *diskEmbedder) Close() error { return d.f.Close() }
