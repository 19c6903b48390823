package vectorstore

import (
	"fmt"

	"github.com/samcharles93/loom/internal/tensor"
	"github.com/samcharles93/loom/pkg/tensorfile"
)

// Save writes the store as one [N, dim] f32 record followed by one byte
// record per text, in row order.
func (s *Store) Save(path string) error {
	records := make([]*tensor.Tensor, 0, s.Len()+1)
	records = append(records, tensor.Float32s([]int{s.Len(), s.dim}, s.vectors))
	for _, text := range s.texts {
		records = append(records, tensor.Int8s([]int{len(text)}, []byte(text)))
	}
	if err := tensorfile.Write(path, records); err != nil {
		return fmt.Errorf("vectorstore: save %s: %w", path, err)
	}
	return nil
}

// Load reads a store written by Save. A file with fewer than two records
// holds no store: Load then returns ok=false and a nil error.
func Load(path string, e Embedder) (s *Store, ok bool, err error) {
	f, err := tensorfile.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("vectorstore: load %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	if f.Len() < 2 {
		return nil, false, nil
	}

	block, err := f.Record(0)
	if err != nil {
		return nil, false, err
	}
	if block.Rank() != 2 || !block.DType().IsFloat() {
		return nil, false, fmt.Errorf("%w: vector block is %v", tensorfile.ErrCorruptFile, block)
	}
	rows := block.Dim(0)
	if rows != f.Len()-1 {
		return nil, false, fmt.Errorf("%w: %d vectors but %d texts", tensorfile.ErrCorruptFile, rows, f.Len()-1)
	}
	vectors, err := block.Float32s()
	if err != nil {
		return nil, false, err
	}

	s = &Store{emb: e, dim: block.Dim(1), vectors: vectors, texts: make([]string, rows)}
	for i := range rows {
		rec, err := f.Record(i + 1)
		if err != nil {
			return nil, false, err
		}
		raw, err := rec.RawBytes()
		if err != nil {
			return nil, false, fmt.Errorf("%w: text record %d: %w", tensorfile.ErrCorruptFile, i, err)
		}
		s.texts[i] = string(raw)
	}
	return s, true, nil
}
