// Package vectorstore keeps (text, vector) pairs and answers nearest
// neighbour queries by Euclidean distance. A Store is append-only and is not
// safe for concurrent use.
package vectorstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/blas/blas32"
)

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

var (
	ErrDimension  = errors.New("vectorstore: dimension mismatch")
	ErrNoEmbedder = errors.New("vectorstore: no embedder configured")
)

// Result is one search hit.
type Result struct {
	Index    int
	Text     string
	Distance float32
}

type Store struct {
	emb     Embedder
	dim     int
	vectors []float32 // row-major, Len() x dim
	texts   []string
}

// New returns an empty store. The dimension is fixed by the first vector.
func New(e Embedder) *Store {
	return &Store{emb: e}
}

func (s *Store) Len() int { return len(s.texts) }

// Dim is the vector width, or 0 while the store is empty.
func (s *Store) Dim() int { return s.dim }

func (s *Store) Text(i int) string { return s.texts[i] }

// Vector returns a copy of row i.
func (s *Store) Vector(i int) []float32 {
	return slices.Clone(s.row(i))
}

func (s *Store) row(i int) []float32 {
	return s.vectors[i*s.dim : (i+1)*s.dim]
}

func (s *Store) embed(ctx context.Context, text string) ([]float32, error) {
	if s.emb == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: embed: %w", err)
	}
	return vec, nil
}

// Add vectorizes text and appends it.
func (s *Store) Add(ctx context.Context, text string) error {
	vec, err := s.embed(ctx, text)
	if err != nil {
		return err
	}
	return s.AddVector(text, vec)
}

// AddAll vectorizes every text first and appends them only if all succeed.
func (s *Store) AddAll(ctx context.Context, texts []string) error {
	vecs := make([][]float32, len(texts))
	dim := s.dim
	for i, text := range texts {
		vec, err := s.embed(ctx, text)
		if err != nil {
			return fmt.Errorf("text %d: %w", i, err)
		}
		if dim == 0 {
			dim = len(vec)
		}
		if len(vec) != dim {
			return fmt.Errorf("%w: text %d has %d values, want %d", ErrDimension, i, len(vec), dim)
		}
		vecs[i] = vec
	}
	for i, vec := range vecs {
		if err := s.AddVector(texts[i], vec); err != nil {
			return err
		}
	}
	return nil
}

// AddVector appends a pre-computed vector.
func (s *Store) AddVector(text string, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimension)
	}
	if s.dim == 0 {
		s.dim = len(vec)
	}
	if len(vec) != s.dim {
		return fmt.Errorf("%w: got %d values, want %d", ErrDimension, len(vec), s.dim)
	}
	s.vectors = append(s.vectors, vec...)
	s.texts = append(s.texts, text)
	return nil
}

// Search returns the texts of the k entries closest to text.
func (s *Store) Search(ctx context.Context, text string, k int) ([]string, error) {
	q, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	hits, err := s.SearchVector(q, k)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out, nil
}

// SearchVector ranks every entry by L2 distance to q and returns the first
// min(k, Len()) in ascending order. Equal distances keep insertion order.
func (s *Store) SearchVector(q []float32, k int) ([]Result, error) {
	n := s.Len()
	if k <= 0 || n == 0 {
		return nil, nil
	}
	if len(q) != s.dim {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimension, len(q), s.dim)
	}

	dist := make([]float32, n)
	diff := blas32.Vector{N: s.dim, Inc: 1, Data: make([]float32, s.dim)}
	query := blas32.Vector{N: s.dim, Inc: 1, Data: q}
	for i := range n {
		copy(diff.Data, s.row(i))
		blas32.Axpy(-1, query, diff)
		dist[i] = blas32.Nrm2(diff)
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(dist[a], dist[b]) })

	k = min(k, n)
	out := make([]Result, k)
	for i, idx := range order[:k] {
		out[i] = Result{Index: idx, Text: s.texts[idx], Distance: dist[idx]}
	}
	return out, nil
}

// Random builds a store of n uniformly random vectors labelled by index,
// for benchmarking search.
func Random(n, dim int, seed uint64) *Store {
	r := rand.New(rand.NewPCG(seed, seed+1))
	s := &Store{dim: dim, vectors: make([]float32, n*dim), texts: make([]string, n)}
	for i := range s.vectors {
		s.vectors[i] = r.Float32()
	}
	for i := range s.texts {
		s.texts[i] = strconv.Itoa(i)
	}
	return s
}
