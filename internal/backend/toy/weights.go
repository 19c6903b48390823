package toy

import (
	"fmt"
	"math/rand/v2"

	"github.com/samcharles93/loom/internal/tensor"
	"github.com/samcharles93/loom/pkg/tensorfile"
)

// Weights is the parameter set shared by every toy module role: an embedding
// table, a projection back to vocabulary logits and a bias.
type Weights struct {
	Vocab  int
	Hidden int

	Emb  []float32 // [Vocab x Hidden]
	W    []float32 // [Hidden x Vocab]
	Bias []float32 // [Vocab]
}

// Random fills a weight set deterministically from seed.
func Random(vocab, hidden int, seed uint64) *Weights {
	if vocab <= 0 || hidden <= 0 {
		panic("toy: vocab and hidden must be positive")
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	w := &Weights{
		Vocab:  vocab,
		Hidden: hidden,
		Emb:    make([]float32, vocab*hidden),
		W:      make([]float32, hidden*vocab),
		Bias:   make([]float32, vocab),
	}
	for i := range w.Emb {
		w.Emb[i] = r.Float32()*2 - 1
	}
	for i := range w.W {
		w.W[i] = r.Float32()*2 - 1
	}
	return w
}

func (w *Weights) Row(tok int) []float32 {
	return w.Emb[tok*w.Hidden : (tok+1)*w.Hidden]
}

// Logits computes h*W + bias.
func (w *Weights) Logits(h []float32) []float32 {
	out := make([]float32, w.Vocab)
	for j := range w.Vocab {
		var sum float32
		for i := range w.Hidden {
			sum += h[i] * w.W[i*w.Vocab+j]
		}
		out[j] = sum + w.Bias[j]
	}
	return out
}

// Argmax returns the highest scoring id for h. Ties go to the lower id.
func (w *Weights) Argmax(h []float32) int {
	logits := w.Logits(h)
	best := 0
	for j, v := range logits {
		if v > logits[best] {
			best = j
		}
	}
	return best
}

// wrap folds an arbitrary token id into the vocabulary.
func (w *Weights) wrap(tok int) int {
	tok %= w.Vocab
	if tok < 0 {
		tok += w.Vocab
	}
	return tok
}

// Save writes the weights as a three record tensor file.
func (w *Weights) Save(path string) error {
	return tensorfile.Write(path, []*tensor.Tensor{
		tensor.Float32s([]int{w.Vocab, w.Hidden}, w.Emb),
		tensor.Float32s([]int{w.Hidden, w.Vocab}, w.W),
		tensor.Float32s([]int{w.Vocab}, w.Bias),
	})
}

// LoadWeights reads weights written by Save.
func LoadWeights(path string) (*Weights, error) {
	recs, err := tensorfile.ReadAll(path)
	if err != nil {
		return nil, err
	}
	if len(recs) != 3 || recs[0].Rank() != 2 {
		return nil, fmt.Errorf("toy: %s: want 3 records [emb, w, bias], have %d", path, len(recs))
	}
	vocab, hidden := recs[0].Dim(0), recs[0].Dim(1)
	if recs[1].Rank() != 2 || recs[1].Dim(0) != hidden || recs[1].Dim(1) != vocab || recs[2].Len() != vocab {
		return nil, fmt.Errorf("toy: %s: inconsistent shapes %v %v %v", path, recs[0], recs[1], recs[2])
	}
	w := &Weights{Vocab: vocab, Hidden: hidden}
	if w.Emb, err = recs[0].Float32s(); err != nil {
		return nil, err
	}
	if w.W, err = recs[1].Float32s(); err != nil {
		return nil, err
	}
	if w.Bias, err = recs[2].Float32s(); err != nil {
		return nil, err
	}
	return w, nil
}
