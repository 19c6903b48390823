// Package model describes the supported architectures. Each Variant bundles
// the four behaviours that differ between families (prompt framing, attention
// mask, position ids, stop rule) together with the shape facts a session needs
// to size its KV cache.
package model

import (
	"slices"

	"github.com/samcharles93/loom/internal/tensor"
)

type Family int

const (
	FamilyGLM Family = iota
	FamilyGLM2
	FamilyQwen
	FamilyQwenVL
	FamilyLlama
	FamilyBGE
)

func (f Family) String() string {
	switch f {
	case FamilyGLM:
		return "glm"
	case FamilyGLM2:
		return "glm2"
	case FamilyQwen:
		return "qwen"
	case FamilyQwenVL:
		return "qwen-vl"
	case FamilyLlama:
		return "llama"
	case FamilyBGE:
		return "bge"
	default:
		return "unknown"
	}
}

// Encoder is the part of a tokenizer templates need.
type Encoder interface {
	Encode(text string) ([]int, error)
}

// Step describes the forward call about to be issued. Counters hold their
// values from before the call.
type Step struct {
	SeqLen     int
	AllSeqLen  int
	GenSeqLen  int
	ContextLen int
}

// Decode reports whether the step feeds a single token against the cache.
func (s Step) Decode() bool { return s.SeqLen == 1 }

// Image is an image reference lifted out of the prompt text. Offset is the
// index of its start token in Prompt.IDs.
type Image struct {
	Ref    string
	Offset int
}

// Prompt is the framed token sequence for one turn.
type Prompt struct {
	IDs []int
	// ContextLen is the length of the encoded query before terminators.
	ContextLen int
	Images     []Image
}

// VisualConfig holds the image placeholder layout and preprocessing constants
// of a vision-capable variant.
type VisualConfig struct {
	ImageSize int
	PadLen    int
	StartID   int
	EndID     int
	PadID     int
	Mean      [3]float32
	Scale     [3]float32
}

// Variant is one concrete architecture.
type Variant struct {
	Name       string
	Family     Family
	Layers     int
	HiddenSize int
	// KVShape is the per-layer cache shape; the zero entry marks the
	// sequence axis.
	KVShape []int
	Visual  *VisualConfig

	Template func(enc Encoder, query string, firstTurn bool) (Prompt, error)
	Mask     func(Step) *tensor.Tensor
	Position func(Step) *tensor.Tensor
	Stop     func(id int) bool
}

// EmbeddingOnly reports whether the variant produces sentence vectors rather
// than tokens.
func (v *Variant) EmbeddingOnly() bool { return v.Family == FamilyBGE }

// CacheShape returns the shape of one empty cache entry. Single-file models
// keep every layer in one tensor, so the layer count is prepended.
func (v *Variant) CacheShape(singleFile bool) []int {
	if singleFile {
		return append([]int{v.Layers}, v.KVShape...)
	}
	return slices.Clone(v.KVShape)
}

// CacheEntries is the number of cache tensors a response carries.
func (v *Variant) CacheEntries(singleFile bool) int {
	if singleFile {
		return 1
	}
	return v.Layers
}
