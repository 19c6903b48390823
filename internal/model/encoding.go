package model

import (
	"math"

	"github.com/samcharles93/loom/internal/tensor"
)

// Lowest is the fill value for masked positions in float masks.
const Lowest = -math.MaxFloat32

func arange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// glmMask marks, during prefill, the final column of every row except the
// last: only the final token may attend to itself at that column.
func glmMask(s Step) *tensor.Tensor {
	n := s.SeqLen
	m := tensor.New(tensor.DTypeI32, 1, 1, n, n)
	if s.Decode() {
		return m
	}
	for i := 1; i < n; i++ {
		m.SetInt(1, 0, 0, i-1, n-1)
	}
	return m
}

// glmPosition emits two rows: absolute positions and block positions.
func glmPosition(s Step) *tensor.Tensor {
	if s.Decode() {
		return tensor.Ints([]int{1, 2, 1}, []int{1, s.AllSeqLen - s.ContextLen})
	}
	n := s.SeqLen
	v := make([]int, 2*n)
	copy(v, arange(n))
	v[2*n-1] = 1
	return tensor.Ints([]int{1, 2, n}, v)
}

// glm2Mask is 1 strictly above the diagonal, or a scalar 0 when decoding.
func glm2Mask(s Step) *tensor.Tensor {
	if s.Decode() {
		return tensor.New(tensor.DTypeI32, 1)
	}
	n := s.SeqLen
	m := tensor.New(tensor.DTypeI32, 1, 1, n, n)
	for i := range n {
		for j := i + 1; j < n; j++ {
			m.SetInt(1, 0, 0, i, j)
		}
	}
	return m
}

func glm2Position(s Step) *tensor.Tensor {
	if s.Decode() {
		return tensor.Ints([]int{1}, []int{s.GenSeqLen})
	}
	return tensor.Ints([]int{s.SeqLen}, arange(s.SeqLen))
}

// causalMask fills strictly-future positions with Lowest during prefill. A
// decode step sees every cached token plus itself.
func causalMask(s Step) *tensor.Tensor {
	if s.Decode() {
		return tensor.New(tensor.DTypeF32, 1, 1, 1, s.AllSeqLen+1)
	}
	n := s.SeqLen
	m := tensor.New(tensor.DTypeF32, 1, 1, n, n)
	for i := range n {
		for j := i + 1; j < n; j++ {
			m.SetFloat(Lowest, 0, 0, i, j)
		}
	}
	return m
}

// flatPosition is used by Qwen: [seq] during prefill, [1] when decoding.
func flatPosition(s Step) *tensor.Tensor {
	if s.Decode() {
		return tensor.Ints([]int{1}, []int{s.AllSeqLen})
	}
	return tensor.Ints([]int{s.SeqLen}, arange(s.SeqLen))
}

// batchPosition is used by the LLaMA family: [1, seq] and [1, 1].
func batchPosition(s Step) *tensor.Tensor {
	if s.Decode() {
		return tensor.Ints([]int{1, 1}, []int{s.AllSeqLen})
	}
	return tensor.Ints([]int{1, s.SeqLen}, arange(s.SeqLen))
}

// bidirectionalMask lets every token see every other token.
func bidirectionalMask(s Step) *tensor.Tensor {
	v := make([]int, s.SeqLen)
	for i := range v {
		v[i] = 1
	}
	return tensor.Ints([]int{1, 1, 1, s.SeqLen}, v)
}
