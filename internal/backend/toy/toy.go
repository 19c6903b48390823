// Package toy is a deterministic reference backend. It executes every module
// role a session can ask for (combined single-file model, embedding table,
// transformer block, output head, vision encoder, sentence encoder) with a
// tiny embedding/projection model, which makes end-to-end runs reproducible
// without a real tensor engine.
package toy

import (
	"context"
	"fmt"
	"slices"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/tensor"
)

const Name = "toy"

func init() {
	backend.Register(Name, func() (backend.Backend, error) { return Backend{}, nil })
}

type role int

const (
	roleSingle role = iota
	roleBlock
	roleHead
	roleEmbedding
	roleVisual
	roleSentence
)

func (r role) String() string {
	return [...]string{"single", "block", "head", "embedding", "visual", "sentence"}[r]
}

type Backend struct{}

func (Backend) Name() string { return Name }

// Load reads toy weights from cfg.ExternalFile when set, else from path.
func (Backend) Load(ctx context.Context, path string, inputs, outputs []string, cfg backend.Config) (backend.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r, err := roleFor(inputs, outputs)
	if err != nil {
		return nil, fmt.Errorf("toy: %s: %w", path, err)
	}
	src := path
	if cfg.ExternalFile != "" {
		src = cfg.ExternalFile
	}
	w, err := LoadWeights(src)
	if err != nil {
		return nil, err
	}
	return &module{role: r, w: w, nIn: len(inputs), seqAxis: -1}, nil
}

func roleFor(inputs, outputs []string) (role, error) {
	has := func(name string) bool { return slices.Contains(outputs, name) }
	var r role
	switch {
	case has("token_id") && has("presents"):
		r = roleSingle
	case has("hidden_states") && has("presents"):
		r = roleBlock
	case has("sentence_embeddings"):
		r = roleSentence
	case has("token_id"):
		r = roleHead
	case has("inputs_embeds"):
		r = roleEmbedding
	case has("image_embeds"):
		r = roleVisual
	default:
		return 0, fmt.Errorf("no module role produces outputs %v", outputs)
	}
	want := map[role]int{roleSingle: 4, roleBlock: 4, roleSentence: 3, roleHead: 1, roleEmbedding: 1, roleVisual: 1}[r]
	if len(inputs) != want {
		return 0, fmt.Errorf("%s module takes %d inputs, got %v", r, want, inputs)
	}
	return r, nil
}

type module struct {
	role    role
	w       *Weights
	nIn     int
	seqAxis int
}

func (m *module) Close() error { return nil }

func (m *module) Forward(ctx context.Context, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in) != m.nIn {
		return nil, fmt.Errorf("%w: %s module got %d inputs, want %d", backend.ErrBadInputs, m.role, len(in), m.nIn)
	}
	for i, t := range in {
		if t == nil {
			return nil, fmt.Errorf("%w: input %d is nil", backend.ErrBadInputs, i)
		}
	}
	switch m.role {
	case roleSingle:
		return m.single(in)
	case roleBlock:
		return m.block(in)
	case roleHead:
		return m.head(in[0])
	case roleEmbedding:
		ids, err := in[0].Int32s()
		if err != nil {
			return nil, err
		}
		return []*tensor.Tensor{m.embed(ids)}, nil
	case roleVisual:
		return m.visual(in[0])
	default:
		return m.sentence(in[0], in[1])
	}
}

func (m *module) embed(ids []int32) *tensor.Tensor {
	h := m.w.Hidden
	out := make([]float32, 0, len(ids)*h)
	for _, id := range ids {
		out = append(out, m.w.Row(m.w.wrap(int(id)))...)
	}
	return tensor.Float32s([]int{len(ids), 1, h}, out)
}

func (m *module) single(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	ids, err := in[0].Int32s()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: empty input_ids", backend.ErrBadInputs)
	}
	pos, err := lastInt(in[2])
	if err != nil {
		return nil, err
	}
	h := slices.Clone(m.w.Row(m.w.wrap(int(ids[len(ids)-1]))))
	mix := m.w.Row(m.w.wrap(pos))
	for i := range h {
		h[i] += 0.5 * mix[i]
	}
	present, err := m.grow(in[3], len(ids))
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{tensor.Ints([]int{1}, []int{m.w.Argmax(h)}), present}, nil
}

func (m *module) block(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	hidden := in[0]
	if hidden.Rank() < 2 || hidden.Dim(-1) != m.w.Hidden {
		return nil, fmt.Errorf("%w: hidden state %v, want [..., %d]", backend.ErrBadInputs, hidden, m.w.Hidden)
	}
	present, err := m.grow(in[3], hidden.Dim(0))
	if err != nil {
		return nil, err
	}
	out, err := hidden.Convert(tensor.DTypeF32)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{out, present}, nil
}

func (m *module) head(hidden *tensor.Tensor) ([]*tensor.Tensor, error) {
	if hidden.Rank() < 1 || hidden.Dim(-1) != m.w.Hidden || hidden.Len() == 0 {
		return nil, fmt.Errorf("%w: hidden state %v, want [..., %d]", backend.ErrBadInputs, hidden, m.w.Hidden)
	}
	vals, err := hidden.Float32s()
	if err != nil {
		return nil, err
	}
	last := vals[len(vals)-m.w.Hidden:]
	return []*tensor.Tensor{tensor.Ints([]int{1}, []int{m.w.Argmax(last)})}, nil
}

// visual maps an NCHW image to one embedding row per weight row, scaling each
// by the mean intensity of the matching horizontal stripe.
func (m *module) visual(img *tensor.Tensor) ([]*tensor.Tensor, error) {
	if img.Rank() != 4 || img.Dim(0) != 1 || img.Dim(1) != 3 {
		return nil, fmt.Errorf("%w: image %v, want [1, 3, H, W]", backend.ErrBadInputs, img)
	}
	px, err := img.Float32s()
	if err != nil {
		return nil, err
	}
	rows, hidden := m.w.Vocab, m.w.Hidden
	height, width := img.Dim(2), img.Dim(3)
	out := make([]float32, 0, rows*hidden)
	for r := range rows {
		y0 := r * height / rows
		y1 := max((r+1)*height/rows, y0+1)
		y1 = min(y1, height)
		var sum float32
		var n int
		for c := range 3 {
			for y := y0; y < y1; y++ {
				for x := range width {
					sum += px[(c*height+y)*width+x]
					n++
				}
			}
		}
		mean := float32(0)
		if n > 0 {
			mean = sum / float32(n)
		}
		for _, v := range m.w.Row(r) {
			out = append(out, v*mean)
		}
	}
	return []*tensor.Tensor{tensor.Float32s([]int{1, rows, hidden}, out)}, nil
}

func (m *module) sentence(idsT, maskT *tensor.Tensor) ([]*tensor.Tensor, error) {
	ids, err := idsT.Int32s()
	if err != nil {
		return nil, err
	}
	mask, err := maskT.Int32s()
	if err != nil {
		return nil, err
	}
	if len(mask) != len(ids) {
		return nil, fmt.Errorf("%w: mask has %d entries for %d ids", backend.ErrBadInputs, len(mask), len(ids))
	}
	out := make([]float32, m.w.Hidden)
	n := 0
	for i, id := range ids {
		if mask[i] == 0 {
			continue
		}
		for j, v := range m.w.Row(m.w.wrap(int(id))) {
			out[j] += v
		}
		n++
	}
	if n > 0 {
		for j := range out {
			out[j] /= float32(n)
		}
	}
	return []*tensor.Tensor{tensor.Float32s([]int{1, m.w.Hidden}, out)}, nil
}

// grow returns a cache with the sequence axis extended by n. The axis is the
// one holding zero in the first cache this module sees.
func (m *module) grow(past *tensor.Tensor, n int) (*tensor.Tensor, error) {
	shape := past.Shape()
	if i := slices.Index(shape, 0); i >= 0 {
		m.seqAxis = i
	}
	if m.seqAxis < 0 || m.seqAxis >= len(shape) {
		return nil, fmt.Errorf("%w: cannot find sequence axis in cache %v", backend.ErrBadInputs, past)
	}
	shape[m.seqAxis] += n
	return tensor.New(tensor.DTypeF16, shape...), nil
}

func lastInt(t *tensor.Tensor) (int, error) {
	vals, err := t.Int32s()
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("%w: empty position ids", backend.ErrBadInputs)
	}
	return int(vals[len(vals)-1]), nil
}
