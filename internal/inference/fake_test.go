package inference

import (
	"context"
	"errors"
	"testing"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/model"
	"github.com/samcharles93/loom/internal/tensor"
	"github.com/samcharles93/loom/internal/tokenizer"
)

// testVocab encodes "ab" as [5 6].
func testVocab() *tokenizer.Vocab {
	return tokenizer.New([]string{"", "he", "llo", " world", "<0x41>", "a", "b", "问：", "\n答："})
}

type forwardCall struct {
	ids  []int32
	mask *tensor.Tensor
	pos  *tensor.Tensor
}

// scriptedModel is a single-file module that answers call n with tokens[n]
// (the last entry repeats) and echoes the cache back grown by nothing.
type scriptedModel struct {
	tokens  []int
	failAt  int
	panicAt int
	calls   []forwardCall
	closed  bool
}

func newScripted(tokens ...int) *scriptedModel {
	return &scriptedModel{tokens: tokens, failAt: -1, panicAt: -1}
}

func (m *scriptedModel) Forward(ctx context.Context, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	n := len(m.calls)
	ids, err := in[0].Int32s()
	if err != nil {
		return nil, err
	}
	m.calls = append(m.calls, forwardCall{ids: ids, mask: in[1], pos: in[2]})
	switch n {
	case m.failAt:
		return nil, errors.New("engine exploded")
	case m.panicAt:
		panic("kaboom")
	}
	tok := m.tokens[min(n, len(m.tokens)-1)]
	return []*tensor.Tensor{tensor.Ints([]int{1}, []int{tok}), in[3].Clone()}, nil
}

func (m *scriptedModel) Close() error {
	m.closed = true
	return nil
}

func (m *scriptedModel) positions(t *testing.T, call int) []int32 {
	t.Helper()
	p, err := m.calls[call].pos.Int32s()
	if err != nil {
		t.Fatalf("positions of call %d: %v", call, err)
	}
	return p
}

func newTestSession(t *testing.T, variant string, m backend.Module, opts Options) *Session {
	t.Helper()
	v, err := model.Resolve(variant)
	if err != nil {
		t.Fatalf("Resolve(%q): %v", variant, err)
	}
	opts = opts.withDefaults()
	return &Session{
		variant: v,
		tok:     testVocab(),
		opts:    opts,
		log:     logger.Nop(),
		single:  true,
		model:   m,
	}
}

// fixedModule returns the same outputs for every call.
type fixedModule struct {
	out   []*tensor.Tensor
	check func(in []*tensor.Tensor) error
	calls int
}

func (m *fixedModule) Forward(ctx context.Context, in []*tensor.Tensor) ([]*tensor.Tensor, error) {
	m.calls++
	if m.check != nil {
		if err := m.check(in); err != nil {
			return nil, err
		}
	}
	return m.out, nil
}

func (m *fixedModule) Close() error { return nil }
