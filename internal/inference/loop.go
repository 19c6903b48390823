package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/loom/internal/model"
	"github.com/samcharles93/loom/internal/tensor"
)

// Phase is where a response is in the generation loop.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePrefill
	PhaseDecode
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePrefill:
		return "prefill"
	case PhaseDecode:
		return "decode"
	case PhaseStopped:
		return "stopped"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// state is everything that lives for exactly one response.
type state struct {
	phase      Phase
	cache      []*tensor.Tensor
	allSeqLen  int
	genSeqLen  int
	contextLen int
	last       int
	stats      Stats
}

func (s *Session) newState(contextLen int) *state {
	shape := s.variant.CacheShape(s.single)
	cache := make([]*tensor.Tensor, s.variant.CacheEntries(s.single))
	for i := range cache {
		cache[i] = tensor.New(tensor.DTypeF32, shape...)
	}
	return &state{phase: PhaseIdle, cache: cache, contextLen: contextLen}
}

// run drives st from prefill to stopped. emit receives every decoded
// fragment and finally the end marker.
func (s *Session) run(ctx context.Context, st *state, ids []int, images []model.Image, emit func(string) error) error {
	st.phase = PhasePrefill
	for {
		switch st.phase {
		case PhasePrefill:
			start := time.Now()
			id, err := s.forward(ctx, st, ids, images)
			st.stats.Prefill = time.Since(start)
			st.stats.PromptTokens = len(ids)
			if err != nil {
				return s.abort(st, err)
			}
			if err := s.accept(st, id, emit); err != nil {
				return s.abort(st, err)
			}
			st.phase = PhaseDecode

		case PhaseDecode:
			if st.genSeqLen >= s.opts.MaxNewTokens {
				st.phase = PhaseStopped
				continue
			}
			if err := ctx.Err(); err != nil {
				return s.abort(st, err)
			}
			start := time.Now()
			id, err := s.forward(ctx, st, []int{st.last}, nil)
			st.stats.Decode += time.Since(start)
			if err != nil {
				return s.abort(st, err)
			}
			if s.variant.Stop(id) {
				st.phase = PhaseStopped
				continue
			}
			if err := s.accept(st, id, emit); err != nil {
				return s.abort(st, err)
			}

		case PhaseStopped:
			st.stats.OutputTokens = st.genSeqLen
			st.phase = PhaseIdle
			st.cache = nil
			return emit(*s.opts.EndWith)

		default:
			return fmt.Errorf("generation loop in phase %s", st.phase)
		}
	}
}

// accept records a produced token in history and streams its text.
func (s *Session) accept(st *state, id int, emit func(string) error) error {
	st.last = id
	s.history = append(s.history, id)
	text, err := s.decode(id)
	if err != nil {
		return err
	}
	return emit(text)
}

// abort drops the cache so the next response starts clean.
func (s *Session) abort(st *state, err error) error {
	st.stats.OutputTokens = st.genSeqLen
	st.phase = PhaseIdle
	st.cache = nil
	return err
}

// forward issues one model call for ids and returns the produced token.
// Counters advance only when the call succeeds.
func (s *Session) forward(ctx context.Context, st *state, ids []int, images []model.Image) (int, error) {
	step := model.Step{
		SeqLen:     len(ids),
		AllSeqLen:  st.allSeqLen,
		GenSeqLen:  st.genSeqLen,
		ContextLen: st.contextLen,
	}
	mask, pos := s.variant.Mask(step), s.variant.Position(step)

	var (
		id  int
		err error
	)
	if s.single {
		id, err = s.forwardSingle(ctx, st, ids, mask, pos)
	} else {
		id, err = s.forwardLayers(ctx, st, ids, images, mask, pos)
	}
	if err != nil {
		return 0, err
	}
	st.allSeqLen += len(ids)
	st.genSeqLen++
	return id, nil
}

func (s *Session) forwardSingle(ctx context.Context, st *state, ids []int, mask, pos *tensor.Tensor) (int, error) {
	out, err := safeForward(ctx, s.model, 2, tensor.Ints([]int{len(ids)}, ids), mask, pos, st.cache[0])
	if err != nil {
		return 0, err
	}
	st.cache[0] = out[1]
	return tokenID(out[0])
}

func (s *Session) forwardLayers(ctx context.Context, st *state, ids []int, images []model.Image, mask, pos *tensor.Tensor) (int, error) {
	hidden, err := s.embed.Embed(ctx, ids)
	if err != nil {
		return 0, err
	}
	if hidden, err = s.spliceImages(ctx, hidden, images); err != nil {
		return 0, err
	}
	for i, b := range s.blocks {
		out, err := safeForward(ctx, b, 2, hidden, mask, pos, st.cache[i])
		if err != nil {
			return 0, fmt.Errorf("block %d: %w", i, err)
		}
		hidden, st.cache[i] = out[0], out[1]
	}
	out, err := safeForward(ctx, s.lm, 1, hidden)
	if err != nil {
		return 0, fmt.Errorf("lm: %w", err)
	}
	return tokenID(out[0])
}

func tokenID(t *tensor.Tensor) (int, error) {
	id, err := t.Scalar()
	if err != nil {
		return 0, fmt.Errorf("%w: token output: %w", ErrForward, err)
	}
	return id, nil
}
