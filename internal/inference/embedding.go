package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/model"
	"github.com/samcharles93/loom/internal/tensor"
	"github.com/samcharles93/loom/internal/tokenizer"
)

// EmbeddingSession turns text into fixed-width sentence vectors. It keeps no
// state between calls apart from timing statistics.
type EmbeddingSession struct {
	variant *model.Variant
	tok     tokenizer.Tokenizer
	m       backend.Module
	log     logger.Logger
	stats   Stats
}

// OpenEmbedding loads a single-file sentence-embedding model; the vocabulary
// is read from the same directory.
func OpenEmbedding(ctx context.Context, be backend.Backend, v *model.Variant, path string, opts Options) (*EmbeddingSession, error) {
	if v == nil || !v.EmbeddingOnly() {
		return nil, fmt.Errorf("%w: not an embedding variant", ErrMalformedModel)
	}
	opts = opts.withDefaults()
	if err := opts.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedModel, err)
	}
	l, err := detectLayout(path)
	if err != nil {
		return nil, err
	}
	if !l.single {
		return nil, fmt.Errorf("%w: embedding model %s must be a single file", ErrMalformedModel, path)
	}
	opts.Logger = opts.Logger.With("variant", v.Name)
	tok, err := loadTokenizer(l, opts)
	if err != nil {
		return nil, err
	}
	e := &EmbeddingSession{variant: v, tok: tok, log: opts.Logger}
	if err := loadModules(ctx, be, []loadJob{{"encoder", l.model, bgeInputs, bgeOutputs, &e.m}}, opts); err != nil {
		return nil, err
	}
	return e, nil
}

// Dim is the width of every vector Embed returns.
func (e *EmbeddingSession) Dim() int { return e.variant.HiddenSize }

func (e *EmbeddingSession) Stats() Stats { return e.stats }

func (e *EmbeddingSession) Embed(ctx context.Context, text string) ([]float32, error) {
	p, err := e.variant.Template(e.tok, text, true)
	if err != nil {
		return nil, fmt.Errorf("encode text: %w", err)
	}
	step := model.Step{SeqLen: len(p.IDs), ContextLen: p.ContextLen}
	start := time.Now()
	out, err := safeForward(ctx, e.m, 1,
		tensor.Ints([]int{len(p.IDs)}, p.IDs),
		e.variant.Mask(step),
		e.variant.Position(step),
	)
	e.stats = Stats{PromptTokens: len(p.IDs), Prefill: time.Since(start)}
	if err != nil {
		return nil, err
	}
	vec, err := out[0].Float32s()
	if err != nil {
		return nil, fmt.Errorf("%w: sentence embedding: %w", ErrForward, err)
	}
	if len(vec) != e.Dim() {
		return nil, fmt.Errorf("%w: sentence embedding has %d values, want %d", ErrForward, len(vec), e.Dim())
	}
	return vec, nil
}

func (e *EmbeddingSession) Close() error {
	if e.m == nil {
		return nil
	}
	return e.m.Close()
}
