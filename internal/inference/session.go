// Package inference drives generation and embedding sessions over a loaded
// model. A Session owns its KV cache, counters and conversation history; it
// is not safe for concurrent use.
package inference

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/model"
	"github.com/samcharles93/loom/internal/tokenizer"
)

// Counters are the sequence counters of the most recent response.
type Counters struct {
	AllSeqLen  int
	GenSeqLen  int
	ContextLen int
}

type Session struct {
	variant *model.Variant
	tok     tokenizer.Tokenizer
	opts    Options
	log     logger.Logger
	single  bool

	// single-file model
	model backend.Module
	// multi-module model
	blocks []backend.Module
	lm     backend.Module
	visual backend.Module
	embed  tokenEmbedder

	history  []int
	images   []model.Image
	stats    Stats
	counters Counters
}

// Open loads the model at path for variant v. A regular file is loaded as a
// single-file model; a directory must hold lm, embedding (unless
// opts.DiskEmbedding), visual (vision variants) and block_<i> artifacts.
func Open(ctx context.Context, be backend.Backend, v *model.Variant, path string, opts Options) (*Session, error) {
	if v == nil || v.EmbeddingOnly() {
		return nil, fmt.Errorf("%w: not a generation variant", ErrMalformedModel)
	}
	opts = opts.withDefaults()
	if err := opts.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedModel, err)
	}
	l, err := detectLayout(path)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With("variant", v.Name)
	opts.Logger = log
	tok, err := loadTokenizer(l, opts)
	if err != nil {
		return nil, err
	}

	s := &Session{variant: v, tok: tok, opts: opts, log: log, single: l.single}
	var (
		jobs     []loadJob
		embedMod backend.Module
	)
	if l.single {
		if opts.DiskEmbedding {
			log.Warn("disk embedding ignored for single-file model")
		}
		jobs = append(jobs, loadJob{"model", l.model, singleInputs, singleOutputs, &s.model})
	} else {
		ext := opts.ModuleExt
		jobs = append(jobs, loadJob{"lm", l.module("lm", ext), headInputs, headOutputs, &s.lm})
		if opts.DiskEmbedding {
			d, err := openDiskEmbedder(filepath.Join(l.root, diskEmbeddingFile), v.HiddenSize)
			if err != nil {
				return nil, err
			}
			s.embed = d
		} else {
			jobs = append(jobs, loadJob{"embedding", l.module("embedding", ext), embedInputs, embedOutputs, &embedMod})
		}
		if v.Visual != nil {
			jobs = append(jobs, loadJob{"visual", l.module("visual", ext), visualInputs, visualOutputs, &s.visual})
		}
		s.blocks = make([]backend.Module, v.Layers)
		for i := range s.blocks {
			name := fmt.Sprintf("block_%d", i)
			jobs = append(jobs, loadJob{name, l.module(name, ext), blockInputs, blockOutputs, &s.blocks[i]})
		}
	}

	log.Info("loading model", "path", path, "single_file", l.single, "modules", len(jobs))
	if err := loadModules(ctx, be, jobs, opts); err != nil {
		if s.embed != nil {
			_ = s.embed.Close()
			s.embed = nil
		}
		return nil, err
	}
	if embedMod != nil {
		s.embed = &moduleEmbedder{m: embedMod, hidden: v.HiddenSize}
	}
	log.Info("model loaded")
	return s, nil
}

func (s *Session) Variant() *model.Variant { return s.variant }

// SingleFile reports which execution path the session uses.
func (s *Session) SingleFile() bool { return s.single }

// Tokenizer returns the vocabulary used for framing and decoding.
func (s *Session) Tokenizer() tokenizer.Tokenizer { return s.tok }

// Stats returns timings of the most recent response.
func (s *Session) Stats() Stats { return s.stats }

func (s *Session) Counters() Counters { return s.counters }

// History returns a copy of the conversation token history.
func (s *Session) History() []int { return slices.Clone(s.history) }

// Reset forgets the conversation.
func (s *Session) Reset() {
	s.history = nil
	s.images = nil
	s.counters = Counters{}
	s.stats = Stats{}
}

func (s *Session) Close() error {
	mods := append([]backend.Module{s.model, s.lm, s.visual}, s.blocks...)
	err := closeAll(mods...)
	if s.embed != nil {
		if cerr := s.embed.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Respond generates a reply to query, streaming each decoded fragment to w
// as soon as it is produced, followed by the end marker. The returned text
// excludes the end marker. On a forward failure the text produced so far is
// returned together with the error and the session is ready for the next
// call; history keeps the tokens already accepted.
func (s *Session) Respond(ctx context.Context, query string, w io.Writer) (string, error) {
	if w == nil {
		w = io.Discard
	}
	firstTurn := len(s.history) == 0
	prompt, err := s.frame(query, firstTurn)
	if err != nil {
		return "", err
	}
	if s.single && len(prompt.Images) > 0 {
		return "", fmt.Errorf("%w: single-file model has no visual module for %d image(s)", ErrMalformedModel, len(prompt.Images))
	}
	ids, images := s.extendHistory(prompt, firstTurn)

	var out strings.Builder
	emit := func(text string) error {
		out.WriteString(text)
		_, err := io.WriteString(w, text)
		return err
	}
	st := s.newState(prompt.ContextLen)
	err = s.run(ctx, st, ids, images, emit)
	s.stats = st.stats
	s.counters = Counters{AllSeqLen: st.allSeqLen, GenSeqLen: st.genSeqLen, ContextLen: st.contextLen}
	text := strings.TrimSuffix(out.String(), *s.opts.EndWith)
	if err != nil {
		s.counters = Counters{}
		s.log.Warn("response aborted", "error", err, "generated", st.genSeqLen)
		return text, err
	}
	s.log.Debug("response done",
		"prompt_tokens", s.stats.PromptTokens,
		"output_tokens", s.stats.OutputTokens,
		"prefill", s.stats.Prefill,
		"decode", s.stats.Decode,
	)
	return text, nil
}

// Warmup issues one throw-away forward call so the engine can allocate its
// buffers before the first real response.
func (s *Session) Warmup(ctx context.Context) error {
	st := s.newState(0)
	if _, err := s.forward(ctx, st, []int{0}, nil); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

func (s *Session) frame(query string, firstTurn bool) (p model.Prompt, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in prompt template: %v", rec)
		}
	}()
	p, err = s.variant.Template(s.tok, query, firstTurn)
	if err != nil {
		return model.Prompt{}, fmt.Errorf("encode prompt: %w", err)
	}
	if len(p.IDs) == 0 {
		return model.Prompt{}, fmt.Errorf("encode prompt: empty token sequence")
	}
	return p, nil
}

// extendHistory appends the turn to the conversation and returns the full
// sequence to prefill.
func (s *Session) extendHistory(p model.Prompt, firstTurn bool) ([]int, []model.Image) {
	if firstTurn {
		s.history = slices.Clone(p.IDs)
		s.images = slices.Clone(p.Images)
	} else {
		base := len(s.history)
		s.history = append(s.history, p.IDs...)
		for _, im := range p.Images {
			im.Offset += base
			s.images = append(s.images, im)
		}
	}
	return slices.Clone(s.history), slices.Clone(s.images)
}

func (s *Session) decode(id int) (string, error) {
	text, err := s.tok.Decode([]int{id})
	if err != nil {
		return "", fmt.Errorf("%w: decode token %d: %w", ErrForward, id, err)
	}
	return repairByteToken(text), nil
}
