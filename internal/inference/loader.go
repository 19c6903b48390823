package inference

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/tokenizer"
)

var (
	singleInputs  = []string{"input_ids", "attention_mask", "position_ids", "past_key_values"}
	singleOutputs = []string{"token_id", "presents"}
	blockInputs   = []string{"inputs_embeds", "attention_mask", "position_ids", "past_key_values"}
	blockOutputs  = []string{"hidden_states", "presents"}
	headInputs    = []string{"hidden_states"}
	headOutputs   = []string{"token_id"}
	embedInputs   = []string{"input_ids"}
	embedOutputs  = []string{"inputs_embeds"}
	visualInputs  = []string{"pixel_values"}
	visualOutputs = []string{"image_embeds"}
	bgeInputs     = []string{"input_ids", "attention_mask", "position_ids"}
	bgeOutputs    = []string{"sentence_embeddings"}
)

// layout is where a model's artifacts live. A regular file is a single-file
// model; a directory holds one artifact per module.
type layout struct {
	single    bool
	root      string
	model     string
	tokenizer string
}

func detectLayout(path string) (layout, error) {
	st, err := os.Stat(path)
	if err != nil {
		return layout{}, fmt.Errorf("%w: %w", ErrResource, err)
	}
	if st.IsDir() {
		return layout{root: path, tokenizer: filepath.Join(path, tokenizerFile)}, nil
	}
	if !st.Mode().IsRegular() {
		return layout{}, fmt.Errorf("%w: %s is neither a file nor a directory", ErrMalformedModel, path)
	}
	dir := filepath.Dir(path)
	return layout{single: true, root: dir, model: path, tokenizer: filepath.Join(dir, tokenizerFile)}, nil
}

func (l layout) module(name, ext string) string {
	return filepath.Join(l.root, name+ext)
}

func loadTokenizer(l layout, opts Options) (tokenizer.Tokenizer, error) {
	if opts.Tokenizer != nil {
		return opts.Tokenizer, nil
	}
	opts.Logger.Info("loading tokenizer", "path", l.tokenizer)
	v, err := tokenizer.Load(l.tokenizer)
	if err != nil {
		return nil, fmt.Errorf("%w: tokenizer: %w", ErrResource, err)
	}
	return v, nil
}

// engineConfig adds the weights sidecar for a single-file artifact when one
// exists next to it.
func engineConfig(path string, opts Options) backend.Config {
	cfg := opts.Engine
	sidecar := path + weightSuffix
	if st, err := os.Stat(sidecar); err == nil && st.Mode().IsRegular() {
		return cfg.WithExternalFile(sidecar)
	}
	return cfg
}

type loadJob struct {
	name    string
	path    string
	inputs  []string
	outputs []string
	dst     *backend.Module
}

// loadModules loads every job, in parallel up to opts.LoadConcurrency. All
// artifacts are checked for presence before anything is loaded. On failure
// the modules that did load are closed again.
func loadModules(ctx context.Context, be backend.Backend, jobs []loadJob, opts Options) error {
	for _, j := range jobs {
		if _, err := os.Stat(j.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: missing %s module %s", ErrMalformedModel, j.name, j.path)
			}
			return fmt.Errorf("%w: %w", ErrResource, err)
		}
	}

	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.LoadConcurrency)
	for _, j := range jobs {
		g.Go(func() error {
			opts.Logger.Debug("loading module", "module", j.name, "path", j.path)
			m, err := be.Load(gctx, j.path, j.inputs, j.outputs, engineConfig(j.path, opts))
			if err != nil {
				return fmt.Errorf("%w: load %s: %w", ErrResource, j.name, err)
			}
			mu.Lock()
			defer mu.Unlock()
			*j.dst = m
			done++
			if opts.Progress != nil {
				opts.Progress(done, len(jobs))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, j := range jobs {
			if *j.dst != nil {
				_ = (*j.dst).Close()
				*j.dst = nil
			}
		}
		return err
	}
	return nil
}

func closeAll(mods ...backend.Module) error {
	var errs []error
	for _, m := range mods {
		if m != nil {
			errs = append(errs, m.Close())
		}
	}
	return errors.Join(errs...)
}
