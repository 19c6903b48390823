package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/backend"
	_ "github.com/samcharles93/loom/internal/backend/toy"
	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/model"
)

// modelID is the identifier variant dispatch matches against.
func modelID() string {
	if id := strings.TrimSpace(arch); id != "" {
		return id
	}
	return modelPath
}

func requireModel() error {
	if strings.TrimSpace(modelPath) == "" {
		return cli.Exit("error: --model is required", 1)
	}
	return nil
}

// loadProgress renders module loading on stderr.
func loadProgress(desc string) (func(done, total int), func()) {
	var bar *progressbar.ProgressBar
	update := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(desc),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
		}
		_ = bar.Set(done)
	}
	finish := func() {
		if bar != nil {
			_ = bar.Finish()
		}
	}
	return update, finish
}

func modelSize(path string) string {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return ""
	}
	return humanize.IBytes(uint64(st.Size()))
}

func sessionOptions(log logger.Logger, maxNewTokens int64, endWith *string) inference.Options {
	return inference.Options{
		MaxNewTokens:  int(maxNewTokens),
		EndWith:       endWith,
		Engine:        engineConfig(),
		DiskEmbedding: diskEmbedding,
		ModuleExt:     moduleExt,
		Logger:        log,
	}
}

// openChat resolves the variant and loads a generation session.
func openChat(ctx context.Context, opts inference.Options) (*inference.Session, error) {
	log := logger.FromContext(ctx)
	v, err := model.Resolve(modelID())
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	be, err := backend.New(backendName)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}

	progress, finish := loadProgress("loading " + v.Name)
	opts.Progress = progress
	start := time.Now()
	s, err := inference.Open(ctx, be, v, modelPath, opts)
	finish()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
	}
	log.Info("model loaded",
		"variant", v.Name,
		"backend", be.Name(),
		"single_file", s.SingleFile(),
		"size", modelSize(modelPath),
		"took", time.Since(start).Round(time.Millisecond))
	return s, nil
}

// openEmbedder loads a sentence embedding session from path.
func openEmbedder(ctx context.Context, path, id string) (*inference.EmbeddingSession, error) {
	log := logger.FromContext(ctx)
	if id == "" {
		id = path
	}
	v, err := model.ResolveEmbedding(id)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	be, err := backend.New(backendName)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	opts := sessionOptions(log, 0, nil)
	progress, finish := loadProgress("loading " + v.Name)
	opts.Progress = progress
	e, err := inference.OpenEmbedding(ctx, be, v, path, opts)
	finish()
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("error: load embedding model: %v", err), 1)
	}
	log.Info("embedding model loaded", "variant", v.Name, "dim", e.Dim(), "size", modelSize(path))
	return e, nil
}
