package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/d4l3k/go-bfloat16"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/backend/toy"
	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/model"
	"github.com/samcharles93/loom/internal/tokenizer"
)

func scaffoldCmd() *cli.Command {
	var (
		out    string
		single bool
		disk   bool
		seed   int64
	)

	return &cli.Command{
		Name:  "scaffold",
		Usage: "Write a random toy-backend model for a variant",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "arch",
				Usage:       "variant id, e.g. qwen-1.8b or bge",
				Required:    true,
				Destination: &arch,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory",
				Required:    true,
				Destination: &out,
			},
			&cli.BoolFlag{
				Name:        "single",
				Usage:       "write one combined model file instead of per-module files",
				Destination: &single,
			},
			&cli.BoolFlag{
				Name:        "disk-embedding",
				Usage:       "also write embeddings_bf16.bin",
				Destination: &disk,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "weight seed",
				Value:       1,
				Destination: &seed,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			v, err := model.Resolve(arch)
			if err != nil {
				if v, err = model.ResolveEmbedding(arch); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			}
			if v.EmbeddingOnly() {
				single = true
			}

			sc := &scaffolder{dir: out, v: v, seed: uint64(seed), vocab: toyVocab()}
			total := sc.files(single, disk)
			bar := progressbar.NewOptions(total,
				progressbar.OptionSetDescription("writing "+v.Name),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			sc.progress = func() { _ = bar.Add(1) }
			path, err := sc.write(single, disk)
			_ = bar.Finish()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("scaffolded model", "variant", v.Name, "path", path, "files", total)
			return nil
		},
	}
}

// toyVocab is a byte-level vocabulary: every <0xHH> byte token followed by
// the printable ASCII characters.
func toyVocab() *tokenizer.Vocab {
	tokens := make([]string, 0, 256+95)
	for b := range 256 {
		tokens = append(tokens, fmt.Sprintf("<0x%02X>", b))
	}
	for c := byte(' '); c <= '~'; c++ {
		tokens = append(tokens, string(c))
	}
	return tokenizer.New(tokens)
}

type scaffolder struct {
	dir      string
	v        *model.Variant
	seed     uint64
	vocab    *tokenizer.Vocab
	progress func()
}

// files is the number of artifacts write produces, tokenizer included.
func (s *scaffolder) files(single, disk bool) int {
	if single {
		return 2
	}
	// tokenizer, lm and embedding
	n := 3 + s.v.Layers
	if disk {
		n++
	}
	if s.v.Visual != nil {
		n++
	}
	return n
}

func (s *scaffolder) done() {
	if s.progress != nil {
		s.progress()
	}
}

func (s *scaffolder) save(w *toy.Weights, name string) error {
	if err := w.Save(filepath.Join(s.dir, name+inference.DefaultModuleExt)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	s.done()
	return nil
}

// write lays out the model and returns the path to pass to --model.
func (s *scaffolder) write(single, disk bool) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", err
	}
	if err := s.vocab.Save(filepath.Join(s.dir, "tokenizer.txt")); err != nil {
		return "", err
	}
	s.done()

	hidden := s.v.HiddenSize
	w := toy.Random(s.vocab.Size(), hidden, s.seed)
	if single {
		name := s.v.Name
		if err := s.save(w, name); err != nil {
			return "", err
		}
		return filepath.Join(s.dir, name+inference.DefaultModuleExt), nil
	}

	if err := s.save(w, "lm"); err != nil {
		return "", err
	}
	if disk {
		raw := bfloat16.EncodeFloat32(w.Emb)
		if err := os.WriteFile(filepath.Join(s.dir, "embeddings_bf16.bin"), raw, 0o644); err != nil {
			return "", err
		}
		s.done()
	}
	if err := s.save(w, "embedding"); err != nil {
		return "", err
	}
	for i := range s.v.Layers {
		if err := s.save(toy.Random(1, hidden, s.seed+uint64(i)+1), fmt.Sprintf("block_%d", i)); err != nil {
			return "", err
		}
	}
	if vc := s.v.Visual; vc != nil {
		if err := s.save(toy.Random(vc.PadLen, hidden, s.seed^0xfeed), "visual"); err != nil {
			return "", err
		}
	}
	return s.dir, nil
}
