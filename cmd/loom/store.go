package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/vectorstore"
)

var storePath string

func storePathFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:        "store",
		Aliases:     []string{"s"},
		Usage:       "vector store file",
		Required:    required,
		Destination: &storePath,
	}
}

func storeCmd() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Build and query a vector store of sentence embeddings",
		Commands: []*cli.Command{
			storeAddCmd(),
			storeSearchCmd(),
			storeBenchCmd(),
		},
	}
}

// openStore loads the store at storePath, or starts an empty one when the
// file is missing or holds no entries.
func openStore(ctx context.Context, e *inference.EmbeddingSession) (*vectorstore.Store, error) {
	st, ok, err := vectorstore.Load(storePath, e)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, cli.Exit(fmt.Sprintf("error: load store: %v", err), 1)
	}
	if !ok {
		logger.FromContext(ctx).Debug("starting empty store", "path", storePath)
		return vectorstore.New(e), nil
	}
	return st, nil
}

func storeAddCmd() *cli.Command {
	var file string

	return &cli.Command{
		Name:      "add",
		Usage:     "Embed texts and append them to the store",
		ArgsUsage: "<text>...",
		Flags: append(commonModelFlags(),
			storePathFlag(true),
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read texts from a file, one per line",
				Destination: &file,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			if err := requireModel(); err != nil {
				return err
			}
			texts := cmd.Args().Slice()
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read %s: %v", file, err), 1)
				}
				for line := range strings.Lines(string(data)) {
					if line = strings.TrimSpace(line); line != "" {
						texts = append(texts, line)
					}
				}
			}
			if len(texts) == 0 {
				return cli.Exit("error: no texts to add", 1)
			}

			e, err := openEmbedder(ctx, modelPath, arch)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			st, err := openStore(ctx, e)
			if err != nil {
				return err
			}

			start := time.Now()
			if err := st.AddAll(ctx, texts); err != nil {
				return cli.Exit(fmt.Sprintf("error: add: %v", err), 1)
			}
			if err := st.Save(storePath); err != nil {
				return cli.Exit(fmt.Sprintf("error: save store: %v", err), 1)
			}
			log.Info("store updated",
				"added", len(texts),
				"total", st.Len(),
				"dim", st.Dim(),
				"size", modelSize(storePath),
				"took", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func storeSearchCmd() *cli.Command {
	var k int64

	return &cli.Command{
		Name:      "search",
		Usage:     "Print the stored texts nearest to a query",
		ArgsUsage: "<query>",
		Flags: append(commonModelFlags(),
			storePathFlag(true),
			&cli.Int64Flag{
				Name:        "k",
				Usage:       "number of results",
				Value:       5,
				Destination: &k,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			if err := requireModel(); err != nil {
				return err
			}
			query := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return cli.Exit("error: query is required", 1)
			}

			e, err := openEmbedder(ctx, modelPath, arch)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()
			st, ok, err := vectorstore.Load(storePath, e)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load store: %v", err), 1)
			}
			if !ok {
				return cli.Exit(fmt.Sprintf("error: store %s is empty", storePath), 1)
			}

			q, err := e.Embed(ctx, query)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: embed query: %v", err), 1)
			}
			hits, err := st.SearchVector(q, int(k))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: search: %v", err), 1)
			}
			for i, h := range hits {
				fmt.Printf("%2d. [%.4f] %s\n", i+1, h.Distance, h.Text)
			}
			return nil
		},
	}
}

func storeBenchCmd() *cli.Command {
	var (
		n    int64
		dim  int64
		k    int64
		seed int64
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time one search over a store of random vectors",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "n", Usage: "stored vectors", Value: 50000, Destination: &n},
			&cli.Int64Flag{Name: "dim", Usage: "vector width", Value: 1024, Destination: &dim},
			&cli.Int64Flag{Name: "k", Usage: "number of results", Value: 5, Destination: &k},
			&cli.Int64Flag{Name: "seed", Usage: "random seed", Value: 1, Destination: &seed},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if n <= 0 || dim <= 0 {
				return cli.Exit("error: --n and --dim must be positive", 1)
			}
			start := time.Now()
			st := vectorstore.Random(int(n), int(dim), uint64(seed))
			built := time.Since(start)

			r := rand.New(rand.NewPCG(uint64(seed)+2, uint64(seed)+3))
			q := make([]float32, dim)
			for i := range q {
				q[i] = r.Float32()
			}
			start = time.Now()
			hits, err := st.SearchVector(q, int(k))
			if err != nil {
				return err
			}
			took := time.Since(start)

			fmt.Printf("store:  %s vectors x %d (%s)\n",
				humanize.Comma(n), dim, humanize.IBytes(uint64(n*dim*4)))
			fmt.Printf("build:  %s\n", built.Round(time.Millisecond))
			fmt.Printf("search: %s\n", took.Round(time.Microsecond))
			for i, h := range hits {
				fmt.Printf("%2d. #%s  %.4f\n", i+1, h.Text, h.Distance)
			}
			return nil
		},
	}
}
