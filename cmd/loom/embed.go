package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/logger"
)

func embedCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:      "embed",
		Usage:     "Print sentence embeddings for the given texts",
		ArgsUsage: "<text>...",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print one JSON object per text",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			if err := requireModel(); err != nil {
				return err
			}
			texts := cmd.Args().Slice()
			if len(texts) == 0 {
				return cli.Exit("error: at least one text is required", 1)
			}

			e, err := openEmbedder(ctx, modelPath, arch)
			if err != nil {
				return err
			}
			defer func() { _ = e.Close() }()

			enc := json.NewEncoder(os.Stdout)
			for _, text := range texts {
				vec, err := e.Embed(ctx, text)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: embed %q: %v", text, err), 1)
				}
				if asJSON {
					if err := enc.Encode(map[string]any{"text": text, "embedding": vec}); err != nil {
						return err
					}
					continue
				}
				fmt.Printf("%s\t%s\n", text, formatVector(vec, 8))
			}
			st := e.Stats()
			log.Debug("embedded", "texts", len(texts), "dim", e.Dim(), "tok_s", st.TotalTPS())
			return nil
		},
	}
}

// formatVector prints the first n components of v.
func formatVector(v []float32, n int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i == n {
			fmt.Fprintf(&b, " ... (%d dims)", len(v))
			break
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%.4f", x)
	}
	b.WriteByte(']')
	return b.String()
}
