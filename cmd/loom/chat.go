package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/logger"
)

func chatCmd() *cli.Command {
	var (
		maxNewTokens int64
		endWith      string
		streamMode   string
		prompt       string
		promptFile   string
		warmup       bool
		showStats    bool
	)

	return &cli.Command{
		Name:    "chat",
		Aliases: []string{"run"},
		Usage:   "Chat with a model interactively, or answer one prompt",
		Flags: append(commonModelFlags(),
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Aliases:     []string{"n"},
				Usage:       "cap on tokens per response, prefill included",
				Value:       inference.DefaultMaxNewTokens,
				Destination: &maxNewTokens,
			},
			&cli.StringFlag{
				Name:        "end-with",
				Usage:       "text written after every response",
				Value:       inference.DefaultEndWith,
				Destination: &endWith,
			},
			&cli.StringFlag{
				Name:        "stream-mode",
				Usage:       "output streaming (instant, smooth, quiet)",
				Value:       string(StreamInstant),
				Destination: &streamMode,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "answer one prompt and exit",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "prompt-file",
				Usage:       "answer each non-empty line of a file in turn",
				Destination: &promptFile,
			},
			&cli.BoolFlag{
				Name:        "warmup",
				Usage:       "run one throwaway forward pass after loading",
				Destination: &warmup,
			},
			&cli.BoolFlag{
				Name:        "stats",
				Usage:       "print speed statistics after each response",
				Value:       true,
				Destination: &showStats,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			applyGenerationConfig(cmd, fileConfig, &maxNewTokens, &endWith, &streamMode)
			if err := requireModel(); err != nil {
				return err
			}
			mode, err := parseStreamMode(streamMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			s, err := openChat(ctx, sessionOptions(log, maxNewTokens, &endWith))
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					log.Warn("close session", "error", err)
				}
			}()

			if warmup {
				if err := s.Warmup(ctx); err != nil {
					log.Warn("warmup failed", "error", err)
				}
			}

			c := &chatLoop{s: s, out: NewStreamWriter(os.Stdout, mode), stats: showStats}
			switch {
			case prompt != "":
				return c.turn(ctx, prompt)
			case promptFile != "":
				data, err := os.ReadFile(promptFile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: read prompt file: %v", err), 1)
				}
				for line := range strings.Lines(string(data)) {
					line = strings.TrimSpace(line)
					if line == "" {
						continue
					}
					fmt.Printf("%s%s\n%s", queryLabel, line, answerLabel)
					if err := c.turn(ctx, line); err != nil {
						return err
					}
				}
				return nil
			default:
				return c.interactive(ctx)
			}
		},
	}
}

var (
	queryLabel  = color.New(color.FgCyan, color.Bold).Sprint("Q: ")
	answerLabel = color.New(color.FgGreen, color.Bold).Sprint("A: ")
)

type chatLoop struct {
	s     *inference.Session
	out   *StreamWriter
	stats bool
}

func (c *chatLoop) turn(ctx context.Context, query string) error {
	_, err := c.s.Respond(ctx, query, c.out)
	if ferr := c.out.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Println()
		return cli.Exit(fmt.Sprintf("error: generation: %v", err), 1)
	}
	if c.stats {
		_ = c.s.Stats().Report(os.Stderr)
	}
	return nil
}

func (c *chatLoop) interactive(ctx context.Context) error {
	log := logger.FromContext(ctx)
	_, _ = fmt.Fprintln(os.Stderr, "Interactive mode. Type /reset to clear the conversation, /exit to quit.")
	defer c.s.Reset()
	for {
		input, err := readInteractiveLine(queryLabel)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: read input: %v", err), 1)
		}
		switch strings.TrimSpace(input) {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			c.s.Reset()
			_, _ = color.New(color.Faint).Fprintln(os.Stderr, "conversation cleared")
			continue
		}

		fmt.Print(answerLabel)
		if _, err := c.s.Respond(ctx, input, c.out); err != nil {
			_ = c.out.Flush()
			fmt.Println()
			if ctx.Err() != nil {
				return nil
			}
			log.Error("generation failed", "error", err)
			continue
		}
		_ = c.out.Flush()
		if c.stats {
			_ = c.s.Stats().Report(os.Stderr)
		}
	}
}
