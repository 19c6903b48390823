package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/api"
	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr           string
		readTimeout    time.Duration
		embeddingModel string
		maxNewTokens   int64
		endWith        string
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve chat, embeddings and vector search over HTTP",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.StringFlag{
				Name:        "embedding-model",
				Usage:       "sentence embedding model for /v1/embeddings and the store",
				Destination: &embeddingModel,
			},
			storePathFlag(false),
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Usage:       "cap on tokens per response, prefill included",
				Value:       inference.DefaultMaxNewTokens,
				Destination: &maxNewTokens,
			},
			&cli.StringFlag{
				Name:        "end-with",
				Usage:       "text appended to every response stream",
				Value:       inference.DefaultEndWith,
				Destination: &endWith,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyModelConfig(cmd, fileConfig)
			applyGenerationConfig(cmd, fileConfig, &maxNewTokens, &endWith, nil)
			applyServeConfig(cmd, fileConfig, &addr)
			if modelPath == "" && embeddingModel == "" {
				return cli.Exit("error: --model or --embedding-model is required", 1)
			}
			if storePath != "" && embeddingModel == "" {
				return cli.Exit("error: --store needs --embedding-model", 1)
			}

			cfg := api.Config{Model: modelID(), StorePath: storePath, Logger: log}
			if modelPath != "" {
				s, err := openChat(ctx, sessionOptions(log, maxNewTokens, &endWith))
				if err != nil {
					return err
				}
				defer func() { _ = s.Close() }()
				cfg.Chat = s
			}
			if embeddingModel != "" {
				e, err := openEmbedder(ctx, embeddingModel, "")
				if err != nil {
					return err
				}
				defer func() { _ = e.Close() }()
				cfg.Embedder = e
				if cfg.Model == "" {
					cfg.Model = embeddingModel
				}
				if storePath != "" {
					st, err := openStore(ctx, e)
					if err != nil {
						return err
					}
					log.Info("store ready", "path", storePath, "entries", st.Len())
					cfg.Store = st
				}
			}

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			api.NewServer(cfg).Register(e)

			log.Info("starting server", "address", addr)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			if err := sc.Start(ctx, e); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
}
