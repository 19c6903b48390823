package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/inference"
)

var (
	modelPath     string
	arch          string
	backendName   string
	device        string
	threads       int64
	precision     string
	memory        string
	moduleExt     string
	diskEmbedding bool
	logLevel      string
	logFormat     string
	debug         bool
)

func commonModelFlags() []cli.Flag {
	def := backend.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model directory, or a single-file model",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "arch",
			Usage:       "architecture id (defaults to the model path's name)",
			Destination: &arch,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "execution backend (auto, toy)",
			Value:       backend.Auto,
			Destination: &backendName,
		},
		&cli.StringFlag{
			Name:        "device",
			Usage:       "device the backend should run on",
			Value:       def.Device,
			Destination: &device,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Aliases:     []string{"t"},
			Usage:       "engine thread count",
			Value:       int64(def.Threads),
			Destination: &threads,
		},
		&cli.StringFlag{
			Name:        "precision",
			Usage:       "numeric precision tier (low, normal, high)",
			Value:       string(def.Precision),
			Destination: &precision,
		},
		&cli.StringFlag{
			Name:        "memory",
			Usage:       "memory tier (low, normal, high)",
			Value:       string(def.Memory),
			Destination: &memory,
		},
		&cli.StringFlag{
			Name:        "module-ext",
			Usage:       "file extension of per-module artifacts",
			Value:       inference.DefaultModuleExt,
			Destination: &moduleExt,
		},
		&cli.BoolFlag{
			Name:        "disk-embedding",
			Usage:       "read token embeddings from embeddings_bf16.bin",
			Destination: &diskEmbedding,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func engineConfig() backend.Config {
	return backend.Config{
		Device:    device,
		Threads:   int(threads),
		Precision: backend.Precision(precision),
		Memory:    backend.Memory(memory),
	}
}
