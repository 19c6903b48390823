package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the loom configuration file (~/.config/loom/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Engine
	Backend   string `yaml:"backend"`
	Device    string `yaml:"device"`
	Threads   *int64 `yaml:"threads"`
	Precision string `yaml:"precision"`
	Memory    string `yaml:"memory"`

	// Generation
	MaxNewTokens  *int64  `yaml:"max_new_tokens"`
	EndWith       *string `yaml:"end_with"`
	DiskEmbedding *bool   `yaml:"disk_embedding"`
	ModuleExt     string  `yaml:"module_ext"`

	// Output
	StreamMode string `yaml:"stream_mode"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

// fileConfig is loaded once before any command runs.
var fileConfig Config

func configPath() string {
	if p := os.Getenv("LOOM_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "loom", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the engine flags when the
// corresponding flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg Config) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		backendName = cfg.Backend
	}
	if cfg.Device != "" && !c.IsSet("device") {
		device = cfg.Device
	}
	if cfg.Threads != nil && !c.IsSet("threads") {
		threads = *cfg.Threads
	}
	if cfg.Precision != "" && !c.IsSet("precision") {
		precision = cfg.Precision
	}
	if cfg.Memory != "" && !c.IsSet("memory") {
		memory = cfg.Memory
	}
	if cfg.ModuleExt != "" && !c.IsSet("module-ext") {
		moduleExt = cfg.ModuleExt
	}
	if cfg.DiskEmbedding != nil && !c.IsSet("disk-embedding") {
		diskEmbedding = *cfg.DiskEmbedding
	}
}

func applyGenerationConfig(c *cli.Command, cfg Config, maxNewTokens *int64, endWith, streamMode *string) {
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") {
		*maxNewTokens = *cfg.MaxNewTokens
	}
	if cfg.EndWith != nil && !c.IsSet("end-with") {
		*endWith = *cfg.EndWith
	}
	if streamMode != nil && cfg.StreamMode != "" && !c.IsSet("stream-mode") {
		*streamMode = cfg.StreamMode
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
