package inference

import (
	"net/http"
	"time"

	"github.com/samcharles93/loom/internal/backend"
	"github.com/samcharles93/loom/internal/logger"
	"github.com/samcharles93/loom/internal/tokenizer"
)

const (
	DefaultMaxNewTokens = 1024
	DefaultEndWith      = "\n"
	DefaultModuleExt    = ".mnn"

	tokenizerFile     = "tokenizer.txt"
	diskEmbeddingFile = "embeddings_bf16.bin"
	weightSuffix      = ".weight"
)

// Options configures Open and OpenEmbedding.
type Options struct {
	// MaxNewTokens caps generated tokens per response, prefill included.
	MaxNewTokens int
	// EndWith is written to the sink when a response stops.
	EndWith *string
	Engine  backend.Config
	// DiskEmbedding reads token embeddings from embeddings_bf16.bin instead
	// of running the embedding module.
	DiskEmbedding bool
	ModuleExt     string
	// LoadConcurrency bounds parallel block loads. Zero means 4.
	LoadConcurrency int

	// Progress is called after each module finishes loading.
	Progress func(done, total int)
	Logger   logger.Logger
	// Tokenizer overrides the vocabulary file next to the model.
	Tokenizer  tokenizer.Tokenizer
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.MaxNewTokens <= 0 {
		o.MaxNewTokens = DefaultMaxNewTokens
	}
	if o.EndWith == nil {
		end := DefaultEndWith
		o.EndWith = &end
	}
	if o.ModuleExt == "" {
		o.ModuleExt = DefaultModuleExt
	}
	if o.LoadConcurrency <= 0 {
		o.LoadConcurrency = 4
	}
	def := backend.DefaultConfig()
	if o.Engine.Device == "" {
		o.Engine.Device = def.Device
	}
	if o.Engine.Threads == 0 {
		o.Engine.Threads = def.Threads
	}
	if o.Engine.Precision == "" {
		o.Engine.Precision = def.Precision
	}
	if o.Engine.Memory == "" {
		o.Engine.Memory = def.Memory
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return o
}
