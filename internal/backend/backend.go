// Package backend defines the boundary to tensor execution engines. A backend
// loads model artifacts as Modules and runs forward passes over named tensor
// inputs; everything behind that boundary is opaque to the session layer.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/loom/internal/tensor"
)

const (
	Auto = "auto"
	CPU  = "cpu"
)

type Precision string

const (
	PrecisionLow    Precision = "low"
	PrecisionNormal Precision = "normal"
	PrecisionHigh   Precision = "high"
)

type Memory string

const (
	MemoryLow    Memory = "low"
	MemoryNormal Memory = "normal"
	MemoryHigh   Memory = "high"
)

var (
	ErrUnknownBackend = errors.New("unknown backend")
	ErrBadInputs      = errors.New("backend: unexpected inputs")
)

// Config carries the engine settings applied when a module is loaded.
type Config struct {
	Device    string
	Threads   int
	Precision Precision
	Memory    Memory
	// ExternalFile names a sidecar holding the module's weights.
	ExternalFile string
	Options      map[string]string
}

func DefaultConfig() Config {
	return Config{
		Device:    CPU,
		Threads:   4,
		Precision: PrecisionLow,
		Memory:    MemoryLow,
	}
}

func (c Config) Validate() error {
	if c.Threads < 0 {
		return fmt.Errorf("threads must be >= 0, got %d", c.Threads)
	}
	switch c.Precision {
	case "", PrecisionLow, PrecisionNormal, PrecisionHigh:
	default:
		return fmt.Errorf("unknown precision %q (expected low, normal or high)", c.Precision)
	}
	switch c.Memory {
	case "", MemoryLow, MemoryNormal, MemoryHigh:
	default:
		return fmt.Errorf("unknown memory tier %q (expected low, normal or high)", c.Memory)
	}
	return nil
}

// WithExternalFile returns a copy of c pointing at a weights sidecar.
func (c Config) WithExternalFile(path string) Config {
	c.ExternalFile = path
	return c
}

// Module is one loaded artifact. Forward consumes inputs in the order given
// to Load and returns outputs in the order requested there.
type Module interface {
	Forward(ctx context.Context, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
	Close() error
}

type Backend interface {
	Name() string
	Load(ctx context.Context, path string, inputs, outputs []string, cfg Config) (Module, error)
}

func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Auto
	}
	return name
}
