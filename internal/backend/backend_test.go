package backend

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type stubBackend struct{ name string }

func (b stubBackend) Name() string { return b.name }
func (b stubBackend) Load(context.Context, string, []string, []string, Config) (Module, error) {
	return nil, errors.New("stub")
}

func TestRegistryResolve(t *testing.T) {
	Register("Stub-A", func() (Backend, error) { return stubBackend{"stub-a"}, nil })

	b, err := New("  STUB-A ")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.Name() != "stub-a" {
		t.Fatalf("Name = %q", b.Name())
	}
	if !slices.Contains(Available(), "stub-a") {
		t.Fatalf("Available() = %v", Available())
	}
	if _, err := New(""); err != nil {
		t.Fatalf("auto resolution failed: %v", err)
	}
	if _, err := New("missing"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("duplicate Register should panic")
		}
	}()
	Register("stub-a", func() (Backend, error) { return stubBackend{}, nil })
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []Config{
		{Threads: -1},
		{Precision: "ultra"},
		{Memory: "tiny"},
	}
	for _, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
	c := DefaultConfig().WithExternalFile("m.mnn.weight")
	if c.ExternalFile != "m.mnn.weight" || c.Threads != 4 {
		t.Fatalf("WithExternalFile = %+v", c)
	}
}
