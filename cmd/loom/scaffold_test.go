package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/loom/internal/backend/toy"
	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/model"
)

// shrink keeps a variant's behaviour but makes it cheap to scaffold.
func shrink(t *testing.T, id string, embedding bool) *model.Variant {
	t.Helper()
	resolve := model.Resolve
	if embedding {
		resolve = model.ResolveEmbedding
	}
	v, err := resolve(id)
	if err != nil {
		t.Fatalf("resolve %s: %v", id, err)
	}
	v.Layers = 2
	v.HiddenSize = 8
	if v.KVShape != nil {
		v.KVShape = []int{2, 1, 0, 2, 4}
	}
	return v
}

func TestScaffoldMultiModule(t *testing.T) {
	t.Parallel()
	v := shrink(t, "qwen-vl-chat", false)
	dir := filepath.Join(t.TempDir(), "model")
	sc := &scaffolder{dir: dir, v: v, seed: 3, vocab: toyVocab()}
	var written int
	sc.progress = func() { written++ }

	path, err := sc.write(false, true)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if path != dir {
		t.Fatalf("path = %q, want %q", path, dir)
	}
	if want := sc.files(false, true); written != want {
		t.Fatalf("wrote %d files, want %d", written, want)
	}
	for _, name := range []string{"tokenizer.txt", "embeddings_bf16.bin", "lm.mnn", "embedding.mnn", "visual.mnn", "block_1.mnn"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("missing %s: %v", name, err)
		}
	}

	s, err := inference.Open(context.Background(), toy.Backend{}, v, path, inference.Options{MaxNewTokens: 3})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if _, err := s.Respond(context.Background(), "hi", io.Discard); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got := s.Counters().GenSeqLen; got != 3 {
		t.Fatalf("gen len = %d, want 3", got)
	}
}

// phi-2 frames the raw query, so every prompt id is inside the toy vocabulary
// and the disk table can serve it.
func TestScaffoldDiskEmbedding(t *testing.T) {
	t.Parallel()
	v := shrink(t, "phi-2", false)
	sc := &scaffolder{dir: t.TempDir(), v: v, seed: 5, vocab: toyVocab()}
	path, err := sc.write(false, true)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	var outs [2]string
	for i, disk := range []bool{false, true} {
		s, err := inference.Open(context.Background(), toy.Backend{}, v, path, inference.Options{MaxNewTokens: 4, DiskEmbedding: disk})
		if err != nil {
			t.Fatalf("open (disk=%v): %v", disk, err)
		}
		if outs[i], err = s.Respond(context.Background(), "hello", io.Discard); err != nil {
			t.Fatalf("respond (disk=%v): %v", disk, err)
		}
		_ = s.Close()
	}
	if outs[0] == "" {
		t.Fatalf("empty response")
	}
}

func TestScaffoldSingleFile(t *testing.T) {
	t.Parallel()
	v := shrink(t, "phi-2", false)
	sc := &scaffolder{dir: t.TempDir(), v: v, seed: 1, vocab: toyVocab()}
	path, err := sc.write(true, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(path) != "phi-2.mnn" {
		t.Fatalf("path = %q", path)
	}
	s, err := inference.Open(context.Background(), toy.Backend{}, v, path, inference.Options{MaxNewTokens: 2})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if !s.SingleFile() {
		t.Fatalf("expected single-file session")
	}
	var out strings.Builder
	if _, err := s.Respond(context.Background(), "abc", &out); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if !strings.HasSuffix(out.String(), inference.DefaultEndWith) {
		t.Fatalf("stream %q lacks end marker", out.String())
	}
}

func TestScaffoldEmbedding(t *testing.T) {
	t.Parallel()
	v := shrink(t, "bge-large-zh", true)
	sc := &scaffolder{dir: t.TempDir(), v: v, seed: 1, vocab: toyVocab()}
	path, err := sc.write(true, false)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	e, err := inference.OpenEmbedding(context.Background(), toy.Backend{}, v, path, inference.Options{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = e.Close() }()
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 8 {
		t.Fatalf("dim = %d, want 8", len(vec))
	}
}

func TestToyVocabCoversBytes(t *testing.T) {
	t.Parallel()
	v := toyVocab()
	ids, err := v.Encode("hé")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// 'h' is a printable token; the two UTF-8 bytes of é fall back to byte tokens.
	if len(ids) != 3 || ids[0] != 256+int('h'-' ') || ids[1] != 0xC3 || ids[2] != 0xA9 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestFormatVector(t *testing.T) {
	t.Parallel()
	if got := formatVector([]float32{1, 2}, 8); got != "[1.0000 2.0000]" {
		t.Fatalf("got %q", got)
	}
	if got := formatVector([]float32{1, 2, 3}, 2); got != "[1.0000 2.0000 ... (3 dims)]" {
		t.Fatalf("got %q", got)
	}
}
