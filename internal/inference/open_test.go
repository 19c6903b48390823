package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	bfloat16 "github.com/d4l3k/go-bfloat16"

	"github.com/samcharles93/loom/internal/backend/toy"
	"github.com/samcharles93/loom/internal/model"
)

const testVocabSize = 9

// tinyQwen is qwen-1.8b shrunk to something the toy backend runs instantly.
func tinyQwen(t *testing.T, layers int) *model.Variant {
	t.Helper()
	return tiny(t, "qwen-1.8b", layers)
}

func tiny(t *testing.T, id string, layers int) *model.Variant {
	t.Helper()
	base, err := model.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	v := *base
	v.Layers = layers
	v.HiddenSize = 8
	v.KVShape = []int{2, 1, 0, 2, 4}
	return &v
}

// bf16Weights returns toy weights whose embedding table survives a bf16
// round trip unchanged.
func bf16Weights(seed uint64) *toy.Weights {
	w := toy.Random(testVocabSize, 8, seed)
	w.Emb = bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(w.Emb))
	return w
}

func writeTokenizer(t *testing.T, dir string) {
	t.Helper()
	if err := testVocab().Save(filepath.Join(dir, tokenizerFile)); err != nil {
		t.Fatalf("save tokenizer: %v", err)
	}
}

func writeModelDir(t *testing.T, w *toy.Weights, layers int, disk bool) string {
	t.Helper()
	dir := t.TempDir()
	writeTokenizer(t, dir)
	names := []string{"lm"}
	for i := range layers {
		names = append(names, fmt.Sprintf("block_%d", i))
	}
	if disk {
		raw := bfloat16.EncodeFloat32(w.Emb)
		if err := os.WriteFile(filepath.Join(dir, diskEmbeddingFile), raw, 0o644); err != nil {
			t.Fatalf("write disk embedding: %v", err)
		}
	} else {
		names = append(names, "embedding")
	}
	for _, name := range names {
		if err := w.Save(filepath.Join(dir, name+DefaultModuleExt)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}
	return dir
}

func TestOpenMultiModuleRespond(t *testing.T) {
	t.Parallel()
	dir := writeModelDir(t, bf16Weights(1), 2, false)
	var progress [][2]int
	s, err := Open(context.Background(), toy.Backend{}, tinyQwen(t, 2), dir, Options{
		MaxNewTokens: 4,
		Progress:     func(done, total int) { progress = append(progress, [2]int{done, total}) },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if s.SingleFile() {
		t.Fatalf("directory opened as single file")
	}
	if len(progress) != 4 || progress[3] != [2]int{4, 4} {
		t.Fatalf("progress = %v", progress)
	}

	var sink strings.Builder
	got, err := s.Respond(context.Background(), "ab", &sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if sink.String() != got+"\n" {
		t.Fatalf("stream %q does not match text %q", sink.String(), got)
	}
	if c := s.Counters(); c.GenSeqLen != 4 || c.AllSeqLen != 11+3 {
		t.Fatalf("counters = %+v", c)
	}
	if n := len(s.History()); n != 11+4 {
		t.Fatalf("history len = %d", n)
	}
}

func TestDiskEmbeddingMatchesModule(t *testing.T) {
	t.Parallel()
	// phi-2 frames the query without special ids, so every id stays inside
	// the small embedding table.
	w := bf16Weights(7)
	run := func(disk bool) (string, []int) {
		dir := writeModelDir(t, w, 1, disk)
		s, err := Open(context.Background(), toy.Backend{}, tiny(t, "phi-2", 1), dir, Options{
			MaxNewTokens:  6,
			DiskEmbedding: disk,
		})
		if err != nil {
			t.Fatalf("Open(disk=%v): %v", disk, err)
		}
		defer func() { _ = s.Close() }()
		text, err := s.Respond(context.Background(), "ab", nil)
		if err != nil {
			t.Fatalf("Respond(disk=%v): %v", disk, err)
		}
		return text, s.History()
	}
	modText, modHist := run(false)
	diskText, diskHist := run(true)
	if modText != diskText || !reflect.DeepEqual(modHist, diskHist) {
		t.Fatalf("disk embedding diverged: %q %v vs %q %v", diskText, diskHist, modText, modHist)
	}
}

func TestDiskEmbeddingRejectsBadSize(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), diskEmbeddingFile)
	if err := os.WriteFile(path, make([]byte, 17), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := openDiskEmbedder(path, 8); !errors.Is(err, ErrMalformedModel) {
		t.Fatalf("err = %v", err)
	}
}

func TestDiskEmbedderOutOfRange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), diskEmbeddingFile)
	if err := os.WriteFile(path, make([]byte, 2*8*3), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	d, err := openDiskEmbedder(path, 8)
	if err != nil {
		t.Fatalf("openDiskEmbedder: %v", err)
	}
	defer func() { _ = d.Close() }()
	if _, err := d.Embed(context.Background(), []int{0, 3}); !errors.Is(err, ErrForward) {
		t.Fatalf("err = %v", err)
	}
	h, err := d.Embed(context.Background(), []int{2, 1})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !reflect.DeepEqual(h.Shape(), []int{2, 1, 8}) {
		t.Fatalf("shape = %v", h.Shape())
	}
}

func TestOpenSingleFileWithSidecar(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTokenizer(t, dir)
	path := filepath.Join(dir, "qwen-1.8b-int4.mnn")
	if err := os.WriteFile(path, []byte("graph"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := bf16Weights(3).Save(path + weightSuffix); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := Open(context.Background(), toy.Backend{}, tinyQwen(t, 2), path, Options{MaxNewTokens: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()
	if !s.SingleFile() {
		t.Fatalf("file opened as multi-module")
	}
	if _, err := s.Respond(context.Background(), "ab", nil); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if s.Counters().GenSeqLen != 3 {
		t.Fatalf("counters = %+v", s.Counters())
	}
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	missingBlock := writeModelDir(t, bf16Weights(1), 1, false)
	noTokenizer := writeModelDir(t, bf16Weights(1), 2, false)
	if err := os.Remove(filepath.Join(noTokenizer, tokenizerFile)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	bge, err := model.ResolveEmbedding("bge-large-zh")
	if err != nil {
		t.Fatalf("ResolveEmbedding: %v", err)
	}

	cases := []struct {
		name string
		v    *model.Variant
		path string
		want error
	}{
		{"missing path", tinyQwen(t, 2), filepath.Join(t.TempDir(), "nope"), ErrResource},
		{"missing block", tinyQwen(t, 2), missingBlock, ErrMalformedModel},
		{"missing tokenizer", tinyQwen(t, 2), noTokenizer, ErrResource},
		{"embedding variant", bge, missingBlock, ErrMalformedModel},
	}
	for _, tc := range cases {
		if _, err := Open(ctx, toy.Backend{}, tc.v, tc.path, Options{}); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestOpenRejectsBadEngineConfig(t *testing.T) {
	t.Parallel()
	dir := writeModelDir(t, bf16Weights(1), 1, false)
	opts := Options{}
	opts.Engine.Threads = -2
	if _, err := Open(context.Background(), toy.Backend{}, tinyQwen(t, 1), dir, opts); !errors.Is(err, ErrMalformedModel) {
		t.Fatalf("err = %v", err)
	}
}
