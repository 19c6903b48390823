package tokenizer

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func writeVocab(t *testing.T, tokens ...string) string {
	t.Helper()
	var b strings.Builder
	for _, tok := range tokens {
		b.WriteString(base64.StdEncoding.EncodeToString([]byte(tok)))
		b.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "tokenizer.txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	return path
}

func TestLoadEncodeDecode(t *testing.T) {
	t.Parallel()
	path := writeVocab(t, "", "h", "he", "hell", "o", " ", "world", "<0x21>")
	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Size() != 8 {
		t.Fatalf("Size = %d", v.Size())
	}
	ids, err := v.Encode("hello world!")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []int{3, 4, 5, 6, 7}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("Encode = %v, want %v", ids, want)
	}
	text, err := v.Decode(ids)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "hello world<0x21>" {
		t.Fatalf("Decode = %q", text)
	}
}

func TestEncodeUnknownByte(t *testing.T) {
	t.Parallel()
	v := New([]string{"a"})
	if _, err := v.Encode("ab"); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected ErrUnknownToken, got %v", err)
	}
}

func TestDecodeOutOfRange(t *testing.T) {
	t.Parallel()
	v := New([]string{"a"})
	if _, err := v.Decode([]int{1}); err == nil {
		t.Fatal("expected error for out of range id")
	}
	if v.Token(-1) != "" {
		t.Fatal("Token(-1) should be empty")
	}
}

func TestReadRejectsBadLines(t *testing.T) {
	t.Parallel()
	if _, err := Read(strings.NewReader("!!!not base64\n")); err == nil {
		t.Fatal("expected base64 error")
	}
	if _, err := Read(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty vocabulary")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()
	v := New([]string{"", "a", "\n", "<0x0A>", "问"})
	path := filepath.Join(t.TempDir(), "tokenizer.txt")
	if err := v.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got.tokens, v.tokens) {
		t.Fatalf("tokens = %q, want %q", got.tokens, v.tokens)
	}
}
