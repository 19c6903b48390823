// Package tokenizer maps text to token ids and back.
package tokenizer

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Tokenizer is what sessions need from a vocabulary.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

var ErrUnknownToken = errors.New("tokenizer: no token covers input")

// Vocab is a byte-level vocabulary read from a tokenizer.txt file: one token
// per line, base64 encoded, with the token id equal to the line number.
// Encoding is greedy longest match, falling back to <0xHH> byte tokens.
type Vocab struct {
	tokens []string
	ids    map[string]int
	maxLen int
}

// Load reads a vocabulary file.
func Load(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	v, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// Read parses a vocabulary from r.
func Read(r io.Reader) (*Vocab, error) {
	var tokens []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		raw, err := base64.StdEncoding.DecodeString(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", len(tokens)+1, err)
		}
		tokens = append(tokens, string(raw))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty vocabulary")
	}
	return New(tokens), nil
}

// New builds a vocabulary from tokens in id order. Empty tokens are kept as
// id placeholders but never produced by Encode.
func New(tokens []string) *Vocab {
	v := &Vocab{tokens: tokens, ids: make(map[string]int, len(tokens))}
	for id, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, dup := v.ids[tok]; !dup {
			v.ids[tok] = id
		}
		v.maxLen = max(v.maxLen, len(tok))
	}
	return v
}

func (v *Vocab) Size() int { return len(v.tokens) }

func (v *Vocab) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text)/2+1)
	for i := 0; i < len(text); {
		n := min(v.maxLen, len(text)-i)
		matched := false
		for ; n > 0; n-- {
			if id, ok := v.ids[text[i:i+n]]; ok {
				ids = append(ids, id)
				i += n
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		id, ok := v.ids[fmt.Sprintf("<0x%02X>", text[i])]
		if !ok {
			return nil, fmt.Errorf("%w: byte 0x%02x at offset %d", ErrUnknownToken, text[i], i)
		}
		ids = append(ids, id)
		i++
	}
	return ids, nil
}

// Decode concatenates the token strings. Byte fallback tokens are returned
// verbatim; repairing them is left to the caller.
func (v *Vocab) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(v.tokens) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		b.WriteString(v.tokens[id])
	}
	return b.String(), nil
}

// Token returns the string for id, or "" when out of range.
func (v *Vocab) Token(id int) string {
	if id < 0 || id >= len(v.tokens) {
		return ""
	}
	return v.tokens[id]
}

// Write emits the vocabulary in the format Read accepts.
func (v *Vocab) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, tok := range v.tokens {
		if _, err := bw.WriteString(base64.StdEncoding.EncodeToString([]byte(tok)) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Save writes the vocabulary to path.
func (v *Vocab) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := v.Write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
