package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var ErrUnknownArchitecture = errors.New("unknown model architecture")

// rule selects a variant when every fragment occurs in the identifier.
// Matching is case-sensitive.
type rule struct {
	fragments []string
	build     func() *Variant
}

func (r rule) matches(id string) bool {
	for _, f := range r.fragments {
		if !strings.Contains(id, f) {
			return false
		}
	}
	return true
}

var (
	registryMu sync.RWMutex

	// Generation rules, most specific first. "chatglm2" must precede
	// "chatglm", and "vl" precedes "1.8" so a vision checkpoint never falls
	// through to a text-only Qwen.
	generation = []rule{
		{[]string{"chatglm2"}, func() *Variant { return chatGLM2("chatglm2-6b") }},
		{[]string{"chatglm3"}, func() *Variant { return chatGLM2("chatglm3-6b") }},
		{[]string{"chatglm"}, chatGLM6B},
		{[]string{"codegeex2"}, func() *Variant { return chatGLM2("codegeex2-6b") }},
		{[]string{"qwen", "vl"}, qwenVL},
		{[]string{"qwen", "1.8"}, func() *Variant { return qwen("qwen-1.8b", 24, 2048, 16) }},
		{[]string{"qwen"}, func() *Variant { return qwen("qwen-7b", 32, 4096, 32) }},
		{[]string{"llama2"}, llama2},
		{[]string{"baichuan"}, baichuan2},
		{[]string{"phi2"}, phi2},
		{[]string{"phi-2"}, phi2},
		{[]string{"internlm"}, internLM},
	}

	embedding = []rule{
		{[]string{"bge"}, bge},
	}
)

// Register adds a generation rule ahead of the built-in ones.
func Register(fragments []string, build func() *Variant) {
	if len(fragments) == 0 || build == nil {
		panic("model: Register needs fragments and a constructor")
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	generation = slices.Insert(generation, 0, rule{slices.Clone(fragments), build})
}

// Resolve selects the generation variant for id, which is an explicit
// architecture name or a model path. Paths are matched on their final element
// first and then as a whole, so a digit run such as "1.8" in a parent
// directory only matters when the model name itself is inconclusive.
// An explicit architecture name has no separator and is matched once, as a
// whole; only paths take the final-element lookup.
func Resolve(id string) (*Variant, error) {
	return resolve(generation, id)
}

// ResolveEmbedding is Resolve for sentence embedding models.
func ResolveEmbedding(id string) (*Variant, error) {
	return resolve(embedding, id)
}

func resolve(rules []rule, id string) (*Variant, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	candidates := []string{id}
	if base := filepath.Base(strings.TrimRight(id, `/\`)); base != id && base != "." {
		candidates = []string{base, id}
	}
	for _, c := range candidates {
		for _, r := range rules {
			if r.matches(c) {
				return r.build(), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownArchitecture, id)
}

// Names lists the built-in variant names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var out []string
	for _, rs := range [][]rule{generation, embedding} {
		for _, r := range rs {
			n := r.build().Name
			if !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	return out
}
