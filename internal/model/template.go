package model

import (
	"fmt"
	"regexp"
	"slices"
)

const (
	glmGMask = 130001
	glmBOS   = 130004
	glmEOS   = 130005

	glm2Prefix0 = 64790
	glm2Prefix1 = 64792

	bgeCLS = 101
	bgeSEP = 102
)

var (
	qwenOpen  = []int{198, 151644, 872, 198}
	qwenClose = []int{151645, 198, 151644, 77091, 198}

	llama2Open    = []int{1, 5539, 25580, 29962}
	llama2Close   = []int{12452, 25580, 29962}
	baichuanOpen  = []int{195}
	baichuanClose = []int{196}
	internlmOpen  = []int{1, 333, 352, 1621, 352, 27232}
	internlmClose = []int{103027, 364, 333, 352, 23845, 352, 27232}
)

func glmTemplate(enc Encoder, query string, _ bool) (Prompt, error) {
	ids, err := enc.Encode(query)
	if err != nil {
		return Prompt{}, err
	}
	ctx := len(ids)
	return Prompt{IDs: append(ids, glmGMask, glmBOS), ContextLen: ctx}, nil
}

func glm2Template(enc Encoder, query string, firstTurn bool) (Prompt, error) {
	ids, err := enc.Encode("问：" + query + "\n答：")
	if err != nil {
		return Prompt{}, err
	}
	ctx := len(ids)
	if firstTurn {
		ids = append([]int{glm2Prefix0, glm2Prefix1}, ids...)
	}
	return Prompt{IDs: ids, ContextLen: ctx}, nil
}

// framed wraps the encoded query between fixed open and close sequences.
func framed(pre, post []int) func(Encoder, string, bool) (Prompt, error) {
	return func(enc Encoder, query string, _ bool) (Prompt, error) {
		ids, err := enc.Encode(query)
		if err != nil {
			return Prompt{}, err
		}
		out := make([]int, 0, len(pre)+len(ids)+len(post))
		out = append(out, pre...)
		out = append(out, ids...)
		out = append(out, post...)
		return Prompt{IDs: out, ContextLen: len(ids)}, nil
	}
}

var imgSpan = regexp.MustCompile(`<img>(.*?)</img>`)

// visionTemplate replaces every <img>ref</img> span with a start token, PadLen
// pad tokens and an end token, recording the reference so the session can
// splice image embeddings over the pads.
func visionTemplate(cfg *VisualConfig) func(Encoder, string, bool) (Prompt, error) {
	return func(enc Encoder, query string, _ bool) (Prompt, error) {
		var (
			ids    []int
			images []Image
			last   int
		)
		for _, m := range imgSpan.FindAllStringSubmatchIndex(query, -1) {
			text, err := enc.Encode(query[last:m[0]])
			if err != nil {
				return Prompt{}, err
			}
			ids = append(ids, text...)
			ref := query[m[2]:m[3]]
			if ref == "" {
				return Prompt{}, fmt.Errorf("empty image reference at offset %d", m[0])
			}
			images = append(images, Image{Ref: ref, Offset: len(qwenOpen) + len(ids)})
			ids = append(ids, cfg.StartID)
			ids = append(ids, slices.Repeat([]int{cfg.PadID}, cfg.PadLen)...)
			ids = append(ids, cfg.EndID)
			last = m[1]
		}
		tail, err := enc.Encode(query[last:])
		if err != nil {
			return Prompt{}, err
		}
		ids = append(ids, tail...)

		out := make([]int, 0, len(qwenOpen)+len(ids)+len(qwenClose))
		out = append(out, qwenOpen...)
		out = append(out, ids...)
		out = append(out, qwenClose...)
		return Prompt{IDs: out, ContextLen: len(ids), Images: images}, nil
	}
}

func bgeTemplate(enc Encoder, query string, _ bool) (Prompt, error) {
	ids, err := enc.Encode(query)
	if err != nil {
		return Prompt{}, err
	}
	out := make([]int, 0, len(ids)+2)
	out = append(out, bgeCLS)
	out = append(out, ids...)
	out = append(out, bgeSEP)
	return Prompt{IDs: out, ContextLen: len(ids)}, nil
}

func rawTemplate(enc Encoder, query string, _ bool) (Prompt, error) {
	ids, err := enc.Encode(query)
	if err != nil {
		return Prompt{}, err
	}
	return Prompt{IDs: ids, ContextLen: len(ids)}, nil
}
