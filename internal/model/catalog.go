package model

import "slices"

func stopEquals(ids ...int) func(int) bool {
	return func(id int) bool { return slices.Contains(ids, id) }
}

func stopAtMost(n int) func(int) bool {
	return func(id int) bool { return id <= n }
}

func stopAtLeast(n int) func(int) bool {
	return func(id int) bool { return id >= n }
}

func chatGLM6B() *Variant {
	return &Variant{
		Name:       "chatglm-6b",
		Family:     FamilyGLM,
		Layers:     28,
		HiddenSize: 4096,
		KVShape:    []int{2, 0, 1, 32, 128},
		Template:   glmTemplate,
		Mask:       glmMask,
		Position:   glmPosition,
		Stop:       stopEquals(glmEOS),
	}
}

func chatGLM2(name string) *Variant {
	return &Variant{
		Name:       name,
		Family:     FamilyGLM2,
		Layers:     28,
		HiddenSize: 4096,
		KVShape:    []int{2, 0, 1, 2, 128},
		Template:   glm2Template,
		Mask:       glm2Mask,
		Position:   glm2Position,
		Stop:       stopAtMost(2),
	}
}

func qwen(name string, layers, hidden, heads int) *Variant {
	return &Variant{
		Name:       name,
		Family:     FamilyQwen,
		Layers:     layers,
		HiddenSize: hidden,
		KVShape:    []int{2, 1, 0, heads, 128},
		Template:   framed(qwenOpen, qwenClose),
		Mask:       causalMask,
		Position:   flatPosition,
		Stop:       stopAtLeast(151645),
	}
}

func qwenVL() *Variant {
	v := qwen("qwen-vl", 32, 4096, 32)
	v.Family = FamilyQwenVL
	v.Visual = &VisualConfig{
		ImageSize: 448,
		PadLen:    256,
		StartID:   151857,
		EndID:     151858,
		PadID:     151859,
		Mean:      [3]float32{123.25239296, 117.20384, 104.50194688},
		Scale:     [3]float32{0.0145414, 0.01494914, 0.01416452},
	}
	v.Template = visionTemplate(v.Visual)
	return v
}

func llama(name string, pre, post []int, stop func(int) bool) *Variant {
	return &Variant{
		Name:       name,
		Family:     FamilyLlama,
		Layers:     32,
		HiddenSize: 4096,
		KVShape:    []int{2, 1, 32, 0, 128},
		Template:   framed(pre, post),
		Mask:       causalMask,
		Position:   batchPosition,
		Stop:       stop,
	}
}

func llama2() *Variant {
	return llama("llama2-7b", llama2Open, llama2Close, stopEquals(2))
}

func baichuan2() *Variant {
	return llama("baichuan2-7b", baichuanOpen, baichuanClose, stopEquals(2))
}

func internLM() *Variant {
	return llama("internlm-7b", internlmOpen, internlmClose, stopEquals(2, 103028))
}

// phi2 shares the LLaMA masks but feeds the raw query.
func phi2() *Variant {
	v := llama("phi-2", nil, nil, stopEquals(50256))
	v.HiddenSize = 2560
	v.KVShape = []int{1, 0, 2, 32, 80}
	v.Template = rawTemplate
	return v
}

// bge is the sentence embedding encoder.
func bge() *Variant {
	return &Variant{
		Name:       "bge",
		Family:     FamilyBGE,
		Layers:     24,
		HiddenSize: 1024,
		Template:   bgeTemplate,
		Mask:       bidirectionalMask,
		Position:   batchPosition,
		Stop:       func(int) bool { return false },
	}
}
