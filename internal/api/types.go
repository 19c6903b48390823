package api

import "github.com/samcharles93/loom/internal/inference"

type RespondRequest struct {
	Input  string `json:"input"`
	Stream *bool  `json:"stream,omitempty"`
	// Reset starts a fresh conversation before answering.
	Reset bool `json:"reset,omitempty"`
}

type RespondResponse struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	CreatedAt  int64  `json:"created_at"`
	Model      string `json:"model"`
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Usage      Usage  `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type EmbeddingsRequest struct {
	Input []string `json:"input"`
}

type EmbeddingsResponse struct {
	Object string          `json:"object"`
	Model  string          `json:"model,omitempty"`
	Data   []EmbeddingData `json:"data"`
}

type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type StoreTextsRequest struct {
	Texts []string `json:"texts"`
}

type StoreTextsResponse struct {
	Added int  `json:"added"`
	Total int  `json:"total"`
	Saved bool `json:"saved"`
}

type StoreSearchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type StoreSearchResponse struct {
	Results []string `json:"results"`
}

type StatsResponse struct {
	Model          string  `json:"model"`
	PromptTokens   int     `json:"prompt_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	PrefillSeconds float64 `json:"prefill_seconds"`
	DecodeSeconds  float64 `json:"decode_seconds"`
	PrefillTPS     float64 `json:"prefill_tokens_per_second"`
	DecodeTPS      float64 `json:"decode_tokens_per_second"`
	AllSeqLen      int     `json:"all_seq_len"`
	GenSeqLen      int     `json:"gen_seq_len"`
	HistoryTokens  int     `json:"history_tokens"`
	StoreEntries   int     `json:"store_entries"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

type streamEvent struct {
	Type           string           `json:"type"`
	SequenceNumber int              `json:"sequence_number"`
	Delta          string           `json:"delta,omitempty"`
	Response       *RespondResponse `json:"response,omitempty"`
	Error          *ResponseError   `json:"error,omitempty"`
}

func newStatsResponse(model string, st inference.Stats, c inference.Counters, history, entries int) StatsResponse {
	return StatsResponse{
		Model:          model,
		PromptTokens:   st.PromptTokens,
		OutputTokens:   st.OutputTokens,
		PrefillSeconds: st.Prefill.Seconds(),
		DecodeSeconds:  st.Decode.Seconds(),
		PrefillTPS:     st.PrefillTPS(),
		DecodeTPS:      st.DecodeTPS(),
		AllSeqLen:      c.AllSeqLen,
		GenSeqLen:      c.GenSeqLen,
		HistoryTokens:  history,
		StoreEntries:   entries,
	}
}
