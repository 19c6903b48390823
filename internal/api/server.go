// Package api exposes a loaded chat session, embedding session and vector
// store over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/loom/internal/inference"
	"github.com/samcharles93/loom/internal/logger"
)

const defaultSearchK = 5

// Chat is the generation session the server drives.
type Chat interface {
	Respond(ctx context.Context, query string, w io.Writer) (string, error)
	Reset()
	Stats() inference.Stats
	Counters() inference.Counters
	History() []int
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Store interface {
	AddAll(ctx context.Context, texts []string) error
	Search(ctx context.Context, text string, k int) ([]string, error)
	Len() int
	Save(path string) error
}

type Config struct {
	// Model is reported back in responses.
	Model    string
	Chat     Chat
	Embedder Embedder
	Store    Store
	// StorePath, when set, is rewritten after every successful store insert.
	StorePath string
	Logger    logger.Logger
}

// Server serialises every request that touches a session: sessions are not
// safe for concurrent use.
type Server struct {
	mu    sync.Mutex
	cfg   Config
	log   logger.Logger
	clock func() time.Time
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Server{cfg: cfg, log: log, clock: time.Now}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/respond", s.handleRespond)
	e.POST("/v1/reset", s.handleReset)
	e.POST("/v1/embeddings", s.handleEmbeddings)
	e.POST("/v1/store/texts", s.handleStoreTexts)
	e.POST("/v1/store/search", s.handleStoreSearch)
	e.GET("/v1/stats", s.handleStats)
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, newInvalidRequest(fmt.Sprintf("decode request: %v", err))
	}
	return out, nil
}

func streamParam(c *echo.Context) bool {
	q := c.QueryParam("stream")
	return q == "1" || strings.EqualFold(q, "true")
}

func (s *Server) handleRespond(c *echo.Context) error {
	if s.cfg.Chat == nil {
		return writeErr(c, fmt.Errorf("chat model %w", ErrNotConfigured))
	}
	req, err := decodeJSON[RespondRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	if strings.TrimSpace(req.Input) == "" {
		return writeBadRequest(c, "input must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Reset {
		s.cfg.Chat.Reset()
	}
	resp := RespondResponse{
		ID:        "resp_" + uuid.NewString(),
		Object:    "response",
		CreatedAt: s.clock().Unix(),
		Model:     s.cfg.Model,
		Status:    "completed",
	}
	ctx := c.Request().Context()
	if (req.Stream != nil && *req.Stream) || streamParam(c) {
		return s.streamRespond(ctx, c, req.Input, resp)
	}

	text, err := s.cfg.Chat.Respond(ctx, req.Input, nil)
	if err != nil {
		s.log.Warn("respond failed", "id", resp.ID, "error", err)
		return writeErr(c, err)
	}
	resp.OutputText = text
	resp.Usage = s.usage()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) usage() Usage {
	st := s.cfg.Chat.Stats()
	return Usage{
		InputTokens:  st.PromptTokens,
		OutputTokens: st.OutputTokens,
		TotalTokens:  st.PromptTokens + st.OutputTokens,
	}
}

func (s *Server) streamRespond(ctx context.Context, c *echo.Context, input string, resp RespondResponse) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(http.Flusher)
	if !ok {
		return writeBadRequest(c, "streaming unsupported")
	}
	sse := &sseWriter{w: res, flush: flusher.Flush}
	res.WriteHeader(http.StatusOK)

	text, err := s.cfg.Chat.Respond(ctx, input, sse)
	if err != nil {
		s.log.Warn("streamed respond failed", "id", resp.ID, "error", err)
		resp.Status = "failed"
		_ = sse.send(streamEvent{Type: "error", Error: apiError(err)})
	} else {
		resp.OutputText = text
		resp.Usage = s.usage()
		_ = sse.send(streamEvent{Type: "response.completed", Response: &resp})
	}
	_, _ = fmt.Fprint(res, "data: [DONE]\n\n")
	flusher.Flush()
	return nil
}

// sseWriter turns every streamed fragment into a delta event.
type sseWriter struct {
	w     io.Writer
	flush func()
	seq   int
}

func (w *sseWriter) Write(p []byte) (int, error) {
	if err := w.send(streamEvent{Type: "response.output_text.delta", Delta: string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *sseWriter) send(ev streamEvent) error {
	w.seq++
	ev.SequenceNumber = w.seq
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", b); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (s *Server) handleReset(c *echo.Context) error {
	if s.cfg.Chat == nil {
		return writeErr(c, fmt.Errorf("chat model %w", ErrNotConfigured))
	}
	s.mu.Lock()
	s.cfg.Chat.Reset()
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{"reset": true})
}

func (s *Server) handleEmbeddings(c *echo.Context) error {
	if s.cfg.Embedder == nil {
		return writeErr(c, fmt.Errorf("embedding model %w", ErrNotConfigured))
	}
	req, err := decodeJSON[EmbeddingsRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	if len(req.Input) == 0 {
		return writeBadRequest(c, "input must contain at least one text")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	out := EmbeddingsResponse{Object: "list", Model: s.cfg.Model, Data: make([]EmbeddingData, 0, len(req.Input))}
	for i, text := range req.Input {
		vec, err := s.cfg.Embedder.Embed(c.Request().Context(), text)
		if err != nil {
			return writeErr(c, fmt.Errorf("input %d: %w", i, err))
		}
		out.Data = append(out.Data, EmbeddingData{Object: "embedding", Index: i, Embedding: vec})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleStoreTexts(c *echo.Context) error {
	if s.cfg.Store == nil {
		return writeErr(c, fmt.Errorf("vector store %w", ErrNotConfigured))
	}
	req, err := decodeJSON[StoreTextsRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	if len(req.Texts) == 0 {
		return writeBadRequest(c, "texts must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cfg.Store.AddAll(c.Request().Context(), req.Texts); err != nil {
		return writeErr(c, err)
	}
	resp := StoreTextsResponse{Added: len(req.Texts), Total: s.cfg.Store.Len()}
	if s.cfg.StorePath != "" {
		if err := s.cfg.Store.Save(s.cfg.StorePath); err != nil {
			return writeErr(c, err)
		}
		resp.Saved = true
	}
	s.log.Info("store updated", "added", resp.Added, "total", resp.Total)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStoreSearch(c *echo.Context) error {
	if s.cfg.Store == nil {
		return writeErr(c, fmt.Errorf("vector store %w", ErrNotConfigured))
	}
	req, err := decodeJSON[StoreSearchRequest](c.Request().Body)
	if err != nil {
		return writeErr(c, err)
	}
	if req.Query == "" {
		return writeBadRequest(c, "query must not be empty")
	}
	if req.K < 0 {
		return writeBadRequest(c, "k must not be negative")
	}
	if req.K == 0 {
		req.K = defaultSearchK
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	results, err := s.cfg.Store.Search(c.Request().Context(), req.Query, req.K)
	if err != nil {
		return writeErr(c, err)
	}
	if results == nil {
		results = []string{}
	}
	return c.JSON(http.StatusOK, StoreSearchResponse{Results: results})
}

func (s *Server) handleStats(c *echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		st      inference.Stats
		ctr     inference.Counters
		history int
		entries int
	)
	if s.cfg.Chat != nil {
		st, ctr, history = s.cfg.Chat.Stats(), s.cfg.Chat.Counters(), len(s.cfg.Chat.History())
	}
	if s.cfg.Store != nil {
		entries = s.cfg.Store.Len()
	}
	return c.JSON(http.StatusOK, newStatsResponse(s.cfg.Model, st, ctr, history, entries))
}
