package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"
)

type StreamMode string

const (
	StreamInstant StreamMode = "instant"
	StreamSmooth  StreamMode = "smooth"
	StreamQuiet   StreamMode = "quiet"
)

func parseStreamMode(s string) (StreamMode, error) {
	switch m := StreamMode(s); m {
	case StreamInstant, StreamSmooth, StreamQuiet:
		return m, nil
	case "":
		return StreamInstant, nil
	default:
		return "", fmt.Errorf("unknown stream mode %q (expected instant, smooth or quiet)", s)
	}
}

// StreamWriter sits between a session and the terminal. Instant mode flushes
// every fragment, smooth mode batches fragments by size or age, and quiet
// mode holds everything back until Flush.
type StreamWriter struct {
	mode StreamMode
	out  *bufio.Writer

	mu            sync.Mutex
	pending       int
	lastFlush     time.Time
	flushInterval time.Duration
	batchBytes    int
	held          bytes.Buffer
	now           func() time.Time
}

func NewStreamWriter(w io.Writer, mode StreamMode) *StreamWriter {
	return &StreamWriter{
		mode:          mode,
		out:           bufio.NewWriterSize(w, 4096),
		flushInterval: 50 * time.Millisecond,
		batchBytes:    32,
		lastFlush:     time.Now(),
		now:           time.Now,
	}
}

func (w *StreamWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.mode {
	case StreamQuiet:
		return w.held.Write(p)
	case StreamSmooth:
		n, err := w.out.Write(p)
		if err != nil {
			return n, err
		}
		w.pending += n
		if w.pending >= w.batchBytes || bytes.IndexByte(p, '\n') >= 0 || w.now().Sub(w.lastFlush) >= w.flushInterval {
			return n, w.flushLocked()
		}
		return n, nil
	default:
		n, err := w.out.Write(p)
		if err != nil {
			return n, err
		}
		return n, w.flushLocked()
	}
}

// Flush writes out anything still buffered or held back.
func (w *StreamWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.held.Len() > 0 {
		if _, err := w.held.WriteTo(w.out); err != nil {
			return err
		}
	}
	return w.flushLocked()
}

func (w *StreamWriter) flushLocked() error {
	w.pending = 0
	w.lastFlush = w.now()
	return w.out.Flush()
}
