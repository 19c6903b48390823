package inference

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRespondStreamsUntilStop(t *testing.T) {
	t.Parallel()
	m := newScripted(1, 2, 3, 4, 151645)
	s := newTestSession(t, "qwen-7b", m, Options{})

	var sink strings.Builder
	got, err := s.Respond(context.Background(), "ab", &sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "hello worldA" {
		t.Fatalf("text = %q", got)
	}
	if sink.String() != "hello worldA\n" {
		t.Fatalf("stream = %q", sink.String())
	}
	if len(m.calls) != 5 {
		t.Fatalf("forward calls = %d, want 5", len(m.calls))
	}
	if len(m.calls[0].ids) != 11 {
		t.Fatalf("prefill fed %d ids, want 11", len(m.calls[0].ids))
	}
	for call := 1; call < 5; call++ {
		if p := m.positions(t, call); !reflect.DeepEqual(p, []int32{int32(10 + call)}) {
			t.Fatalf("call %d position = %v", call, p)
		}
		if shape := m.calls[call].mask.Shape(); !reflect.DeepEqual(shape, []int{1, 1, 1, 11 + call}) {
			t.Fatalf("call %d mask shape = %v", call, shape)
		}
	}
	want := Counters{AllSeqLen: 15, GenSeqLen: 5, ContextLen: 2}
	if c := s.Counters(); c != want {
		t.Fatalf("counters = %+v, want %+v", c, want)
	}
	if h := s.History(); len(h) != 15 || !reflect.DeepEqual(h[11:], []int{1, 2, 3, 4}) {
		t.Fatalf("history = %v", h)
	}
	if st := s.Stats(); st.PromptTokens != 11 || st.OutputTokens != 5 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestRespondStopsAtCap(t *testing.T) {
	t.Parallel()
	for _, limit := range []int{1, 3} {
		m := newScripted(1)
		s := newTestSession(t, "qwen-7b", m, Options{MaxNewTokens: limit})
		var sink strings.Builder
		got, err := s.Respond(context.Background(), "ab", &sink)
		if err != nil {
			t.Fatalf("limit %d: %v", limit, err)
		}
		if want := strings.Repeat("he", limit); got != want || sink.String() != want+"\n" {
			t.Fatalf("limit %d: text %q stream %q", limit, got, sink.String())
		}
		if len(m.calls) != limit || s.Counters().GenSeqLen != limit {
			t.Fatalf("limit %d: %d calls, counters %+v", limit, len(m.calls), s.Counters())
		}
	}
}

func TestRespondCustomEndMarker(t *testing.T) {
	t.Parallel()
	end := "<eos>"
	s := newTestSession(t, "qwen-7b", newScripted(5, 151646), Options{EndWith: &end})
	var sink strings.Builder
	got, err := s.Respond(context.Background(), "ab", &sink)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "a" || sink.String() != "a<eos>" {
		t.Fatalf("text %q stream %q", got, sink.String())
	}
}

func TestRespondForwardFailureKeepsPartialText(t *testing.T) {
	t.Parallel()
	m := newScripted(1, 2, 3)
	m.failAt = 2
	s := newTestSession(t, "qwen-7b", m, Options{})

	var sink strings.Builder
	got, err := s.Respond(context.Background(), "ab", &sink)
	if !errors.Is(err, ErrForward) {
		t.Fatalf("err = %v, want ErrForward", err)
	}
	if got != "hello" || sink.String() != "hello" {
		t.Fatalf("partial text %q stream %q", got, sink.String())
	}
	if c := s.Counters(); c != (Counters{}) {
		t.Fatalf("counters after failure = %+v", c)
	}
	if h := s.History(); len(h) != 13 {
		t.Fatalf("history len = %d, want 13", len(h))
	}

	m.failAt = -1
	m.calls = nil
	m.tokens = []int{5, 151645}
	if _, err := s.Respond(context.Background(), "ab", nil); err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	if n := len(m.calls[0].ids); n != 24 {
		t.Fatalf("second prefill fed %d ids, want 24", n)
	}
	if p := m.positions(t, 0); p[0] != 0 {
		t.Fatalf("second prefill starts at position %d", p[0])
	}
}

func TestRespondConvertsForwardPanic(t *testing.T) {
	t.Parallel()
	m := newScripted(1)
	m.panicAt = 0
	s := newTestSession(t, "qwen-7b", m, Options{})
	_, err := s.Respond(context.Background(), "ab", nil)
	if !errors.Is(err, ErrForward) || !strings.Contains(err.Error(), "panic in Forward") {
		t.Fatalf("err = %v", err)
	}
}

func TestRespondEncodeFailure(t *testing.T) {
	t.Parallel()
	m := newScripted(1)
	s := newTestSession(t, "qwen-7b", m, Options{})
	if _, err := s.Respond(context.Background(), "zzz", nil); err == nil {
		t.Fatalf("expected encode error")
	}
	if len(m.calls) != 0 || len(s.History()) != 0 {
		t.Fatalf("failed encode touched the model: %d calls, history %v", len(m.calls), s.History())
	}
}

func TestRespondCancelledContext(t *testing.T) {
	t.Parallel()
	m := newScripted(1)
	s := newTestSession(t, "qwen-7b", m, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	sink := &cancelOnWrite{cancel: cancel}
	got, err := s.Respond(ctx, "ab", sink)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if got != "he" {
		t.Fatalf("text = %q", got)
	}
}

// cancelOnWrite cancels its context on the first write. It only has Write,
// so io.WriteString cannot bypass it.
type cancelOnWrite struct {
	buf    []byte
	cancel context.CancelFunc
}

func (w *cancelOnWrite) Write(p []byte) (int, error) {
	w.cancel()
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// failingSink rejects the write of fail.
type failingSink struct {
	strings.Builder
	fail string
}

func (w *failingSink) Write(p []byte) (int, error) {
	return w.WriteString(string(p))
}

func (w *failingSink) WriteString(s string) (int, error) {
	if s == w.fail {
		return 0, errors.New("sink closed")
	}
	return w.Builder.WriteString(s)
}

func TestRespondEndMarkerWriteFailure(t *testing.T) {
	t.Parallel()
	m := newScripted(1, 2, 151645)
	s := newTestSession(t, "qwen-7b", m, Options{})
	sink := &failingSink{fail: DefaultEndWith}
	got, err := s.Respond(context.Background(), "ab", sink)
	if err == nil {
		t.Fatalf("expected sink error")
	}
	if got != "hello" {
		t.Fatalf("text = %q, want end marker stripped", got)
	}
	if sink.String() != "hello" {
		t.Fatalf("stream = %q", sink.String())
	}
}

func TestRespondSingleFileRejectsImages(t *testing.T) {
	t.Parallel()
	m := newScripted(5)
	s := newTestSession(t, "qwen-vl-chat", m, Options{})
	got, err := s.Respond(context.Background(), "<img>/nonexistent/x.png</img>ab", nil)
	if !errors.Is(err, ErrMalformedModel) {
		t.Fatalf("err = %v", err)
	}
	if got != "" || len(m.calls) != 0 || len(s.History()) != 0 {
		t.Fatalf("rejected image turn ran: text %q, %d calls, history %v", got, len(m.calls), s.History())
	}
}

func TestGLM2PositionsAndFirstTurn(t *testing.T) {
	t.Parallel()
	m := newScripted(5, 6, 2)
	s := newTestSession(t, "chatglm2-6b", m, Options{})

	got, err := s.Respond(context.Background(), "ab", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if got != "ab" {
		t.Fatalf("text = %q", got)
	}
	if ids := m.calls[0].ids; !reflect.DeepEqual(ids, []int32{64790, 64792, 7, 5, 6, 8}) {
		t.Fatalf("first turn prefill = %v", ids)
	}
	for call := 1; call < 3; call++ {
		if p := m.positions(t, call); !reflect.DeepEqual(p, []int32{int32(call)}) {
			t.Fatalf("call %d position = %v", call, p)
		}
	}

	m.calls = nil
	m.tokens = []int{2}
	if _, err := s.Respond(context.Background(), "ab", nil); err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	ids := m.calls[0].ids
	if len(ids) != 6+2+4 {
		t.Fatalf("second prefill = %v", ids)
	}
	if !reflect.DeepEqual(ids[8:], []int32{7, 5, 6, 8}) {
		t.Fatalf("second turn repeated the prefix: %v", ids)
	}
}

func TestResetForgetsHistory(t *testing.T) {
	t.Parallel()
	m := newScripted(5, 151645)
	s := newTestSession(t, "qwen-7b", m, Options{})
	turn := func() int {
		t.Helper()
		m.calls = nil
		if _, err := s.Respond(context.Background(), "ab", nil); err != nil {
			t.Fatalf("Respond: %v", err)
		}
		return len(m.calls[0].ids)
	}
	if n := turn(); n != 11 {
		t.Fatalf("first prefill = %d ids", n)
	}
	if n := turn(); n != 23 {
		t.Fatalf("second prefill = %d ids", n)
	}
	s.Reset()
	if len(s.History()) != 0 || s.Counters() != (Counters{}) {
		t.Fatalf("Reset left state behind")
	}
	if n := turn(); n != 11 {
		t.Fatalf("prefill after reset = %d ids", n)
	}
}

func TestWarmupLeavesNoTrace(t *testing.T) {
	t.Parallel()
	m := newScripted(1)
	s := newTestSession(t, "qwen-7b", m, Options{})
	if err := s.Warmup(context.Background()); err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if len(m.calls) != 1 || len(s.History()) != 0 {
		t.Fatalf("calls %d history %v", len(m.calls), s.History())
	}
}

func TestCloseClosesModules(t *testing.T) {
	t.Parallel()
	m := newScripted(1)
	s := newTestSession(t, "qwen-7b", m, Options{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !m.closed {
		t.Fatalf("model not closed")
	}
}

func TestRepairByteToken(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"<0x41>": "A",
		"<0x0A>": "\n",
		"<0x4>":  "<0x4>",
		"<0xZZ>": "<0xZZ>",
		"<1x41>": "<1x41>",
		"hello":  "hello",
		"":       "",
	}
	for in, want := range cases {
		if got := repairByteToken(in); got != want {
			t.Fatalf("repairByteToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatsReport(t *testing.T) {
	t.Parallel()
	st := Stats{PromptTokens: 3, OutputTokens: 5}
	var b strings.Builder
	if err := st.Report(&b); err != nil {
		t.Fatalf("Report: %v", err)
	}
	for _, want := range []string{"prompt tokens num  = 3", "output tokens num  = 5", " total tokens num  = 8", "decode speed = 0.00 tok/s"} {
		if !strings.Contains(b.String(), want) {
			t.Fatalf("report missing %q:\n%s", want, b.String())
		}
	}
}
