package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestJSONLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden too")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	log.Warn("visible", "layer", 3)
	out := buf.String()
	if !strings.Contains(out, "visible") || !strings.Contains(out, `"layer":3`) {
		t.Fatalf("unexpected JSON output: %s", out)
	}
}

func TestTextWith(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelInfo).With("module", "lm")
	log.Info("loaded")
	out := buf.String()
	if !strings.Contains(out, "module=lm") || !strings.Contains(out, "msg=loaded") {
		t.Fatalf("unexpected text output: %s", out)
	}
}

func TestPrettyAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug).WithGroup("session").With("variant", "qwen-7b")
	log.Debug("prefill done", "tokens", 12, "err", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"DBG", "prefill done", "session.variant=" + ansiReset + "qwen-7b", "session.tokens=" + ansiReset + "12", "boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("pretty output missing %q: %s", want, out)
		}
	}
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("pretty output should end with newline: %q", out)
	}
}

func TestPrettyQuotesSpaces(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Pretty(&buf, slog.LevelInfo).Info("msg", "path", "a b")
	if !strings.Contains(buf.String(), `"a b"`) {
		t.Fatalf("expected quoted value, got: %s", buf.String())
	}
}

func TestPrettyLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Debug("nope")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at info: %s", buf.String())
	}
	if log.Enabled(slog.LevelDebug) {
		t.Fatal("Enabled(debug) should be false at info level")
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	want := JSON(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), want)
	if got := FromContext(ctx); got != want {
		t.Fatal("FromContext did not return the stored logger")
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without a logger returned nil")
	}
}

func TestFromFormat(t *testing.T) {
	t.Parallel()
	for _, format := range []string{"", "pretty", "text", "JSON"} {
		if _, err := FromFormat(format, "debug", &bytes.Buffer{}); err != nil {
			t.Fatalf("FromFormat(%q): %v", format, err)
		}
	}
	if _, err := FromFormat("xml", "info", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNopDiscards(t *testing.T) {
	t.Parallel()
	log := Nop()
	log.Error("dropped")
	if log.Enabled(slog.LevelError) {
		t.Fatal("Nop logger should not enable any level")
	}
}
