package main

import (
	"errors"
	"io"
	"reflect"
	"testing"
)

func feedAll(t *testing.T, e *lineEditor, input string) (string, error) {
	t.Helper()
	for i := 0; i < len(input); i++ {
		if line, done, err := e.feed(input[i]); done {
			return line, err
		}
	}
	t.Fatalf("input %q did not complete a line", input)
	return "", nil
}

func TestLineEditorEditing(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, input, want string
	}{
		{"plain", "hello\r", "hello"},
		{"backspace", "helx\x7flo\r", "hello"},
		{"double backspace", "helo\x7f\x7flo\r", "helo"},
		{"insert mid line", "hllo\x1b[D\x1b[D\x1b[De\r", "hello"},
		{"home and end", "ello\x01h\x05!\r", "hello!"},
		{"ctrl-w", "hello big world\x17there\r", "hello big there"},
		{"delete forward", "hxello\x01\x1b[C\x1b[3~\r", "hello"},
		{"word left", "hello world\x1b[1;5DX\r", "hello Xworld"},
		{"alt backspace", "hello world\x1b\x7f\r", "hello "},
		{"ctrl-d mid line ignored", "hi\x04\r", "hi"},
	}
	for _, tc := range cases {
		var history []string
		e := newLineEditor("Q: ", io.Discard, &history)
		got, err := feedAll(t, e, tc.input)
		if err != nil || got != tc.want {
			t.Fatalf("%s: got %q, %v; want %q", tc.name, got, err, tc.want)
		}
	}
}

func TestLineEditorHistory(t *testing.T) {
	t.Parallel()
	history := []string{"first", "second"}
	e := newLineEditor("Q: ", io.Discard, &history)
	got, err := feedAll(t, e, "dra\x1b[A\x1b[A\x1b[B\x1b[B\r")
	if err != nil || got != "dra" {
		t.Fatalf("got %q, %v", got, err)
	}
	e = newLineEditor("Q: ", io.Discard, &history)
	got, _ = feedAll(t, e, "\x1b[A\x1b[A\r")
	if got != "second" {
		t.Fatalf("history recall = %q", got)
	}
	if want := []string{"first", "second", "dra", "second"}; !reflect.DeepEqual(history, want) {
		t.Fatalf("history = %v", history)
	}
}

func TestLineEditorEOF(t *testing.T) {
	t.Parallel()
	var history []string
	for _, input := range []string{"\x04", "abc\x03"} {
		e := newLineEditor("", io.Discard, &history)
		if _, err := feedAll(t, e, input); !errors.Is(err, io.EOF) {
			t.Fatalf("%q: err = %v", input, err)
		}
	}
	if len(history) != 0 {
		t.Fatalf("aborted lines entered history: %v", history)
	}
}
