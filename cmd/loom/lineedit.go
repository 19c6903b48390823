package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// lineEditor is the key handling behind the interactive prompt. It consumes
// raw terminal bytes one at a time and redraws the line on out.
type lineEditor struct {
	prompt  string
	out     io.Writer
	history *[]string

	line   []byte
	cursor int

	esc    int
	escBuf strings.Builder

	histPos  int
	browsing bool
	draft    string
}

func newLineEditor(prompt string, out io.Writer, history *[]string) *lineEditor {
	return &lineEditor{prompt: prompt, out: out, history: history, histPos: len(*history)}
}

func (e *lineEditor) redraw() {
	_, _ = fmt.Fprintf(e.out, "\r%s%s\x1b[K", e.prompt, e.line)
	if e.cursor < len(e.line) {
		_, _ = fmt.Fprintf(e.out, "\r%s%s", e.prompt, e.line[:e.cursor])
	}
}

func isBlank(b byte) bool { return b == ' ' || b == '\t' }

// wordStart is the start of the word left of the cursor.
func (e *lineEditor) wordStart() int {
	i := e.cursor
	for i > 0 && isBlank(e.line[i-1]) {
		i--
	}
	for i > 0 && !isBlank(e.line[i-1]) {
		i--
	}
	return i
}

// wordEnd is the end of the word right of the cursor.
func (e *lineEditor) wordEnd() int {
	i := e.cursor
	for i < len(e.line) && isBlank(e.line[i]) {
		i++
	}
	for i < len(e.line) && !isBlank(e.line[i]) {
		i++
	}
	return i
}

func (e *lineEditor) deleteRange(from, to int) {
	e.line = append(e.line[:from], e.line[to:]...)
	e.cursor = from
	e.redraw()
}

func (e *lineEditor) moveTo(pos int) {
	e.cursor = pos
	e.redraw()
}

func (e *lineEditor) insert(b byte) {
	e.line = append(e.line, 0)
	copy(e.line[e.cursor+1:], e.line[e.cursor:])
	e.line[e.cursor] = b
	e.cursor++
	e.redraw()
}

func (e *lineEditor) setLine(s string) {
	e.line = append(e.line[:0], s...)
	e.cursor = len(e.line)
	e.redraw()
}

func (e *lineEditor) historyPrev() {
	h := *e.history
	if len(h) == 0 {
		return
	}
	if !e.browsing {
		e.draft = string(e.line)
		e.browsing = true
		e.histPos = len(h)
	}
	if e.histPos > 0 {
		e.histPos--
		e.setLine(h[e.histPos])
	}
}

func (e *lineEditor) historyNext() {
	if !e.browsing {
		return
	}
	h := *e.history
	if e.histPos < len(h)-1 {
		e.histPos++
		e.setLine(h[e.histPos])
		return
	}
	e.histPos = len(h)
	e.browsing = false
	e.setLine(e.draft)
}

func (e *lineEditor) csi(seq string) {
	switch seq {
	case "A":
		e.historyPrev()
	case "B":
		e.historyNext()
	case "D":
		if e.cursor > 0 {
			e.moveTo(e.cursor - 1)
		}
	case "C":
		if e.cursor < len(e.line) {
			e.moveTo(e.cursor + 1)
		}
	case "H":
		e.moveTo(0)
	case "F":
		e.moveTo(len(e.line))
	case "3~":
		if e.cursor < len(e.line) {
			e.line = append(e.line[:e.cursor], e.line[e.cursor+1:]...)
			e.redraw()
		}
	case "1;5D", "5D":
		e.moveTo(e.wordStart())
	case "1;5C", "5C":
		e.moveTo(e.wordEnd())
	case "3;5~":
		end := e.wordEnd()
		e.line = append(e.line[:e.cursor], e.line[end:]...)
		e.redraw()
	}
}

// feed handles one input byte. It returns done once the line is complete;
// io.EOF reports Ctrl+C, or Ctrl+D on an empty line.
func (e *lineEditor) feed(b byte) (line string, done bool, err error) {
	switch e.esc {
	case 1:
		e.esc = 0
		switch b {
		case '[':
			e.esc = 2
			e.escBuf.Reset()
		case 'b', 'B':
			e.moveTo(e.wordStart())
		case 'f', 'F':
			e.moveTo(e.wordEnd())
		case 127:
			e.deleteRange(e.wordStart(), e.cursor)
		}
		return "", false, nil
	case 2:
		e.escBuf.WriteByte(b)
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '~' {
			e.esc = 0
			e.csi(e.escBuf.String())
		}
		return "", false, nil
	}

	switch b {
	case 27:
		e.esc = 1
	case '\r', '\n':
		_, _ = fmt.Fprint(e.out, "\r\n")
		out := string(e.line)
		if strings.TrimSpace(out) != "" {
			*e.history = append(*e.history, out)
		}
		return out, true, nil
	case 3:
		_, _ = fmt.Fprint(e.out, "^C\r\n")
		return "", true, io.EOF
	case 4:
		if len(e.line) == 0 {
			_, _ = fmt.Fprint(e.out, "\r\n")
			return "", true, io.EOF
		}
	case 127, 8:
		if e.cursor > 0 {
			e.deleteRange(e.cursor-1, e.cursor)
		}
	case 1:
		e.moveTo(0)
	case 5:
		e.moveTo(len(e.line))
	case 23:
		e.deleteRange(e.wordStart(), e.cursor)
	default:
		if b >= 32 {
			e.insert(b)
		}
	}
	return "", false, nil
}

var (
	promptHistory []string
	stdinReader   = bufio.NewReader(os.Stdin)
)

// readPlainLine reads one line without terminal handling.
func readPlainLine(prompt string) (string, error) {
	_, _ = fmt.Fprint(os.Stdout, prompt)
	s, err := stdinReader.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
