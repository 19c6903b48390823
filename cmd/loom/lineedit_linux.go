//go:build linux

package main

import (
	"os"

	"golang.org/x/sys/unix"
)

// readInteractiveLine puts the terminal into raw mode for the duration of one
// line so the editor sees every key.
func readInteractiveLine(prompt string) (string, error) {
	if !isTTY() {
		return readPlainLine(prompt)
	}

	fd := int(os.Stdin.Fd())
	saved, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return readPlainLine(prompt)
	}
	raw := *saved
	raw.Lflag &^= unix.ICANON | unix.ECHO | unix.ISIG
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", err
	}
	defer func() { _ = unix.IoctlSetTermios(fd, unix.TCSETS, saved) }()

	ed := newLineEditor(prompt, os.Stdout, &promptHistory)
	ed.redraw()
	var buf [16]byte
	for {
		n, err := os.Stdin.Read(buf[:])
		if err != nil {
			return "", err
		}
		for _, b := range buf[:n] {
			if line, done, err := ed.feed(b); done {
				return line, err
			}
		}
	}
}
