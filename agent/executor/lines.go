package executor

import (
	"bufio"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
)

// LineReader turns a byte stream into a sequence of lines with the trailing newline stripped.
// Reading happens in its own goroutine, so a consumer can bound each wait for the next line with a timer.
// Invalid UTF-8 is replaced with U+FFFD rather than ending the sequence.
type LineReader struct {
	r     io.ReadCloser
	lines chan string
	done  chan struct{}
	err   error

	closeOnce sync.Once
}

func NewLineReader(r io.ReadCloser) *LineReader {
	l := &LineReader{
		r:     r,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
	go l.read()
	return l
}

// Lines returns the channel of lines. It is closed at EOF or on a read error.
func (l *LineReader) Lines() <-chan string {
	return l.lines
}

// Err returns the read error that ended the sequence, if any. EOF is not an error.
// It is only valid once the channel returned by Lines is closed.
func (l *LineReader) Err() error {
	return l.err
}

// Close stops forwarding lines. The underlying stream keeps being drained until EOF and is then closed.
func (l *LineReader) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

func (l *LineReader) read() {
	defer l.r.Close()
	defer close(l.lines)

	br := bufio.NewReader(l.r)
	forwarding := true
	for {
		s, err := br.ReadString('\n')
		if len(s) > 0 && forwarding {
			select {
			case l.lines <- decodeLine(s):
			case <-l.done:
				forwarding = false
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				l.err = err
			}
			return
		}
	}
}

func decodeLine(s string) string {
	s = strings.TrimSuffix(s, "\n")
	s = strings.TrimSuffix(s, "\r")
	return strings.ToValidUTF8(s, "\uFFFD")
}
