package executor

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(l *LineReader) []string {
	var lines []string
	for line := range l.Lines() {
		lines = append(lines, line)
	}
	return lines
}

func TestLineReader(t *testing.T) {
	cases := []struct {
		name  string
		input string
		exp   []string
	}{
		{
			name:  "newline terminated",
			input: "foo\nbar\n",
			exp:   []string{"foo", "bar"},
		},
		{
			name:  "trailing partial line",
			input: "foo\nbar",
			exp:   []string{"foo", "bar"},
		},
		{
			name:  "crlf",
			input: "foo\r\nbar\r\n",
			exp:   []string{"foo", "bar"},
		},
		{
			name:  "empty lines are kept",
			input: "foo\n\nbar\n",
			exp:   []string{"foo", "", "bar"},
		},
		{
			name:  "invalid utf8 is replaced",
			input: "\xffok\nfine\n",
			exp:   []string{"\uFFFDok", "fine"},
		},
		{
			name:  "empty input",
			input: "",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			l := NewLineReader(io.NopCloser(strings.NewReader(c.input)))
			assert.Equal(t, c.exp, collect(l))
			assert.NoError(t, l.Err())
		})
	}
}

func TestLineReaderCloseKeepsDraining(t *testing.T) {
	pr, pw := io.Pipe()
	l := NewLineReader(pr)

	_, err := pw.Write([]byte("first\n"))
	require.NoError(t, err)
	assert.Equal(t, "first", <-l.Lines())

	l.Close()

	// nobody is consuming lines anymore, but writes must not block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_, err := pw.Write([]byte("more output\n"))
			if err != nil {
				return
			}
		}
		pw.Close()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked after the reader was closed")
	}

	// the lines channel is closed once the stream hits EOF
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-l.Lines():
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}
