// Package protocol implements the newline-delimited chat wire format: framing
// of raw byte streams into lines, parsing of client commands, and building and
// classifying of server replies.
package protocol

import (
	"bufio"
	"bytes"
	"io"
)

// DefaultMaxLineBytes is the longest line a Framer accepts when no limit is given.
const DefaultMaxLineBytes = 64 * 1024

// Framer splits a byte stream into newline-terminated lines. Bytes received
// after the last separator are kept and prefixed to the next read. A Framer
// belongs to exactly one stream and is not safe for concurrent use.
type Framer struct {
	scanner *bufio.Scanner
}

// NewFramer creates a Framer reading from r.
//
// Parameters:
//   - r: The stream to read, typically a net.Conn
//   - maxLineBytes: The longest accepted line; values <= 0 select DefaultMaxLineBytes
//
// Returns:
//   - A Framer ready for Next
func NewFramer(r io.Reader, maxLineBytes int) *Framer {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}

	initial := 4096
	if maxLineBytes < initial {
		initial = maxLineBytes
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initial), maxLineBytes)
	scanner.Split(splitLines)
	return &Framer{scanner: scanner}
}

// Next returns the next complete line without its '\n'. A trailing '\r' is
// left in place. When the stream ends, a final unterminated fragment is
// returned if it holds anything besides whitespace.
//
// Returns:
//   - The next line
//   - io.EOF once the stream is exhausted, bufio.ErrTooLong for an oversized
//     line, or the underlying read error
func (f *Framer) Next() (string, error) {
	if f.scanner.Scan() {
		return f.scanner.Text(), nil
	}

	if err := f.scanner.Err(); err != nil {
		return "", err
	}

	return "", io.EOF
}

// splitLines is bufio.ScanLines without the carriage-return stripping and
// with blank trailing fragments dropped.
func splitLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF {
		if len(bytes.TrimSpace(data)) == 0 {
			return len(data), nil, nil
		}

		return len(data), data, nil
	}

	return 0, nil, nil
}
