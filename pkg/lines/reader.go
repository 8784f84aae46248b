package lines

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"iter"
	"os"
	"strings"
)

// MaxLineLength is the longest line the reader will buffer. Longer lines are
// split into several lines of at most this length, so that a process writing
// a very long line without a terminator can never stall its pipe.
const MaxLineLength = 64 * 1024

// Reader reads a byte stream incrementally and yields the lines it contains.
// Lines are terminated by '\n' or by a bare '\r' (as written by progress
// bars). Surrounding whitespace is trimmed, invalid UTF-8 is replaced, and
// empty lines are skipped.
type Reader struct {
	sc  *bufio.Scanner
	err error
}

func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), MaxLineLength)
	sc.Split(splitLines)
	return &Reader{sc: sc}
}

// All returns a sequence of the remaining lines in the stream. The sequence
// ends when the stream is closed, a read error occurs, or the consumer stops
// iterating. It may only be iterated once.
func (r *Reader) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for r.sc.Scan() {
			line := strings.TrimSpace(r.sc.Text())
			if line == "" {
				continue
			}
			if !yield(strings.ToValidUTF8(line, "�")) {
				return
			}
		}
		r.err = r.sc.Err()
	}
}

// Err returns the error that ended the sequence, if any. A closed stream
// (io.EOF) is not an error.
func (r *Reader) Err() error {
	return r.err
}

// DeadlineExceeded reports whether the sequence ended because a read
// deadline set on the underlying file expired.
func (r *Reader) DeadlineExceeded() bool {
	return errors.Is(r.err, os.ErrDeadlineExceeded)
}

func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if len(data) >= MaxLineLength {
		return MaxLineLength, data[:MaxLineLength], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
