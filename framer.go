package pwrmeter

import (
	"bytes"
	"iter"
)

// LineTerminator ends every command and reply on the wire.
const LineTerminator = '\n'

// LineFramer splits a byte stream into reply lines.
//
// Bytes after the last terminator are kept until a later Feed completes them.
// The zero value is ready to use.
type LineFramer struct {
	buf []byte
}

// Feed buffers p and returns the lines completed so far.
//
// Lines are extracted lazily while the sequence is ranged over; lines not
// consumed because the caller stopped early stay buffered and are returned by
// the next Feed. Each line has NUL bytes removed and surrounding white space
// trimmed. An empty line is returned as "".
func (f *LineFramer) Feed(p []byte) iter.Seq[string] {
	f.buf = append(f.buf, p...)
	return func(yield func(string) bool) {
		for {
			i := bytes.IndexByte(f.buf, LineTerminator)
			if i < 0 {
				return
			}
			line := cleanLine(f.buf[:i])
			n := copy(f.buf, f.buf[i+1:])
			f.buf = f.buf[:n]
			if !yield(line) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes waiting for a terminator.
func (f *LineFramer) Buffered() int {
	return len(f.buf)
}

// Reset drops any buffered bytes.
func (f *LineFramer) Reset() {
	f.buf = f.buf[:0]
}

func cleanLine(b []byte) string {
	if bytes.IndexByte(b, 0) >= 0 {
		b = bytes.ReplaceAll(b, []byte{0}, nil)
	}
	return string(bytes.TrimSpace(b))
}
