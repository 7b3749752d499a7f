// Package protocol implements the line framing of the node protocol.
//
// A byte stream carries one encoded envelope per line. The receiver reads up to the next
// '\n', so a line of any length arrives whole; the sender appends '\n' and writes the line
// with a single buffered write so two lines can never interleave.
//
//	stdin:  {"src":"c1",...}\n{"src":"n2",...}\n ...
//	        └──── line 1 ────┘ └──── line 2 ───┘
package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// ErrEmbeddedNewline is returned by WriteLine for a line that would split into two.
var ErrEmbeddedNewline = errors.New("protocol: line contains a newline")

// Reader yields lines from a byte stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadLine returns the next non-blank line without its terminator ("\n" or "\r\n").
// A final line without a terminator is returned before io.EOF. The returned slice is
// owned by the caller.
func (lr *Reader) ReadLine() ([]byte, error) {
	for {
		// ReadBytes grows as needed, so long lines are never truncated
		line, err := lr.r.ReadBytes('\n')
		if len(line) > 0 {
			trimmed := bytes.TrimRight(line, "\r\n")
			if len(bytes.TrimSpace(trimmed)) > 0 {
				return trimmed, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// Writer frames lines onto a byte stream. It is not safe for concurrent use; a single
// goroutine owns it.
type Writer struct {
	w *bufio.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// WriteLine appends line and its terminator to the buffer. Nothing reaches the underlying
// stream until the buffer fills or Flush is called.
func (lw *Writer) WriteLine(line []byte) error {
	if bytes.IndexByte(line, '\n') >= 0 {
		return ErrEmbeddedNewline
	}
	if _, err := lw.w.Write(line); err != nil {
		return err
	}
	return lw.w.WriteByte('\n')
}

// Flush writes any buffered lines to the underlying stream.
func (lw *Writer) Flush() error {
	return lw.w.Flush()
}

// Buffered returns the number of bytes not yet flushed.
func (lw *Writer) Buffered() int {
	return lw.w.Buffered()
}
