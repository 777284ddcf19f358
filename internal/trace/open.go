package trace

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ulikunitz/xz"
)

// maxLineSize bounds a single trace line; longer lines are skipped. cflow
// signatures for heavily macro-expanded functions can exceed 64K.
const maxLineSize = 4 * 1024 * 1024

// openTrace opens path for reading, transparently decompressing .xz and .gz dumps.
func openTrace(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".xz"):
		r, err := xz.NewReader(bufio.NewReader(f))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open xz trace %s: %w", path, err)
		}
		return &wrappedReader{Reader: r, closer: f}, nil
	case strings.HasSuffix(path, ".gz"):
		r, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip trace %s: %w", path, err)
		}
		return &wrappedReader{Reader: r, closer: f, inner: r}, nil
	default:
		return f, nil
	}
}

type wrappedReader struct {
	io.Reader
	closer io.Closer
	inner  io.Closer
}

func (w *wrappedReader) Close() error {
	if w.inner != nil {
		w.inner.Close()
	}
	return w.closer.Close()
}

// lineReader yields trace lines without their terminator. Lines longer
// than limit are consumed and reported as oversized instead of failing the
// read.
type lineReader struct {
	r         *bufio.Reader
	limit     int
	buf       []byte
	oversized bool
	err       error
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024), limit: maxLineSize}
}

// Next advances to the next line. It returns false at the end of input or
// on a read error, which Err reports.
func (lr *lineReader) Next() bool {
	lr.buf = lr.buf[:0]
	lr.oversized = false
	read := false
	for {
		chunk, isPrefix, err := lr.r.ReadLine()
		if err != nil {
			if err != io.EOF {
				lr.err = err
				return false
			}
			return read
		}
		read = true
		if !lr.oversized {
			if len(lr.buf)+len(chunk) > lr.limit {
				lr.oversized = true
				lr.buf = lr.buf[:0]
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}
		if !isPrefix {
			return true
		}
	}
}

// Text returns the current line, empty when it was oversized.
func (lr *lineReader) Text() string { return string(lr.buf) }

// Oversized reports whether the current line exceeded the limit.
func (lr *lineReader) Oversized() bool { return lr.oversized }

func (lr *lineReader) Err() error { return lr.err }
