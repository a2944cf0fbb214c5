// Package linestream forwards a child process's merged output to a slog
// logger one line at a time. Reads are capped so a child that never writes a
// newline cannot grow the buffer without bound; a capped read is forwarded as
// its own line and reading continues with the remainder.
package linestream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// DefaultMaxLineLength is the read cap applied when the caller does not
// choose one.
const DefaultMaxLineLength = 64 * 1000

// minLineLength is bufio's smallest buffer; smaller caps are raised to it.
const minLineLength = 16

// Decoder resolves a codec name ("utf-8", "latin1", "shift_jis", ...) using
// the WHATWG encoding index.
//
//	enc, err := linestream.Decoder("utf-8")
func Decoder(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("linestream: unknown encoding %q: %w", name, err)
	}
	return enc, nil
}

// NewDecodingReader wraps r so bytes are converted from enc to UTF-8.
// Invalid sequences become U+FFFD rather than failing the stream.
func NewDecodingReader(r io.Reader, enc encoding.Encoding) io.Reader {
	if enc == nil || enc == encoding.Nop {
		return r
	}
	return transform.NewReader(r, enc.NewDecoder())
}

// Stream reads r until EOF, logging every line to sink at info level with
// trailing CR/LF removed. maxLen caps a single read; values <= 0 use
// DefaultMaxLineLength. The returned error is nil on clean EOF.
//
//	err := linestream.Stream(pipe, logger, linestream.DefaultMaxLineLength)
func Stream(r io.Reader, sink *slog.Logger, maxLen int) error {
	return New(sink, maxLen).Stream(r)
}

// Streamer holds a sink and a read cap so it can be reused across streams.
type Streamer struct {
	sink   *slog.Logger
	maxLen int
}

// New creates a Streamer.
//
//	s := linestream.New(logger, 0) // default cap
func New(sink *slog.Logger, maxLen int) *Streamer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	if maxLen < minLineLength {
		maxLen = minLineLength
	}
	return &Streamer{sink: sink, maxLen: maxLen}
}

// MaxLineLength reports the effective read cap.
func (s *Streamer) MaxLineLength() int { return s.maxLen }

// Stream forwards lines from r until EOF.
func (s *Streamer) Stream(r io.Reader) error {
	br := bufio.NewReaderSize(r, s.maxLen)
	ctx := context.Background()
	var carry []byte
	for {
		chunk, err := br.ReadSlice('\n')
		line := chunk
		if len(carry) > 0 {
			line = append(carry, chunk...)
			carry = nil
		}
		// A capped read must not split a rune across two records.
		if errors.Is(err, bufio.ErrBufferFull) {
			if cut := partialRuneStart(line); cut < len(line) {
				carry = append([]byte(nil), line[cut:]...)
				line = line[:cut]
			}
		}
		if len(line) > 0 {
			s.sink.Log(ctx, slog.LevelInfo, strings.TrimRight(string(line), "\r\n"))
		}
		switch {
		case err == nil, errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			return nil
		default:
			return fmt.Errorf("linestream: read: %w", err)
		}
	}
}

// partialRuneStart returns the offset of an incomplete UTF-8 sequence at the
// end of b, or len(b) when b ends on a rune boundary.
func partialRuneStart(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
