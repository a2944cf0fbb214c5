package linestream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"
)

// recordHandler captures log records so tests can assert on what reached
// the sink.
type recordHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i, r := range h.records {
		out[i] = r.Message
	}
	return out
}

func newSink() (*slog.Logger, *recordHandler) {
	h := &recordHandler{}
	return slog.New(h), h
}

// TestStream_SplitsLinesAndStripsTerminators verifies LF and CRLF endings
// are removed, blank lines are preserved, and a final unterminated line is
// still delivered.
func TestStream_SplitsLinesAndStripsTerminators(t *testing.T) {
	sink, h := newSink()
	in := "first\nsecond\r\n\nlast-no-newline"
	if err := Stream(strings.NewReader(in), sink, 0); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	want := []string{"first", "second", "", "last-no-newline"}
	got := h.messages()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("messages = %q, want %q", got, want)
	}
	for _, r := range h.records {
		if r.Level != slog.LevelInfo {
			t.Errorf("level = %v, want info", r.Level)
		}
	}
}

// TestStream_CapsLongLines verifies a line longer than the cap is delivered
// truncated at the cap, the remainder arrives as the next line, and the
// stream keeps flowing afterwards.
func TestStream_CapsLongLines(t *testing.T) {
	sink, h := newSink()
	long := strings.Repeat("A", 100000)
	in := long + "\nafter\n"
	if err := Stream(strings.NewReader(in), sink, DefaultMaxLineLength); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := h.messages()
	if len(got) != 3 {
		t.Fatalf("got %d lines, want 3", len(got))
	}
	if len(got[0]) != DefaultMaxLineLength {
		t.Errorf("first line length = %d, want %d", len(got[0]), DefaultMaxLineLength)
	}
	if len(got[1]) != 100000-DefaultMaxLineLength {
		t.Errorf("second line length = %d, want %d", len(got[1]), 100000-DefaultMaxLineLength)
	}
	if got[2] != "after" {
		t.Errorf("third line = %q, want after", got[2])
	}
}

// TestStream_CustomCap verifies the extension point: a smaller cap splits
// accordingly.
func TestStream_CustomCap(t *testing.T) {
	sink, h := newSink()
	s := New(sink, 20)
	if s.MaxLineLength() != 20 {
		t.Fatalf("MaxLineLength = %d", s.MaxLineLength())
	}
	if err := s.Stream(strings.NewReader(strings.Repeat("x", 45))); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	got := h.messages()
	if len(got) != 3 || len(got[0]) != 20 || len(got[1]) != 20 || len(got[2]) != 5 {
		t.Errorf("unexpected split: %q", got)
	}
}

func TestNew_ClampsTinyCap(t *testing.T) {
	sink, _ := newSink()
	if got := New(sink, 3).MaxLineLength(); got != minLineLength {
		t.Errorf("MaxLineLength = %d, want %d", got, minLineLength)
	}
	if got := New(sink, -1).MaxLineLength(); got != DefaultMaxLineLength {
		t.Errorf("MaxLineLength = %d, want default", got)
	}
}

// TestStream_CapKeepsRunesWhole verifies a capped read that ends inside a
// multibyte character moves the whole character to the next record.
func TestStream_CapKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"two-byte", strings.Repeat("a", 15) + "é\n", []string{strings.Repeat("a", 15), "é"}},
		{"four-byte", strings.Repeat("b", 14) + "😀tail\n", []string{strings.Repeat("b", 14), "😀tail"}},
		{"boundary", strings.Repeat("c", 14) + "é" + "d\n", []string{strings.Repeat("c", 14) + "é", "d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, h := newSink()
			if err := New(sink, minLineLength).Stream(strings.NewReader(tt.input)); err != nil {
				t.Fatalf("Stream: %v", err)
			}
			got := h.messages()
			if len(got) != len(tt.want) {
				t.Fatalf("messages = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] || !utf8.ValidString(got[i]) {
					t.Errorf("message %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestPartialRuneStart(t *testing.T) {
	tests := []struct {
		in   []byte
		want int
	}{
		{[]byte("abc"), 3},
		{[]byte("ab\xc3"), 2},
		{[]byte("ab\xc3\xa9"), 4},
		{[]byte("a\xf0\x9f\x98"), 1},
		{[]byte("\xf0\x9f"), 0},
		{[]byte("ab\xa9"), 3},
		{nil, 0},
	}
	for _, tt := range tests {
		if got := partialRuneStart(tt.in); got != tt.want {
			t.Errorf("partialRuneStart(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) > 0 {
		n := copy(p, r.data)
		r.data = r.data[n:]
		return n, nil
	}
	return 0, r.err
}

// TestStream_PropagatesReadError verifies a broken pipe is surfaced rather
// than mistaken for end of stream.
func TestStream_PropagatesReadError(t *testing.T) {
	sink, h := newSink()
	boom := errors.New("pipe broke")
	err := Stream(&failingReader{data: []byte("ok\n"), err: boom}, sink, 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got := h.messages(); len(got) != 1 || got[0] != "ok" {
		t.Errorf("messages = %q", got)
	}
}

// TestDecoder_Latin1 verifies output in a legacy codec is converted to UTF-8
// before it reaches the sink.
func TestDecoder_Latin1(t *testing.T) {
	enc, err := Decoder("latin1")
	if err != nil {
		t.Fatalf("Decoder: %v", err)
	}
	sink, h := newSink()
	r := NewDecodingReader(strings.NewReader("caf\xe9\n"), enc)
	if err := Stream(r, sink, 0); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := h.messages(); len(got) != 1 || got[0] != "café" {
		t.Errorf("messages = %q", got)
	}
}

func TestDecoder_UTF8Aliases(t *testing.T) {
	for _, name := range []string{"utf-8", "UTF-8", "utf8"} {
		if _, err := Decoder(name); err != nil {
			t.Errorf("Decoder(%q): %v", name, err)
		}
	}
}

func TestDecoder_Unknown(t *testing.T) {
	if _, err := Decoder("no-such-codec"); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestNewDecodingReader_NilPassthrough(t *testing.T) {
	r := strings.NewReader("x")
	if got := NewDecodingReader(r, nil); got != io.Reader(r) {
		t.Error("nil encoding should return the reader unchanged")
	}
}
