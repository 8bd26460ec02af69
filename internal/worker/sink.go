package worker

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// Sink receives incremental log output from a worker call. Writes are
// ordered and append-only.
type Sink interface {
	Write(chunk string)
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(chunk string)

func (f SinkFunc) Write(chunk string) { f(chunk) }

// ChanSink delivers chunks on a buffered channel without ever blocking the
// worker. Chunks arriving while the buffer is full are dropped and counted.
type ChanSink struct {
	ch      chan string
	dropped atomic.Int64
}

// NewChanSink creates a sink buffering up to size chunks
func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan string, size)}
}

// C returns the channel chunks are delivered on
func (s *ChanSink) C() <-chan string { return s.ch }

// Dropped returns how many chunks did not fit in the buffer
func (s *ChanSink) Dropped() int64 { return s.dropped.Load() }

func (s *ChanSink) Write(chunk string) {
	select {
	case s.ch <- chunk:
	default:
		s.dropped.Add(1)
	}
}

// WriterSink writes one line per chunk to an io.Writer
type WriterSink struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

// NewWriterSink creates a sink that prefixes every line
func NewWriterSink(w io.Writer, prefix string) *WriterSink {
	return &WriterSink{w: w, prefix: prefix}
}

func (s *WriterSink) Write(chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, "%s%s\n", s.prefix, strings.TrimRight(chunk, "\n"))
}

// LogSink forwards chunks to a structured logger at debug level
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Write(chunk string) {
	s.Logger.Debug("worker output", "chunk", chunk)
}

// WithPrefix wraps a sink so every chunk is tagged, e.g. with a step id
func WithPrefix(s Sink, prefix string) Sink {
	if s == nil {
		return nil
	}
	return SinkFunc(func(chunk string) { s.Write(prefix + chunk) })
}

// Emit writes to the context's sink if it has one
func (mc Context) Emit(format string, args ...any) {
	if mc.Sink == nil {
		return
	}
	mc.Sink.Write(fmt.Sprintf(format, args...))
}
