// Package stream fans a single byte stream out to several sinks and tracks
// how far an HTTP response has been committed.
package stream

import (
	"errors"
	"io"
)

// DefaultBufferSize is the chunk size of one read from the source.
const DefaultBufferSize = 32 * 1024

// ErrNoSinks is returned when every sink has failed and copying stopped.
var ErrNoSinks = errors.New("all sinks failed")

// Sink is one destination of a Tee.
type Sink struct {
	Name string
	W    io.Writer

	written int64
	err     error
}

// NewSink creates a named sink.
func NewSink(name string, w io.Writer) *Sink {
	return &Sink{Name: name, W: w}
}

// Written returns the bytes accepted by the sink.
func (s *Sink) Written() int64 { return s.written }

// Err returns the error that detached the sink, if any.
func (s *Sink) Err() error { return s.err }

// Failed reports whether the sink was detached.
func (s *Sink) Failed() bool { return s.err != nil }

// Tee copies one reader to an ordered set of sinks. Each chunk is written to
// every live sink in order before the next read. A sink that fails is
// detached and the others keep receiving data.
type Tee struct {
	sinks   []*Sink
	bufSize int

	// OnSinkError is called once when a sink is detached.
	OnSinkError func(s *Sink, err error)
}

// NewTee creates a tee over the given sinks.
func NewTee(sinks ...*Sink) *Tee {
	return &Tee{sinks: sinks, bufSize: DefaultBufferSize}
}

// Sinks returns the sinks in write order.
func (t *Tee) Sinks() []*Sink {
	return t.sinks
}

// Copy reads src until EOF, a read error, or until no sink is left.
// It returns the number of bytes read from src. A clean EOF yields a nil error.
func (t *Tee) Copy(src io.Reader) (int64, error) {
	buf := make([]byte, t.bufSize)
	var read int64

	if t.live() == 0 {
		return 0, ErrNoSinks
	}

	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			read += int64(n)
			t.fanOut(buf[:n])
			if t.live() == 0 {
				return read, ErrNoSinks
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return read, nil
			}
			return read, rerr
		}
	}
}

func (t *Tee) fanOut(chunk []byte) {
	for _, s := range t.sinks {
		if s.err != nil {
			continue
		}
		n, err := s.W.Write(chunk)
		s.written += int64(n)
		if err == nil && n < len(chunk) {
			err = io.ErrShortWrite
		}
		if err != nil {
			s.err = err
			if t.OnSinkError != nil {
				t.OnSinkError(s, err)
			}
		}
	}
}

func (t *Tee) live() int {
	n := 0
	for _, s := range t.sinks {
		if s.err == nil {
			n++
		}
	}
	return n
}
