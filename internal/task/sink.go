package task

import (
	"bytes"
	"io"
)

// Sink is the stdout/stderr destination handed to an Action (spec.md §6:
// "the task's stdout and stderr sinks (either the controller's own streams
// or capture buffers, per the verbosity setting)").
//
// A Sink always captures what was written (Bytes), and optionally also
// tees to an underlying writer (e.g. os.Stdout) when running verbosely.
type Sink struct {
	buf bytes.Buffer
	tee io.Writer
}

// NewSink creates a Sink. If tee is non-nil, every Write is also forwarded
// to it (verbose mode); if nil, output is captured only (quiet mode).
func NewSink(tee io.Writer) *Sink {
	return &Sink{tee: tee}
}

// Write implements io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	n, err := s.buf.Write(p)
	if err != nil {
		return n, err
	}
	if s.tee != nil {
		if _, teeErr := s.tee.Write(p); teeErr != nil {
			return n, teeErr
		}
	}
	return n, nil
}

// Bytes returns everything captured so far.
func (s *Sink) Bytes() []byte { return s.buf.Bytes() }

// String returns the captured content as a string.
func (s *Sink) String() string { return s.buf.String() }
