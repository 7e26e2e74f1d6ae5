package tracebuf

import (
	"sync"

	"github.com/mschilling0/pti-gpu/pkg/trace"
)

// FileSink is a Sink that appends every handed-off region to a writer,
// typically a raw trace file. Once a write fails it stops supplying buffers,
// which degrades the exchange to counted drops instead of losing data
// silently.
type FileSink struct {
	mu       sync.Mutex
	w        writerAt
	capacity int
	records  uint64
	err      error
}

// writerAt is the subset of os.File the sink needs.
type writerAt interface {
	Write(p []byte) (int, error)
}

// NewFileSink supplies buffers holding recordCapacity records each.
func NewFileSink(w writerAt, recordCapacity int) *FileSink {
	return &FileSink{w: w, capacity: recordCapacity * trace.RecordSize}
}

func (s *FileSink) Request() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return make([]byte, s.capacity), nil
}

func (s *FileSink) Return(buf []byte, written int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	if _, err := s.w.Write(buf[:written]); err != nil {
		s.err = err
		return
	}
	s.records += uint64(written / trace.RecordSize)
}

// Records reports how many whole records reached the writer.
func (s *FileSink) Records() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records
}

// Err reports the first write failure, if any.
func (s *FileSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
