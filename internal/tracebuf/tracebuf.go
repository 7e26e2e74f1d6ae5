// Package tracebuf implements the bounded producer/consumer buffer exchange
// used to stream raw trace records to an external sink.
//
// The engine fills a fixed-capacity buffer with fixed-size records. When the
// buffer cannot hold another whole record, or on an explicit flush, ownership
// of the filled region transfers to the sink and a replacement is requested.
// At any instant exactly one party may touch a buffer's contents; the only
// locking is around the hand-off metadata. If the sink cannot supply a
// replacement the exchange drops records and counts the loss instead of
// growing without bound.
package tracebuf

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mschilling0/pti-gpu/pkg/trace"
)

// ErrBufferExhausted reports that the active buffer has no room for another
// full record. A partial record is never written.
var ErrBufferExhausted = errors.New("trace buffer exhausted")

// Sink is the consumer side of the exchange. Request supplies an empty
// buffer; Return hands back a buffer whose first written bytes hold whole
// records. The sink must not retain the returned slice after parsing it.
type Sink interface {
	Request() ([]byte, error)
	Return(buf []byte, written int)
}

// Exchange owns the producer side of the buffer protocol.
type Exchange struct {
	mu      sync.Mutex
	sink    Sink
	buf     []byte
	written int
	dropped uint64
	log     *zap.Logger
}

// NewExchange requests the initial buffer from the sink. A sink failure here
// is not fatal: the exchange starts in the dropping state and recovers on
// the next successful supply.
func NewExchange(sink Sink, log *zap.Logger) *Exchange {
	e := &Exchange{
		sink: sink,
		log:  log.Named("tracebuf"),
	}
	buf, err := sink.Request()
	if err != nil || len(buf) < trace.RecordSize {
		e.log.Warn("sink did not supply an initial trace buffer; records will be dropped",
			zap.Error(err))
		return e
	}
	e.buf = buf
	return e
}

// SupplyBuffer installs a replacement buffer out of band, leaving the
// dropping state. The current buffer, if any, is flushed first so no written
// records are lost.
func (e *Exchange) SupplyBuffer(buf []byte) error {
	if len(buf) < trace.RecordSize {
		return fmt.Errorf("%w: capacity %d below record size %d",
			ErrBufferExhausted, len(buf), trace.RecordSize)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handOffLocked()
	e.buf = buf
	e.written = 0
	return nil
}

// Append writes one record into the active buffer. It fails with
// ErrBufferExhausted when there is no active buffer or no room for a whole
// record; the caller decides whether to flush and retry or give up.
func (e *Exchange) Append(r trace.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.appendLocked(r)
}

// Emit is the producer fast path: append, and on exhaustion hand the filled
// buffer to the sink, request a replacement, and retry once. A record that
// still does not fit is dropped and counted.
func (e *Exchange) Emit(r trace.Record) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.appendLocked(r); err == nil {
		return
	}
	e.exchangeLocked()
	if err := e.appendLocked(r); err != nil {
		e.dropped++
	}
}

// Flush hands the filled region to the sink and requests a replacement
// buffer. Flushing an empty buffer is a no-op.
func (e *Exchange) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.written == 0 {
		return
	}
	e.exchangeLocked()
}

// Dropped reports how many records were lost because no buffer was
// available.
func (e *Exchange) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Written reports the valid byte length of the active buffer.
func (e *Exchange) Written() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}

func (e *Exchange) appendLocked(r trace.Record) error {
	if e.buf == nil {
		return fmt.Errorf("%w: no active buffer", ErrBufferExhausted)
	}
	if e.written+trace.RecordSize > len(e.buf) {
		return fmt.Errorf("%w: %d of %d bytes used", ErrBufferExhausted, e.written, len(e.buf))
	}
	r.Encode(e.buf[e.written : e.written+trace.RecordSize])
	e.written += trace.RecordSize
	return nil
}

// exchangeLocked returns the current buffer to the sink and requests a
// replacement. On sink failure the exchange enters the dropping state.
func (e *Exchange) exchangeLocked() {
	e.handOffLocked()

	buf, err := e.sink.Request()
	if err != nil || len(buf) < trace.RecordSize {
		e.log.Warn("sink did not supply a replacement trace buffer; records will be dropped",
			zap.Error(err))
		e.buf = nil
		e.written = 0
		return
	}
	e.buf = buf
	e.written = 0
}

func (e *Exchange) handOffLocked() {
	if e.buf == nil {
		return
	}
	e.sink.Return(e.buf, e.written)
	e.buf = nil
	e.written = 0
}
