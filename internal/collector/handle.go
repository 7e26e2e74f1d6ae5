package collector

import (
	"errors"

	"github.com/mschilling0/pti-gpu/internal/clock"
	"github.com/mschilling0/pti-gpu/pkg/events"
)

var (
	// ErrNotReady reports that a completion event has not signaled yet.
	// TimestampSource implementations return it from non-blocking queries.
	ErrNotReady = errors.New("completion event not ready")

	// ErrQueryFailed reports a timestamp query that failed for a reason
	// other than not-ready. The affected instance is dropped with a warning.
	ErrQueryFailed = errors.New("timestamp query failed")

	// ErrDuplicateHandle reports two simultaneously-live launches sharing a
	// completion event, which makes correlation ambiguous.
	ErrDuplicateHandle = errors.New("completion handle already in flight")
)

// Timestamps is the raw device timing of one completed launch together with
// the clock domain needed to normalize it.
type Timestamps struct {
	StartCycles uint64
	EndCycles   uint64
	Clock       clock.Meta
}

// TimestampSource queries completion events without blocking. Query returns
// ErrNotReady while the event has not signaled and wraps ErrQueryFailed for
// any other failure.
type TimestampSource interface {
	Query(id events.EventID) (Timestamps, error)
}

// EventAllocator creates throwaway completion events on behalf of launches
// that carry no signal event of their own. The engine releases exactly the
// events it allocated.
type EventAllocator interface {
	Allocate(ctx events.ContextID, dev events.DeviceID) (events.EventID, error)
	Release(id events.EventID) error
}

// CompletionHandle ties a launch to its completion event and records which
// side owns the event. A borrowed handle belongs to the application and is
// left untouched at retirement; an owned one was allocated by the engine and
// is released exactly once.
type CompletionHandle struct {
	id    events.EventID
	owned bool
}

// Borrowed wraps an application-supplied completion event.
func Borrowed(id events.EventID) CompletionHandle {
	return CompletionHandle{id: id}
}

// Owned wraps an engine-allocated completion event.
func Owned(id events.EventID) CompletionHandle {
	return CompletionHandle{id: id, owned: true}
}

// ID is the opaque identity used for completion matching.
func (h CompletionHandle) ID() events.EventID { return h.id }

// IsOwned reports whether the engine allocated the underlying event.
func (h CompletionHandle) IsOwned() bool { return h.owned }
