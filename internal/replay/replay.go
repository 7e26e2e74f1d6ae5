// Package replay drives the collector from a recorded device event log,
// standing in for a live driver: it feeds normalized events to the engine
// and serves as its timestamp source and event allocator.
//
// The log is JSON lines, one device event per line:
//
//	{"ev":"clock","frequencyHz":12000000,"counterBits":32}
//	{"ev":"list_created","list":1,"context":1,"device":1,"immediate":false}
//	{"ev":"launch","list":1,"name":"gemm","width":32,"signal":5}
//	{"ev":"complete","signal":5,"start":100,"end":5200}
//	{"ev":"event_destroyed","signal":5}
//	{"ev":"synchronize"}
//	{"ev":"list_destroyed","list":1}
//
// "complete" marks a signal event ready with raw device cycles; it becomes
// observable to the engine at the next checkpoint, exactly like hardware.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/mschilling0/pti-gpu/internal/aggregate"
	"github.com/mschilling0/pti-gpu/internal/clock"
	"github.com/mschilling0/pti-gpu/internal/collector"
	"github.com/mschilling0/pti-gpu/internal/tracebuf"
	"github.com/mschilling0/pti-gpu/pkg/events"
)

// ownedEventBase keeps allocator-issued event ids clear of any id a log
// could plausibly carry.
const ownedEventBase events.EventID = 1 << 48

// Options assembles a Runner.
type Options struct {
	Clock     clock.Meta
	Aggregate aggregate.Options
	Sink      tracebuf.Sink
	Logger    *zap.Logger
}

// Runner replays a device event log through a collector.
type Runner struct {
	col *collector.Collector
	log *zap.Logger

	mu        sync.Mutex
	clock     clock.Meta
	ready     map[events.EventID]collector.Timestamps
	nextOwned events.EventID
}

func NewRunner(opts Options) *Runner {
	r := &Runner{
		log:       opts.Logger.Named("replay"),
		clock:     opts.Clock,
		ready:     make(map[events.EventID]collector.Timestamps),
		nextOwned: ownedEventBase,
	}
	r.col = collector.New(collector.Params{
		Source:    r,
		Allocator: r,
		Aggregate: opts.Aggregate,
		Sink:      opts.Sink,
		Logger:    opts.Logger,
	})
	return r
}

// Collector exposes the engine for snapshots and trace control.
func (r *Runner) Collector() *collector.Collector { return r.col }

// line is the wire shape of one log entry; only the fields relevant to Ev
// are set.
type line struct {
	Ev          string `json:"ev"`
	List        uint64 `json:"list"`
	Context     uint64 `json:"context"`
	Device      uint64 `json:"device"`
	Immediate   bool   `json:"immediate"`
	Name        string `json:"name"`
	Width       uint32 `json:"width"`
	Signal      uint64 `json:"signal"`
	Start       uint64 `json:"start"`
	End         uint64 `json:"end"`
	FrequencyHz uint64 `json:"frequencyHz"`
	CounterBits uint8  `json:"counterBits"`
}

// Run replays the whole log. Collaborator protocol violations (unknown or
// duplicate command lists) abort the replay: once correlation state is
// untrustworthy there is nothing useful left to measure.
func (r *Runner) Run(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var l line
		if err := json.Unmarshal(raw, &l); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := r.apply(l); err != nil {
			return fmt.Errorf("line %d (%s): %w", lineNo, l.Ev, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event log: %w", err)
	}

	// End of log is a final checkpoint.
	r.col.DrainReady()
	r.col.FlushTrace()
	return nil
}

func (r *Runner) apply(l line) error {
	switch l.Ev {
	case "clock":
		r.mu.Lock()
		r.clock = clock.Meta{FrequencyHz: l.FrequencyHz, CounterBits: l.CounterBits}
		r.mu.Unlock()
		return nil
	case "complete":
		r.complete(events.EventID(l.Signal), l.Start, l.End)
		return nil
	case "list_created":
		return r.col.Dispatch(events.Event{
			Kind:      events.KindListCreated,
			List:      events.ListID(l.List),
			Context:   events.ContextID(l.Context),
			Device:    events.DeviceID(l.Device),
			Immediate: l.Immediate,
		})
	case "list_destroyed":
		return r.col.Dispatch(events.Event{
			Kind: events.KindListDestroyed,
			List: events.ListID(l.List),
		})
	case "launch":
		return r.col.Dispatch(events.Event{
			Kind:   events.KindLaunch,
			List:   events.ListID(l.List),
			Name:   l.Name,
			Width:  l.Width,
			Signal: events.EventID(l.Signal),
		})
	case "event_destroyed", "event_reset":
		return r.col.Dispatch(events.Event{
			Kind:   events.KindEventCompleted,
			Signal: events.EventID(l.Signal),
		})
	case "synchronize":
		return r.col.Dispatch(events.Event{Kind: events.KindSynchronize})
	default:
		return fmt.Errorf("unknown event %q", l.Ev)
	}
}

// complete marks a signal event ready with raw device cycle timestamps.
func (r *Runner) complete(id events.EventID, startCycles, endCycles uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready[id] = collector.Timestamps{
		StartCycles: startCycles,
		EndCycles:   endCycles,
		Clock:       r.clock,
	}
}

// Query implements collector.TimestampSource.
func (r *Runner) Query(id events.EventID) (collector.Timestamps, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.ready[id]
	if !ok {
		return collector.Timestamps{}, fmt.Errorf("%w: event %d", collector.ErrNotReady, id)
	}
	return ts, nil
}

// Allocate implements collector.EventAllocator. Owned events never appear in
// the log, so a launch without a signal can only be discarded at a list
// destroy; the path exists to keep signal-less logs replayable.
func (r *Runner) Allocate(_ events.ContextID, _ events.DeviceID) (events.EventID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextOwned++
	return r.nextOwned, nil
}

// Release implements collector.EventAllocator.
func (r *Runner) Release(id events.EventID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ready, id)
	return nil
}
