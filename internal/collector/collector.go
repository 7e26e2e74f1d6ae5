// Package collector implements the asynchronous kernel-instance correlation
// engine: the in-flight instance table, the completion resolver, and the
// glue between the command-list registry, the clock normalizer, the
// statistics aggregator and the trace-buffer exchange.
//
// A Collector is explicitly constructed and owned by its host; there is no
// process-wide instance. All shared state lives under one mutex so that
// lookup-then-insert sequences stay atomic with respect to concurrent
// launches, resolutions and drains. None of its operations block on device
// completion: draining polls, it never waits.
package collector

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mschilling0/pti-gpu/internal/aggregate"
	"github.com/mschilling0/pti-gpu/internal/clock"
	"github.com/mschilling0/pti-gpu/internal/metrics"
	"github.com/mschilling0/pti-gpu/internal/registry"
	"github.com/mschilling0/pti-gpu/internal/tracebuf"
	"github.com/mschilling0/pti-gpu/pkg/events"
	"github.com/mschilling0/pti-gpu/pkg/trace"
)

// instance is one launch that has been submitted but not yet confirmed
// complete. It is owned exclusively by the table until retirement.
type instance struct {
	name    string
	width   uint32
	handle  CompletionHandle
	list    events.ListID
	context events.ContextID
	device  events.DeviceID
}

// Params assembles a Collector. Source is required. Allocator may be nil, in
// which case launches without a signal event are abandoned with a warning.
// Sink may be nil to disable trace streaming.
type Params struct {
	Source    TimestampSource
	Allocator EventAllocator
	Aggregate aggregate.Options
	Sink      tracebuf.Sink
	Logger    *zap.Logger
}

// Collector correlates completions to launches and aggregates their timing.
type Collector struct {
	mu        sync.Mutex
	lists     *registry.CommandListRegistry
	instances map[events.EventID]*instance
	agg       *aggregate.Aggregator
	source    TimestampSource
	alloc     EventAllocator
	exchange  *tracebuf.Exchange
	bank      *tracebuf.Bank
	log       *zap.Logger

	nextKernelID uint64
	lastDropped  uint64
}

func New(p Params) *Collector {
	log := p.Logger.Named("collector")
	c := &Collector{
		lists:     registry.NewCommandListRegistry(),
		instances: make(map[events.EventID]*instance),
		agg:       aggregate.New(p.Aggregate),
		source:    p.Source,
		alloc:     p.Allocator,
		bank:      tracebuf.NewBank(),
		log:       log,
	}
	if p.Sink != nil {
		c.exchange = tracebuf.NewExchange(p.Sink, log)
	}
	return c
}

// Pending is the bookkeeping between the launch-enter and launch-exit
// intercepts. The signal event it carries is the one the driver must use,
// whether supplied by the application or allocated here.
type Pending struct {
	list   events.ListID
	entry  registry.Entry
	name   string
	width  uint32
	handle CompletionHandle
}

// Signal is the completion event the launch must signal.
func (p *Pending) Signal() events.EventID { return p.handle.ID() }

// Begin starts tracking a launch at submission-intercept time. It resolves
// the command list's identity and, when the application supplied no signal
// event, allocates a throwaway one the engine becomes responsible for.
//
// A nil Pending with a nil error means the launch cannot be timed (no
// allocator, or allocation failed); the submission itself must proceed, so
// that is a warning, not an error. An unregistered list is a collaborator
// protocol violation and is surfaced.
func (c *Collector) Begin(list events.ListID, name string, width uint32, signal events.EventID) (*Pending, error) {
	if name == "" {
		return nil, fmt.Errorf("empty kernel name on list %d", list)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.lists.Lookup(list)
	if err != nil {
		return nil, err
	}

	handle := Borrowed(signal)
	if signal == 0 {
		if c.alloc == nil {
			c.log.Warn("launch carries no signal event and no allocator is configured; timing lost",
				zap.String("kernel", name), zap.Uint64("list", uint64(list)))
			return nil, nil
		}
		id, err := c.alloc.Allocate(entry.Context, entry.Device)
		if err != nil {
			// Must not propagate into the submission path being timed.
			c.log.Warn("completion event allocation failed; timing lost",
				zap.String("kernel", name), zap.Error(err))
			return nil, nil
		}
		handle = Owned(id)
	}

	return &Pending{list: list, entry: entry, name: name, width: width, handle: handle}, nil
}

// Commit finishes the launch intercept. On a successful submission the
// instance enters the in-flight table; on a failed one the tentative
// bookkeeping is undone and any engine-allocated event released. A nil
// pending is a no-op.
func (c *Collector) Commit(p *Pending, ok bool) error {
	if p == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !ok {
		c.releaseLocked(p.handle)
		return nil
	}

	if _, live := c.instances[p.handle.ID()]; live {
		return fmt.Errorf("%w: event %d", ErrDuplicateHandle, p.handle.ID())
	}
	c.instances[p.handle.ID()] = &instance{
		name:    p.name,
		width:   p.width,
		handle:  p.handle,
		list:    p.list,
		context: p.entry.Context,
		device:  p.entry.Device,
	}
	metrics.LaunchesTracked.Inc()
	metrics.InstancesInFlight.Set(float64(len(c.instances)))
	return nil
}

// Track is the one-shot form of Begin plus Commit for callers that do not
// need the two-phase intercept.
func (c *Collector) Track(list events.ListID, name string, width uint32, signal events.EventID) error {
	p, err := c.Begin(list, name, width, signal)
	if err != nil {
		return err
	}
	return c.Commit(p, true)
}

// ResolveOne handles an explicit out-of-band completion: the application is
// destroying or resetting the signal event, so the matching instance must be
// resolved now or never. A ready instance retires; one that has not completed
// is an explicit cancellation and is discarded without statistics. An unknown
// event is a no-op, since bulk draining may have retired it already.
func (c *Collector) ResolveOne(id events.EventID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in, ok := c.instances[id]
	if !ok {
		return
	}
	delete(c.instances, id)

	ts, err := c.source.Query(id)
	switch {
	case err == nil:
		c.retireLocked(in, ts)
	case isNotReady(err):
		c.log.Debug("launch cancelled before completion",
			zap.String("kernel", in.name), zap.Uint64("event", uint64(id)))
		c.releaseLocked(in.handle)
		metrics.LaunchesCancelled.Inc()
	default:
		c.dropLocked(in, err)
	}
	metrics.InstancesInFlight.Set(float64(len(c.instances)))
}

// DrainReady polls every in-flight instance once and retires the completed
// ones in place. Retirement order across instances is unspecified. Not-ready
// instances stay; query failures drop the single affected instance with a
// warning. Returns the number of instances retired.
func (c *Collector) DrainReady() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainLocked()
}

func (c *Collector) drainLocked() int {
	retired := 0
	for id, in := range c.instances {
		ts, err := c.source.Query(id)
		switch {
		case err == nil:
			delete(c.instances, id)
			c.retireLocked(in, ts)
			retired++
		case isNotReady(err):
			// Still running; poll again at the next checkpoint.
		default:
			delete(c.instances, id)
			c.dropLocked(in, err)
		}
	}
	metrics.InstancesInFlight.Set(float64(len(c.instances)))
	return retired
}

// ListCreated registers a command list's identity metadata.
func (c *Collector) ListCreated(list events.ListID, ctx events.ContextID, dev events.DeviceID, immediate bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.lists.Register(list, registry.Entry{Context: ctx, Device: dev, Immediate: immediate})
	if err != nil {
		return err
	}
	metrics.CommandListsRegistered.Set(float64(c.lists.Len()))
	return nil
}

// ListDestroyed drains completions, discards whatever is still in flight on
// the dying list, and unregisters it. No instance may survive referencing a
// dead list.
func (c *Collector) ListDestroyed(list events.ListID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.drainLocked()
	for id, in := range c.instances {
		if in.list != list {
			continue
		}
		delete(c.instances, id)
		c.log.Warn("command list destroyed with launch still in flight; instance discarded",
			zap.String("kernel", in.name), zap.Uint64("list", uint64(list)))
		c.releaseLocked(in.handle)
		metrics.LaunchesCancelled.Inc()
	}
	metrics.InstancesInFlight.Set(float64(len(c.instances)))

	if err := c.lists.Unregister(list); err != nil {
		return err
	}
	metrics.CommandListsRegistered.Set(float64(c.lists.Len()))
	return nil
}

// Synchronized handles a bulk checkpoint: every completed launch becomes
// observable, so drain.
func (c *Collector) Synchronized() {
	c.DrainReady()
}

// Dispatch consumes one normalized device event.
func (c *Collector) Dispatch(ev events.Event) error {
	switch ev.Kind {
	case events.KindListCreated:
		return c.ListCreated(ev.List, ev.Context, ev.Device, ev.Immediate)
	case events.KindListDestroyed:
		return c.ListDestroyed(ev.List)
	case events.KindLaunch:
		return c.Track(ev.List, ev.Name, ev.Width, ev.Signal)
	case events.KindEventCompleted:
		c.ResolveOne(ev.Signal)
		return nil
	case events.KindSynchronize:
		c.Synchronized()
		return nil
	default:
		return fmt.Errorf("unhandled event kind %v", ev.Kind)
	}
}

// Snapshot returns an immutable copy of the aggregated statistics and the
// interval timeline.
func (c *Collector) Snapshot() aggregate.Snapshot {
	return c.agg.Snapshot()
}

// InFlight reports the number of instances awaiting completion.
func (c *Collector) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.instances)
}

// KernelNames returns the interned names referenced by trace records, indexed
// by name id.
func (c *Collector) KernelNames() []string {
	return c.bank.Names()
}

// FlushTrace hands any partially filled trace buffer to the sink.
func (c *Collector) FlushTrace() {
	if c.exchange != nil {
		c.exchange.Flush()
	}
}

// TraceDropped reports how many trace records were lost to buffer
// exhaustion.
func (c *Collector) TraceDropped() uint64 {
	if c.exchange == nil {
		return 0
	}
	return c.exchange.Dropped()
}

// SupplyTraceBuffer installs a replacement trace buffer out of band.
func (c *Collector) SupplyTraceBuffer(buf []byte) error {
	if c.exchange == nil {
		return fmt.Errorf("trace streaming disabled")
	}
	return c.exchange.SupplyBuffer(buf)
}

// retireLocked finalizes one completed instance: normalize, aggregate,
// stream, release. Timestamp anomalies drop the single instance with a
// warning so one malformed interval cannot poison the aggregate results.
func (c *Collector) retireLocked(in *instance, ts Timestamps) {
	startNS, endNS, err := clock.Normalize(ts.StartCycles, ts.EndCycles, ts.Clock)
	if err != nil {
		c.log.Warn("discarding instance with malformed timestamps",
			zap.String("kernel", in.name),
			zap.Uint64("start_cycles", ts.StartCycles),
			zap.Uint64("end_cycles", ts.EndCycles),
			zap.Error(err))
		metrics.LaunchesDropped.WithLabelValues("timestamp").Inc()
		c.releaseLocked(in.handle)
		return
	}

	c.agg.Record(in.name, startNS, endNS, in.width)
	c.emitLocked(in, startNS, endNS)
	c.releaseLocked(in.handle)
	metrics.LaunchesRetired.Inc()
}

func (c *Collector) dropLocked(in *instance, err error) {
	c.log.Warn("discarding instance after failed timestamp query",
		zap.String("kernel", in.name),
		zap.Uint64("event", uint64(in.handle.ID())),
		zap.Error(err))
	metrics.LaunchesDropped.WithLabelValues("query").Inc()
	c.releaseLocked(in.handle)
}

func (c *Collector) emitLocked(in *instance, startNS, endNS uint64) {
	if c.exchange == nil {
		return
	}
	c.nextKernelID++
	c.exchange.Emit(trace.Record{
		Kind:     trace.KindKernel,
		NameID:   c.bank.ID(in.name),
		KernelID: c.nextKernelID,
		Device:   uint64(in.device),
		Context:  uint64(in.context),
		Width:    in.width,
		StartNS:  startNS,
		EndNS:    endNS,
	})
	if d := c.exchange.Dropped(); d > c.lastDropped {
		metrics.TraceRecordsDropped.Add(float64(d - c.lastDropped))
		c.lastDropped = d
	}
}

// releaseLocked frees an engine-allocated completion event. Borrowed events
// belong to the application and are never touched.
func (c *Collector) releaseLocked(h CompletionHandle) {
	if !h.IsOwned() {
		return
	}
	if err := c.alloc.Release(h.ID()); err != nil {
		c.log.Warn("failed to release completion event",
			zap.Uint64("event", uint64(h.ID())), zap.Error(err))
	}
}

func isNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
