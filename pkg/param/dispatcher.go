package param

import (
	"fmt"
	"log/slog"
	"reflect"
	"time"
)

// Event is one logical attribute change: announced by the instance store
// after a successful Set, delivered to watchers in batches.
type Event struct {
	Instance *Instance
	Name     string
	Old      any
	New      any
}

// BatchStats summarizes one completed top-level batch for observers
// (metrics collectors, tracing).
type BatchStats struct {
	Events   int
	Fired    int
	Errors   int
	Duration time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithHazardFunc sets the callback invoked when a double-invocation hazard
// is detected at registration. The registration still proceeds; the two
// call sites may have intentionally distinct side effects.
func WithHazardFunc(fn func(Hazard)) DispatcherOption {
	return func(d *Dispatcher) { d.hazardFn = fn }
}

// WithObserver sets a callback invoked after every completed top-level
// batch.
func WithObserver(fn func(BatchStats)) DispatcherOption {
	return func(d *Dispatcher) { d.observer = fn }
}

// Dispatcher owns the dependency graph of one session: the registered
// watchers and the change-propagation state. All attribute writes on
// instances attached to it flow through here.
//
// A dispatcher is confined to one logical session: writes on its instances
// must not be interleaved from multiple goroutines. Class definitions are
// the only process-wide shared state and are immutable.
type Dispatcher struct {
	logger   *slog.Logger
	hazardFn func(Hazard)
	observer func(BatchStats)

	// watchers in registration order. Order is the tie-break for firing;
	// removal preserves it.
	watchers []*Watcher

	// batch state. Confined to the session's goroutine per the
	// concurrency contract, so no lock is held across dispatch.
	batchDepth  int
	pending     []Event
	dispatching bool
	queue       []*flight
	queueIdx    int
	fired       map[uint64]bool
	errs        []error

	closed bool
}

// flight is one pending watcher firing in the current in-flight queue,
// accumulating all of the watcher's matched events.
type flight struct {
	w      *Watcher
	events []Event
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Batch groups attribute writes into one propagation unit. Every Set
// inside fn enqueues its change event; when the outermost batch completes,
// each watcher whose source paths intersect the changed set fires exactly
// once with all of its matched events, in registration order.
//
// Batches nest: inner batches complete when the outermost one does. A
// batch completing while a dispatch is already in flight merges its events
// into the in-flight queue rather than starting a second top-level batch.
//
// The returned error aggregates all watcher failures of the batch; a
// failing watcher never suppresses delivery to the others.
func (d *Dispatcher) Batch(fn func()) error {
	if d.closed {
		return ErrDispatcherClosed
	}
	d.batchDepth++
	abandoned := true
	defer func() {
		if !abandoned {
			return
		}
		// fn panicked. The writes it made are already stored; their
		// events are dropped rather than dispatched mid-unwind, and the
		// depth is unwound so later Sets dispatch normally.
		d.batchDepth--
		if d.batchDepth == 0 {
			d.pending = nil
		}
	}()
	fn()
	abandoned = false
	d.batchDepth--
	if d.batchDepth > 0 {
		return nil
	}
	events := d.pending
	d.pending = nil
	if d.dispatching {
		d.inject(events)
		return nil
	}
	return d.dispatch(events)
}

// announce receives one change event from the instance store. Outside a
// batch it dispatches immediately as a batch of one.
func (d *Dispatcher) announce(ev Event) error {
	if d.closed {
		return nil
	}
	// Passive consumers go stale as soon as the value is stored, whether
	// or not a batch is open; they recompute on next read.
	for _, w := range d.watchers {
		if w.mode == passive && !w.disposed && w.anyMatch(ev) {
			w.markStale()
		}
	}
	if d.batchDepth > 0 {
		d.pending = append(d.pending, ev)
		return nil
	}
	if d.dispatching {
		d.inject([]Event{ev})
		return nil
	}
	return d.dispatch([]Event{ev})
}

// dispatch runs one top-level batch: match, queue, fire each watcher at
// most once, aggregate failures.
func (d *Dispatcher) dispatch(events []Event) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	d.dispatching = true
	d.fired = make(map[uint64]bool)
	d.queue = nil
	d.errs = nil
	d.inject(events)

	for d.queueIdx = 0; d.queueIdx < len(d.queue); d.queueIdx++ {
		f := d.queue[d.queueIdx]
		if f.w.disposed {
			continue
		}
		d.fired[f.w.id] = true
		if err := d.fire(f.w, f.events); err != nil {
			d.errs = append(d.errs, &WatcherError{Paths: f.w.Paths(), Err: err})
		}
	}

	fired := len(d.fired)
	errs := d.errs
	d.dispatching = false
	d.queue = nil
	d.queueIdx = 0
	d.fired = nil
	d.errs = nil

	if d.observer != nil {
		d.observer(BatchStats{
			Events:   len(events),
			Fired:    fired,
			Errors:   len(errs),
			Duration: time.Since(start),
		})
	}
	if len(errs) > 0 {
		return &BatchError{Errors: errs}
	}
	return nil
}

// inject matches events against eager watchers and feeds the in-flight
// queue. A watcher already queued but not yet fired accumulates the new
// events; a watcher that fired earlier in this batch is not fired again,
// preserving single-fire delivery. Watchers matched as a side effect of an
// earlier watcher run within the current batch, not a later one.
func (d *Dispatcher) inject(events []Event) {
	for _, ev := range events {
		for _, w := range d.watchers {
			if w.mode != eager || w.disposed || !w.anyMatch(ev) {
				continue
			}
			if d.fired[w.id] {
				continue
			}
			if f := d.pendingFlight(w); f != nil {
				f.events = append(f.events, ev)
				continue
			}
			d.queue = append(d.queue, &flight{w: w, events: []Event{ev}})
		}
	}
}

// pendingFlight returns the queued-but-unfired flight for w, if any.
func (d *Dispatcher) pendingFlight(w *Watcher) *flight {
	for i := d.queueIdx; i < len(d.queue); i++ {
		if d.queue[i].w == w {
			return d.queue[i]
		}
	}
	return nil
}

// fire invokes one watcher callback, converting panics into errors so a
// single misbehaving watcher cannot take down the batch.
func (d *Dispatcher) fire(w *Watcher, events []Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watcher panic: %v", r)
		}
	}()
	return w.fn(events)
}

// register appends a watcher and runs hazard detection against the
// opposite delivery mode.
func (d *Dispatcher) register(w *Watcher) {
	d.checkHazard(w)
	d.watchers = append(d.watchers, w)
}

// remove deletes a watcher, preserving registration order of the rest.
func (d *Dispatcher) remove(w *Watcher) {
	for i, cur := range d.watchers {
		if cur == w {
			d.watchers = append(d.watchers[:i], d.watchers[i+1:]...)
			return
		}
	}
}

// checkHazard warns when one consumer identity is registered both eagerly
// and passively over intersecting source paths: the two registrations
// would both observe the same change, once pushed and once pulled.
func (d *Dispatcher) checkHazard(w *Watcher) {
	if w.identity == nil {
		return
	}
	for _, other := range d.watchers {
		if other.disposed || !identityEqual(other.identity, w.identity) || other.mode == w.mode {
			continue
		}
		if !pathsIntersect(w.paths, other.paths) {
			continue
		}
		h := Hazard{Paths: w.Paths()}
		d.logger.Warn("param: double-invocation hazard", "detail", h.String())
		if d.hazardFn != nil {
			d.hazardFn(h)
		}
		return
	}
}

// identityEqual compares two consumer identities without panicking on
// uncomparable keys. An uncomparable identity (func, slice, map) never
// matches another, so it effectively opts its registration out of
// hazard detection.
func identityEqual(a, b any) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	if ta != nil && !ta.Comparable() {
		return false
	}
	return a == b
}

// pathsIntersect reports whether any pair of paths can match the same
// change event.
func pathsIntersect(a, b []*Path) bool {
	for _, pa := range a {
		for _, pb := range b {
			if pa.owner != pb.owner {
				continue
			}
			if len(pa.segments) != len(pb.segments) {
				continue
			}
			same := true
			for i := range pa.segments {
				if pa.segments[i] != pb.segments[i] {
					same = false
					break
				}
			}
			if !same {
				continue
			}
			if pa.attr == Wildcard || pb.attr == Wildcard || pa.attr == pb.attr {
				return true
			}
		}
	}
	return false
}

// Close disposes all watchers and rejects further batches. In-flight
// batches cannot be cancelled; Close is the "do not start a new batch"
// cancellation point.
func (d *Dispatcher) Close() {
	if d.closed {
		return
	}
	d.closed = true
	for _, w := range d.watchers {
		w.disposed = true
	}
	d.watchers = nil
}
