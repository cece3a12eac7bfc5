package param

// mode distinguishes push (eager) from pull (passive) delivery.
type mode uint8

const (
	eager mode = iota + 1
	passive
)

// Watcher is a registered (source-path-set, callback, mode) triple. Eager
// watchers fire exactly once per batch when any of their paths changed;
// passive watchers are marked stale and recompute on next read.
type Watcher struct {
	id    uint64
	disp  *Dispatcher
	owner *Instance
	paths []*Path
	mode  mode

	// fn is the eager callback. Nil for passive watchers.
	fn func([]Event) error

	// stale is the passive stale marker. Nil for eager watchers.
	stale func()

	// identity keys hazard detection across delivery modes. Nil disables
	// detection for this watcher.
	identity any

	disposed bool
}

// watchConfig collects Watch options.
type watchConfig struct {
	identity any
}

// WatchOption configures a watcher registration.
type WatchOption func(*watchConfig)

// WithIdentity tags the registration with a consumer identity. Registering
// the same identity in both eager and passive mode over intersecting
// source paths surfaces a double-invocation hazard. The key should be a
// comparable value; an uncomparable key (func, slice, map) never matches
// another and so disables detection for the registration.
func WithIdentity(key any) WatchOption {
	return func(c *watchConfig) { c.identity = key }
}

// Watch registers an eager watcher over the given source paths, resolved
// relative to owner. The callback fires exactly once per batch with all of
// its matched events. Registration order is the firing tie-break.
func (d *Dispatcher) Watch(owner *Instance, rawPaths []string, fn func([]Event) error, opts ...WatchOption) (*Watcher, error) {
	return d.registerWatcher(owner, rawPaths, eager, fn, nil, opts)
}

// Depends is the bound-method form of Watch: the callback takes no event
// slice and reads current state through Get instead. It fires eagerly once
// per batch that changes any of the source paths.
func Depends(d *Dispatcher, owner *Instance, paths []string, method func() error, opts ...WatchOption) (*Watcher, error) {
	return d.Watch(owner, paths, func([]Event) error { return method() }, opts...)
}

// watchPassive registers a pull-mode watcher: matched changes invoke the
// stale marker and nothing else. Used by Computed.
func (d *Dispatcher) watchPassive(owner *Instance, rawPaths []string, stale func(), opts ...WatchOption) (*Watcher, error) {
	return d.registerWatcher(owner, rawPaths, passive, nil, stale, opts)
}

func (d *Dispatcher) registerWatcher(owner *Instance, rawPaths []string, m mode, fn func([]Event) error, stale func(), opts []WatchOption) (*Watcher, error) {
	if d.closed {
		return nil, ErrDispatcherClosed
	}
	if len(rawPaths) == 0 {
		return nil, &PathError{Path: "", Reason: "watcher needs at least one source path"}
	}
	var cfg watchConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	w := &Watcher{
		id:       nextID(),
		disp:     d,
		owner:    owner,
		mode:     m,
		fn:       fn,
		stale:    stale,
		identity: cfg.identity,
	}
	for _, raw := range rawPaths {
		p, err := parsePath(owner, raw)
		if err != nil {
			return nil, err
		}
		w.paths = append(w.paths, p)
	}
	d.register(w)
	return w, nil
}

// Paths returns the watcher's source paths as declared.
func (w *Watcher) Paths() []string {
	out := make([]string, len(w.paths))
	for i, p := range w.paths {
		out[i] = p.String()
	}
	return out
}

// Unwatch removes the watcher from the dispatcher. A watcher is never
// implicitly duplicated, so one Unwatch fully stops it.
func (w *Watcher) Unwatch() {
	if w.disposed {
		return
	}
	w.disposed = true
	w.disp.remove(w)
}

// anyMatch reports whether any of the watcher's paths covers the event,
// resolved against the current nested instances.
func (w *Watcher) anyMatch(ev Event) bool {
	for _, p := range w.paths {
		if p.matches(ev) {
			return true
		}
	}
	return false
}

// markStale invokes the passive stale marker.
func (w *Watcher) markStale() {
	if w.stale != nil {
		w.stale()
	}
}
