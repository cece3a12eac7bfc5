package param

import "sync/atomic"

// Computed is a pull-based derived value over a set of source paths. The
// dispatcher never pushes to it: matched changes mark it stale, and the
// next Get recomputes. If several sources change before a read, the value
// recomputes once.
type Computed[T any] struct {
	w       *Watcher
	compute func() (T, error)

	value T
	err   error

	// stale starts true so the first Get computes.
	stale atomic.Bool

	// computing guards against recursive recomputation through the
	// compute function's own reads.
	computing atomic.Bool
}

// NewComputed registers a passive consumer of the given source paths,
// resolved relative to owner. The compute function runs lazily on first
// Get and again after any watched attribute changes.
func NewComputed[T any](d *Dispatcher, owner *Instance, paths []string, compute func() (T, error), opts ...WatchOption) (*Computed[T], error) {
	c := &Computed[T]{compute: compute}
	c.stale.Store(true)
	w, err := d.watchPassive(owner, paths, func() { c.stale.Store(true) }, opts...)
	if err != nil {
		return nil, err
	}
	c.w = w
	return c, nil
}

// Get returns the derived value, recomputing if any source changed since
// the last read.
func (c *Computed[T]) Get() (T, error) {
	if c.stale.Load() {
		c.recompute()
	}
	return c.value, c.err
}

// Stale reports whether the next Get will recompute.
func (c *Computed[T]) Stale() bool {
	return c.stale.Load()
}

// Invalidate forces the next Get to recompute.
func (c *Computed[T]) Invalidate() {
	c.stale.Store(true)
}

// Close unregisters the computed from the dispatcher.
func (c *Computed[T]) Close() {
	c.w.Unwatch()
}

func (c *Computed[T]) recompute() {
	if c.computing.Swap(true) {
		return
	}
	defer c.computing.Store(false)

	c.stale.Store(false)
	c.value, c.err = c.compute()
}
