package param

import (
	"reflect"
	"sync"
)

// Instance owns a current value for every attribute resolved from its
// class, including ancestors. Nested-kind values reference further
// instances, forming a tree. One instance belongs to one dispatcher for
// its whole lifetime.
type Instance struct {
	id    uint64
	class *Class
	disp  *Dispatcher

	mu     sync.RWMutex
	values map[string]any

	// constructed is set once New returns; afterwards writes to Constant
	// attributes fail.
	constructed bool

	// watchers registered with this instance as owner, torn down on Close.
	watchers   []*Watcher
	watchersMu sync.Mutex

	closed bool
}

// New constructs an instance of the class attached to the dispatcher.
// initial supplies construction-time values by attribute name; unset
// attributes take their spec's default, constructing fresh nested
// instances so no two instances ever share a mutable default.
// Constant attributes accept exactly one write here and are frozen after.
func (c *Class) New(d *Dispatcher, initial map[string]any) (*Instance, error) {
	if d == nil {
		d = NewDispatcher()
	}
	inst := &Instance{
		id:     nextID(),
		class:  c,
		disp:   d,
		values: make(map[string]any, len(c.specs)),
	}
	for _, s := range c.specs {
		if v, ok := initial[s.Name]; ok {
			validated, err := s.Validate(v)
			if err != nil {
				return nil, err
			}
			inst.values[s.Name] = validated
			continue
		}
		v, err := s.defaultValue(d)
		if err != nil {
			return nil, err
		}
		inst.values[s.Name] = v
	}
	for name := range initial {
		if _, ok := c.index[name]; !ok {
			return nil, &ValidationError{Attr: name, Value: initial[name], Reason: "unknown attribute"}
		}
	}
	inst.constructed = true
	return inst, nil
}

// ID returns the unique identifier of this instance.
func (i *Instance) ID() uint64 {
	return i.id
}

// Class returns the instance's class.
func (i *Instance) Class() *Class {
	return i.class
}

// Dispatcher returns the dispatcher this instance announces changes to.
func (i *Instance) Dispatcher() *Dispatcher {
	return i.disp
}

// Get returns the current value of the named attribute.
func (i *Instance) Get(name string) (any, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	v, ok := i.values[name]
	if !ok {
		return nil, ErrUnknownAttribute
	}
	return v, nil
}

// MustGet is Get that panics on an unknown attribute name.
func (i *Instance) MustGet(name string) any {
	v, err := i.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Set validates and stores a new value for the named attribute, then
// announces exactly one change event to the dispatcher before returning.
// Writing a value equal to the stored one is a no-op. The returned error
// is a ValidationError or ConstantViolation for rejected writes, or the
// aggregate of watcher failures when the write itself dispatched.
func (i *Instance) Set(name string, v any) error {
	spec, ok := i.class.Spec(name)
	if !ok {
		return ErrUnknownAttribute
	}
	if spec.Constant && i.constructed {
		return &ConstantViolation{Attr: name}
	}
	validated, err := spec.Validate(v)
	if err != nil {
		return err
	}

	i.mu.Lock()
	old := i.values[name]
	if reflect.DeepEqual(old, validated) {
		i.mu.Unlock()
		return nil
	}
	i.values[name] = validated
	i.mu.Unlock()

	return i.disp.announce(Event{Instance: i, Name: name, Old: old, New: validated})
}

// Trigger invokes the callable held by an Action attribute.
func (i *Instance) Trigger(name string) error {
	spec, ok := i.class.Spec(name)
	if !ok {
		return ErrUnknownAttribute
	}
	if spec.Kind != Action {
		return ErrNotAction
	}
	v, err := i.Get(name)
	if err != nil {
		return err
	}
	if fn, ok := v.(ActionFunc); ok && fn != nil {
		fn()
	}
	return nil
}

// Nested returns the instance stored in a Nested attribute, or nil if
// the attribute is unset.
func (i *Instance) Nested(name string) (*Instance, error) {
	v, err := i.Get(name)
	if err != nil {
		return nil, err
	}
	inst, _ := v.(*Instance)
	return inst, nil
}

// Watch registers an eager watcher owned by this instance over the given
// source paths, resolved relative to this instance. The watcher is torn
// down when the instance is closed.
func (i *Instance) Watch(fn func([]Event) error, paths ...string) (*Watcher, error) {
	w, err := i.disp.Watch(i, paths, fn)
	if err != nil {
		return nil, err
	}
	i.watchersMu.Lock()
	i.watchers = append(i.watchers, w)
	i.watchersMu.Unlock()
	return w, nil
}

// Close tears down all watchers owned by this instance. Stored values are
// left readable; further writes still validate and dispatch to watchers
// owned elsewhere.
func (i *Instance) Close() {
	i.watchersMu.Lock()
	ws := i.watchers
	i.watchers = nil
	i.closed = true
	i.watchersMu.Unlock()
	for _, w := range ws {
		w.Unwatch()
	}
}
