package widget

import (
	"log/slog"
	"reflect"

	"github.com/param-go/param/pkg/param"
)

// Binding pairs one attribute value slot with one rendered control. It is
// two watchers in a cycle-safe pairing: the instance-to-control direction
// is an eager watcher pushing into the control's display state; the
// control-to-instance direction is a control-originated store write.
type Binding struct {
	inst    *param.Instance
	attr    string
	spec    *param.Spec
	control Control
	watcher *param.Watcher
	logger  *slog.Logger
	onError func(error)

	// lastPushed is the value this binding most recently pushed to the
	// control. An incoming control value equal to it (by value equality,
	// not identity) is an echo and is not re-propagated.
	lastPushed any

	closed bool
}

// BindOption configures a binding.
type BindOption func(*bindConfig)

type bindConfig struct {
	kind    ControlKind
	logger  *slog.Logger
	onError func(error)
}

// WithControlKind overrides the default control-kind selection. The
// override must accept the attribute's kind and constraints or binding
// fails with IncompatibleControlError.
func WithControlKind(kind ControlKind) BindOption {
	return func(c *bindConfig) { c.kind = kind }
}

// WithBindLogger sets the binding's logger. Defaults to slog.Default().
func WithBindLogger(logger *slog.Logger) BindOption {
	return func(c *bindConfig) { c.logger = logger }
}

// WithErrorFunc sets the callback for rejected control-originated writes.
// The default logs at warning level; the control keeps its display value.
func WithErrorFunc(fn func(error)) BindOption {
	return func(c *bindConfig) { c.onError = fn }
}

// Bind creates a bidirectional binding between the named attribute and a
// control obtained from the factory.
func Bind(f Factory, inst *param.Instance, attr string, opts ...BindOption) (*Binding, error) {
	spec, ok := inst.Class().Spec(attr)
	if !ok {
		return nil, param.ErrUnknownAttribute
	}

	cfg := bindConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	kind := cfg.kind
	if kind == 0 {
		kind = DefaultControlKind(spec)
	}
	if err := accepts(kind, spec); err != nil {
		return nil, err
	}

	value, err := inst.Get(attr)
	if err != nil {
		return nil, err
	}
	control, err := f.Create(controlSpecFor(kind, spec, value))
	if err != nil {
		return nil, err
	}

	b := &Binding{
		inst:       inst,
		attr:       attr,
		spec:       spec,
		control:    control,
		logger:     cfg.logger,
		onError:    cfg.onError,
		lastPushed: value,
	}
	if b.onError == nil {
		b.onError = func(err error) {
			b.logger.Warn("widget: control write rejected", "attr", attr, "err", err)
		}
	}

	w, err := inst.Dispatcher().Watch(inst, []string{attr}, b.push)
	if err != nil {
		return nil, err
	}
	b.watcher = w
	control.OnChange(b.receive)
	return b, nil
}

// Control returns the bound control handle.
func (b *Binding) Control() Control {
	return b.control
}

// Attr returns the bound attribute name.
func (b *Binding) Attr() string {
	return b.attr
}

// push is the instance-to-control direction.
func (b *Binding) push(events []param.Event) error {
	if b.closed {
		return nil
	}
	v := events[len(events)-1].New
	if bindingEqual(v, b.lastPushed) {
		return nil
	}
	b.lastPushed = v
	b.control.SetValue(v)
	return nil
}

// receive is the control-to-instance direction.
func (b *Binding) receive(v any) {
	if b.closed {
		return
	}
	if b.spec.Kind == param.Action {
		if err := b.inst.Trigger(b.attr); err != nil {
			b.onError(err)
		}
		return
	}
	if bindingEqual(v, b.lastPushed) {
		// Echo of our own push; re-propagating would ping-pong forever.
		return
	}
	prev := b.lastPushed
	b.lastPushed = v
	if err := b.inst.Set(b.attr, v); err != nil {
		// The rejected value never reached the store, so it must not be
		// treated as an echo if the control sends it again.
		b.lastPushed = prev
		b.onError(err)
	}
}

// Close removes both directions' watchers. The control handle is left to
// its factory to discard.
func (b *Binding) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.watcher.Unwatch()
}

// bindingEqual compares by value, with nested instances compared by
// identity since two distinct instances are never the same slot value.
func bindingEqual(a, b any) bool {
	if ia, ok := a.(*param.Instance); ok {
		ib, ok := b.(*param.Instance)
		return ok && ia == ib
	}
	return reflect.DeepEqual(a, b)
}
