package widget

import (
	"sort"

	"github.com/param-go/param/pkg/param"
)

// Panel is an auto-generated set of bindings for one instance: every
// visible attribute (precedence >= 0) bound in declaration order, hidden
// attributes included only when requested by name.
type Panel struct {
	inst     *param.Instance
	factory  Factory
	bindings []*Binding
	byName   map[string]*Binding

	// expanded tracks nested sub-panel expansion. Purely local UI state;
	// toggling is not a dependency-graph event.
	expanded  map[string]bool
	subpanels map[string]*Panel

	opts []BindOption
}

// PanelOption configures panel generation.
type PanelOption func(*panelConfig)

type panelConfig struct {
	include  []string
	less     func(a, b *param.Spec) bool
	expanded bool
	bindOpts []BindOption
}

// Include adds attributes to the panel by name, regardless of precedence.
func Include(names ...string) PanelOption {
	return func(c *panelConfig) { c.include = append(c.include, names...) }
}

// SortBy replaces declaration order with a custom ordering over specs.
// The sort is stable, so equal specs keep declaration order.
func SortBy(less func(a, b *param.Spec) bool) PanelOption {
	return func(c *panelConfig) { c.less = less }
}

// StartExpanded makes nested sub-panels expanded instead of collapsed.
func StartExpanded() PanelOption {
	return func(c *panelConfig) { c.expanded = true }
}

// WithBindOptions passes binding options through to every generated
// binding.
func WithBindOptions(opts ...BindOption) PanelOption {
	return func(c *panelConfig) { c.bindOpts = append(c.bindOpts, opts...) }
}

// NewPanel binds the instance's visible attributes against controls from
// the factory.
func NewPanel(f Factory, inst *param.Instance, opts ...PanelOption) (*Panel, error) {
	var cfg panelConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	included := make(map[string]bool, len(cfg.include))
	for _, name := range cfg.include {
		if _, ok := inst.Class().Spec(name); !ok {
			return nil, param.ErrUnknownAttribute
		}
		included[name] = true
	}

	var specs []*param.Spec
	for _, s := range inst.Class().Specs() {
		if s.Precedence < 0 && !included[s.Name] {
			continue
		}
		specs = append(specs, s)
	}
	if cfg.less != nil {
		sort.SliceStable(specs, func(i, j int) bool { return cfg.less(specs[i], specs[j]) })
	}

	p := &Panel{
		inst:      inst,
		factory:   f,
		byName:    make(map[string]*Binding, len(specs)),
		expanded:  make(map[string]bool),
		subpanels: make(map[string]*Panel),
		opts:      cfg.bindOpts,
	}
	for _, s := range specs {
		b, err := Bind(f, inst, s.Name, cfg.bindOpts...)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.bindings = append(p.bindings, b)
		p.byName[s.Name] = b
		if s.Kind == param.Nested {
			p.expanded[s.Name] = cfg.expanded
			if cfg.expanded {
				if _, err := p.Expand(s.Name); err != nil {
					p.Close()
					return nil, err
				}
			}
		}
	}
	return p, nil
}

// Bindings returns the panel's bindings in display order.
func (p *Panel) Bindings() []*Binding {
	return p.bindings
}

// Binding returns the binding for the named attribute, if bound.
func (p *Panel) Binding(name string) (*Binding, bool) {
	b, ok := p.byName[name]
	return b, ok
}

// Expanded reports whether the named nested attribute is expanded.
func (p *Panel) Expanded(name string) bool {
	return p.expanded[name]
}

// Expand builds (or returns) the sub-panel for a nested attribute and
// marks it expanded. The sub-panel follows the attribute's current
// instance: if the nested value was reassigned since the last expansion,
// the stale sub-panel is torn down and rebuilt.
func (p *Panel) Expand(name string) (*Panel, error) {
	b, ok := p.byName[name]
	if !ok || b.spec.Kind != param.Nested {
		return nil, param.ErrUnknownAttribute
	}
	nested, err := p.inst.Nested(name)
	if err != nil {
		return nil, err
	}
	if sub, ok := p.subpanels[name]; ok {
		if nested != nil && sub.inst == nested {
			p.expanded[name] = true
			return sub, nil
		}
		sub.Close()
		delete(p.subpanels, name)
	}
	if nested == nil {
		p.expanded[name] = true
		return nil, nil
	}
	sub, err := NewPanel(p.factory, nested, WithBindOptions(p.opts...))
	if err != nil {
		return nil, err
	}
	p.subpanels[name] = sub
	p.expanded[name] = true
	return sub, nil
}

// Collapse marks a nested attribute collapsed. The sub-panel's bindings
// stay live so re-expanding is cheap; Close tears them down.
func (p *Panel) Collapse(name string) {
	p.expanded[name] = false
}

// Close tears down all bindings and sub-panels.
func (p *Panel) Close() {
	for _, sub := range p.subpanels {
		sub.Close()
	}
	p.subpanels = nil
	for _, b := range p.bindings {
		b.Close()
	}
	p.bindings = nil
}
