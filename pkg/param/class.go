package param

import (
	"fmt"
)

// Decl is one attribute declaration in a class definition. A Decl either
// introduces a new attribute (Attr) or overrides fields of an inherited one
// (Override). Declarations are consumed once when the class is built.
type Decl struct {
	name     string
	kind     Kind
	override bool
	opts     []SpecOption
}

// SpecOption sets one field of an attribute spec. Options applied to an
// inherited spec implement the per-field override merge: fields not touched
// by any option keep the ancestor's value.
type SpecOption func(*Spec)

// Attr declares a new attribute of the given kind.
func Attr(name string, kind Kind, opts ...SpecOption) Decl {
	return Decl{name: name, kind: kind, opts: opts}
}

// Override redeclares an inherited attribute, changing only the fields the
// given options set. Building a class with an Override whose name is not
// inherited fails.
func Override(name string, opts ...SpecOption) Decl {
	return Decl{name: name, override: true, opts: opts}
}

// Default sets the attribute's default value.
func Default(v any) SpecOption {
	return func(s *Spec) { s.Default = v; s.DefaultFunc = nil }
}

// DefaultFunc sets a factory producing the default per instance. Use this
// for mutable defaults so instances never alias a shared value.
func DefaultFunc(fn func() any) SpecOption {
	return func(s *Spec) { s.DefaultFunc = fn }
}

// Bounded sets hard bounds to the closed interval [lo, hi].
func Bounded(lo, hi float64) SpecOption {
	return func(s *Spec) { s.Bounds = Closed(lo, hi) }
}

// BoundedBy sets hard bounds, allowing open-ended intervals.
func BoundedBy(b *Bounds) SpecOption {
	return func(s *Spec) { s.Bounds = b }
}

// SoftBounded sets the advisory UI range hint.
func SoftBounded(lo, hi float64) SpecOption {
	return func(s *Spec) { s.SoftBounds = Closed(lo, hi) }
}

// Step sets the UI step hint for slider-like controls.
func Step(step float64) SpecOption {
	return func(s *Spec) { s.Step = step }
}

// Choices sets the allowed values for Selector and MultiSelector kinds.
func Choices(vs ...any) SpecOption {
	return func(s *Spec) { s.AllowedValues = vs }
}

// Constant marks the attribute write-once-after-construction.
func Constant() SpecOption {
	return func(s *Spec) { s.Constant = true }
}

// Precedence sets the display-ordering hint. Negative values exclude the
// attribute from auto-generated binding sets.
func Precedence(p float64) SpecOption {
	return func(s *Spec) { s.Precedence = p }
}

// Doc sets the attribute's documentation string.
func Doc(doc string) SpecOption {
	return func(s *Spec) { s.Doc = doc }
}

// Of sets the required class hierarchy for a Nested attribute. Instances
// assigned to the attribute must belong to the class or a subclass of it.
func Of(class *Class) SpecOption {
	return func(s *Spec) { s.NestedClass = class }
}

// Class is an attribute-bearing class definition. Its resolved spec table
// merges ancestor declarations with child overrides at build time and is
// immutable afterwards, so classes are safely shared across sessions
// without locking.
type Class struct {
	name   string
	parent *Class
	specs  []*Spec
	index  map[string]int
}

// NewClass builds a class from an optional parent and a declaration list.
// Resolution order is the ancestor's declaration order followed by new
// child attributes in declaration order; overrides keep the inherited
// position.
func NewClass(name string, parent *Class, decls ...Decl) (*Class, error) {
	c := &Class{
		name:   name,
		parent: parent,
		index:  make(map[string]int),
	}
	if parent != nil {
		for _, s := range parent.specs {
			c.index[s.Name] = len(c.specs)
			c.specs = append(c.specs, s.clone())
		}
	}
	for _, d := range decls {
		if d.name == "" {
			return nil, fmt.Errorf("param: class %q declares an unnamed attribute", name)
		}
		i, inherited := c.index[d.name]
		switch {
		case d.override:
			if !inherited {
				return nil, fmt.Errorf("param: class %q overrides %q, which no ancestor declares", name, d.name)
			}
			for _, opt := range d.opts {
				opt(c.specs[i])
			}
		case inherited:
			return nil, fmt.Errorf("param: class %q redeclares inherited attribute %q (use Override)", name, d.name)
		default:
			s := &Spec{Name: d.name, Kind: d.kind}
			for _, opt := range d.opts {
				opt(s)
			}
			if s.Kind == 0 {
				return nil, fmt.Errorf("param: attribute %q on class %q has no kind", d.name, name)
			}
			c.index[s.Name] = len(c.specs)
			c.specs = append(c.specs, s)
		}
	}
	for _, s := range c.specs {
		if err := checkSpec(name, s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustClass is NewClass that panics on error, for package-level class
// definitions.
func MustClass(name string, parent *Class, decls ...Decl) *Class {
	c, err := NewClass(name, parent, decls...)
	if err != nil {
		panic(err)
	}
	return c
}

// checkSpec validates the resolved spec itself, including that a non-nil
// default satisfies the spec's own constraints.
func checkSpec(class string, s *Spec) error {
	switch s.Kind {
	case Selector, MultiSelector:
		if len(s.AllowedValues) == 0 {
			return fmt.Errorf("param: %s.%s: %s kind requires allowed values", class, s.Name, s.Kind)
		}
	}
	if s.Default != nil && s.Kind != Nested {
		if _, err := s.Validate(s.Default); err != nil {
			return fmt.Errorf("param: %s.%s: default does not validate: %w", class, s.Name, err)
		}
	}
	return nil
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.name
}

// Parent returns the parent class, or nil for a root class.
func (c *Class) Parent() *Class {
	return c.parent
}

// Specs returns the resolved attribute specs in declaration order.
// The returned slice must not be modified.
func (c *Class) Specs() []*Spec {
	return c.specs
}

// Spec returns the resolved spec for the named attribute.
func (c *Class) Spec(name string) (*Spec, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.specs[i], true
}

// IsSubclassOf reports whether c is other or a descendant of other.
func (c *Class) IsSubclassOf(other *Class) bool {
	for cur := c; cur != nil; cur = cur.parent {
		if cur == other {
			return true
		}
	}
	return false
}
