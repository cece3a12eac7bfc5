package param

import (
	"fmt"
	"reflect"
	"time"
)

// Bounds is a closed interval constraint on numeric attributes.
// A nil endpoint means unbounded on that side.
type Bounds struct {
	Lo *float64
	Hi *float64
}

// Closed returns bounds covering the closed interval [lo, hi].
func Closed(lo, hi float64) *Bounds {
	return &Bounds{Lo: &lo, Hi: &hi}
}

// AtLeast returns bounds with only a lower endpoint.
func AtLeast(lo float64) *Bounds {
	return &Bounds{Lo: &lo}
}

// AtMost returns bounds with only an upper endpoint.
func AtMost(hi float64) *Bounds {
	return &Bounds{Hi: &hi}
}

// Contains reports whether v lies within the bounds.
func (b *Bounds) Contains(v float64) bool {
	if b == nil {
		return true
	}
	if b.Lo != nil && v < *b.Lo {
		return false
	}
	if b.Hi != nil && v > *b.Hi {
		return false
	}
	return true
}

// Span is the value of a Range attribute: an ordered pair of endpoints.
type Span struct {
	Lo float64
	Hi float64
}

// FileValue is the value of a FileRef attribute. It references content held
// by a file store rather than carrying the bytes itself.
type FileValue struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ActionFunc is the value of an Action attribute: a zero-argument callable
// invoked via Instance.Trigger.
type ActionFunc func()

// Spec is the resolved metadata of one attribute. Specs are declared on a
// Class, merged field-by-field through the class hierarchy at class
// definition time, and immutable afterwards.
type Spec struct {
	// Name is the attribute identity, unique within the resolved hierarchy.
	Name string

	// Kind selects validation, control, and codec behavior.
	Kind Kind

	// Default is the initial value for instances that don't supply one.
	Default any

	// DefaultFunc, when set, produces the default instead of Default.
	// Required for mutable defaults (Mapping, Nested) so instances never
	// alias a shared value.
	DefaultFunc func() any

	// Bounds is the hard constraint for Number, Integer, and Range kinds.
	Bounds *Bounds

	// SoftBounds is an advisory range used only as a UI hint; values
	// outside it still validate.
	SoftBounds *Bounds

	// Step is a UI hint for slider-like controls. Zero means unspecified.
	Step float64

	// AllowedValues constrains Selector and MultiSelector kinds.
	AllowedValues []any

	// Constant marks the attribute write-once: settable during instance
	// construction, frozen afterwards.
	Constant bool

	// Precedence orders auto-generated bindings. Negative values are
	// excluded from auto-generated sets unless requested by name.
	Precedence float64

	// Doc documents the attribute for UI labels and tooltips.
	Doc string

	// NestedClass is the required class hierarchy for Nested kind values.
	NestedClass *Class
}

// clone returns a field-wise copy of the spec with its own slice headers,
// so subclass overrides never mutate an ancestor's resolved spec.
func (s *Spec) clone() *Spec {
	c := *s
	if s.AllowedValues != nil {
		c.AllowedValues = append([]any(nil), s.AllowedValues...)
	}
	if s.Bounds != nil {
		b := *s.Bounds
		c.Bounds = &b
	}
	if s.SoftBounds != nil {
		b := *s.SoftBounds
		c.SoftBounds = &b
	}
	return &c
}

// defaultValue produces the default for a fresh instance, constructing
// nested instances and copying mutable containers so no two instances
// share state.
func (s *Spec) defaultValue(d *Dispatcher) (any, error) {
	if s.DefaultFunc != nil {
		return s.Validate(s.DefaultFunc())
	}
	if s.Kind == Nested {
		if s.Default != nil {
			return nil, &ValidationError{Attr: s.Name, Value: s.Default,
				Reason: "nested defaults must use DefaultFunc or a nested class"}
		}
		if s.NestedClass != nil {
			return s.NestedClass.New(d, nil)
		}
		return nil, nil
	}
	if s.Default == nil {
		return nil, nil
	}
	if m, ok := s.Default.(map[string]any); ok {
		cp := make(map[string]any, len(m))
		for k, v := range m {
			cp[k] = v
		}
		return cp, nil
	}
	// Validation coerces the declared default to the stored representation
	// (ActionFunc, copied selections) without sharing mutable state.
	return s.Validate(s.Default)
}

// Validate checks a candidate value against the spec's kind, bounds, and
// allowed values, returning the (possibly coerced) value to store.
// It does not check the Constant flag; the instance store owns the
// construction window.
func (s *Spec) Validate(v any) (any, error) {
	switch s.Kind {
	case Number:
		f, ok := asFloat(v)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a number"}
		}
		if !s.Bounds.Contains(f) {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: boundsReason(s.Bounds)}
		}
		return f, nil

	case Integer:
		n, ok := asInt(v)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not an integer"}
		}
		if !s.Bounds.Contains(float64(n)) {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: boundsReason(s.Bounds)}
		}
		return n, nil

	case String:
		str, ok := v.(string)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a string"}
		}
		return str, nil

	case Boolean:
		b, ok := v.(bool)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a boolean"}
		}
		return b, nil

	case Selector:
		if !memberOf(v, s.AllowedValues) {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not in allowed values"}
		}
		return v, nil

	case MultiSelector:
		vs, ok := v.([]any)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a value list"}
		}
		for _, item := range vs {
			if !memberOf(item, s.AllowedValues) {
				return nil, &ValidationError{Attr: s.Name, Value: item, Reason: "not in allowed values"}
			}
		}
		return append([]any(nil), vs...), nil

	case Date:
		t, ok := v.(time.Time)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a time.Time"}
		}
		return t, nil

	case Range:
		sp, ok := v.(Span)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a range pair"}
		}
		if sp.Lo > sp.Hi {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "range endpoints out of order"}
		}
		if !s.Bounds.Contains(sp.Lo) || !s.Bounds.Contains(sp.Hi) {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: boundsReason(s.Bounds)}
		}
		return sp, nil

	case Mapping:
		if v == nil {
			return map[string]any{}, nil
		}
		m, ok := v.(map[string]any)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a string-keyed mapping"}
		}
		return m, nil

	case Action:
		if v == nil {
			return ActionFunc(nil), nil
		}
		switch fn := v.(type) {
		case ActionFunc:
			return fn, nil
		case func():
			return ActionFunc(fn), nil
		}
		return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a zero-argument callable"}

	case FileRef:
		if v == nil {
			return FileValue{}, nil
		}
		fv, ok := v.(FileValue)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a file reference"}
		}
		return fv, nil

	case Nested:
		if v == nil {
			return (*Instance)(nil), nil
		}
		inst, ok := v.(*Instance)
		if !ok {
			return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "not a parameterized instance"}
		}
		if s.NestedClass != nil && !inst.Class().IsSubclassOf(s.NestedClass) {
			return nil, &ValidationError{Attr: s.Name, Value: v,
				Reason: fmt.Sprintf("instance of %q is not a %q", inst.Class().Name(), s.NestedClass.Name())}
		}
		return inst, nil

	default:
		return nil, &ValidationError{Attr: s.Name, Value: v, Reason: "unknown kind"}
	}
}

func boundsReason(b *Bounds) string {
	lo, hi := "-inf", "+inf"
	if b != nil && b.Lo != nil {
		lo = fmt.Sprintf("%v", *b.Lo)
	}
	if b != nil && b.Hi != nil {
		hi = fmt.Sprintf("%v", *b.Hi)
	}
	return fmt.Sprintf("outside bounds [%s, %s]", lo, hi)
}

// asFloat coerces numeric Go values to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}

// asInt coerces integral Go values to int, rejecting fractional floats.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// memberOf reports membership by value equality, not identity.
func memberOf(v any, allowed []any) bool {
	for _, a := range allowed {
		if reflect.DeepEqual(v, a) {
			return true
		}
	}
	return false
}
