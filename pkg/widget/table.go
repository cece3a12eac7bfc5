package widget

import (
	"github.com/param-go/param/pkg/param"
)

// DefaultControlKind selects the control kind for an attribute spec.
// Bounded numerics get slider-like controls; unbounded ones get free
// entry. Adding a new attribute kind means adding a table entry here.
func DefaultControlKind(s *param.Spec) ControlKind {
	switch s.Kind {
	case param.Number:
		if lo, hi := displayBounds(s); lo != nil && hi != nil {
			return Slider
		}
		return NumericEntry
	case param.Integer:
		if lo, hi := displayBounds(s); lo != nil && hi != nil {
			return IntSlider
		}
		return NumericEntry
	case param.String, param.Mapping:
		return TextInput
	case param.Boolean:
		return Toggle
	case param.Selector:
		return Select
	case param.MultiSelector:
		return MultiSelect
	case param.Date:
		return DatePicker
	case param.Range:
		return RangeSlider
	case param.Action:
		return Button
	case param.FileRef:
		return FileInput
	case param.Nested:
		return SubPanel
	default:
		return 0
	}
}

// displayBounds resolves the control's display range: hard bounds win,
// each missing side falls back to the advisory soft bounds.
func displayBounds(s *param.Spec) (lo, hi *float64) {
	if s.Bounds != nil {
		lo, hi = s.Bounds.Lo, s.Bounds.Hi
	}
	if s.SoftBounds != nil {
		if lo == nil {
			lo = s.SoftBounds.Lo
		}
		if hi == nil {
			hi = s.SoftBounds.Hi
		}
	}
	return lo, hi
}

// accepts checks that a control kind can represent the attribute's kind
// and constraints.
func accepts(kind ControlKind, s *param.Spec) error {
	fail := func(reason string) error {
		return &IncompatibleControlError{Attr: s.Name, Kind: s.Kind, Control: kind, Reason: reason}
	}
	switch kind {
	case Slider:
		if s.Kind != param.Number {
			return fail("slider carries a float value")
		}
		if lo, hi := displayBounds(s); lo == nil || hi == nil {
			return fail("slider needs a bounded range")
		}
	case IntSlider:
		if s.Kind != param.Integer {
			return fail("int slider carries an integer value")
		}
		if lo, hi := displayBounds(s); lo == nil || hi == nil {
			return fail("slider needs a bounded range")
		}
	case NumericEntry:
		if s.Kind != param.Number && s.Kind != param.Integer {
			return fail("numeric entry carries a numeric value")
		}
	case TextInput:
		if s.Kind != param.String && s.Kind != param.Mapping {
			return fail("text input carries a string value")
		}
	case Toggle:
		if s.Kind != param.Boolean {
			return fail("toggle carries a boolean value")
		}
	case Select:
		if s.Kind != param.Selector {
			return fail("select carries one choice")
		}
	case MultiSelect:
		if s.Kind != param.MultiSelector {
			return fail("multi-select carries a choice list")
		}
	case DatePicker:
		if s.Kind != param.Date {
			return fail("date picker carries a time value")
		}
	case RangeSlider:
		if s.Kind != param.Range {
			return fail("range slider carries a range pair")
		}
		if lo, hi := displayBounds(s); lo == nil || hi == nil {
			return fail("range slider needs a bounded range")
		}
	case Button:
		if s.Kind != param.Action {
			return fail("button triggers an action")
		}
	case FileInput:
		if s.Kind != param.FileRef {
			return fail("file input carries a file reference")
		}
	case SubPanel:
		if s.Kind != param.Nested {
			return fail("sub-panel renders a nested instance")
		}
	default:
		return fail("unknown control kind")
	}
	return nil
}

// controlSpecFor builds the ControlSpec handed to the factory.
func controlSpecFor(kind ControlKind, s *param.Spec, value any) ControlSpec {
	lo, hi := displayBounds(s)
	return ControlSpec{
		Kind:    kind,
		Name:    s.Name,
		Doc:     s.Doc,
		Lo:      lo,
		Hi:      hi,
		Step:    s.Step,
		Choices: s.AllowedValues,
		Value:   value,
	}
}
