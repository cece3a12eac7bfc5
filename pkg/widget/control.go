package widget

import (
	"fmt"

	"github.com/param-go/param/pkg/param"
)

// Control is the three-method contract between the binding layer and a
// rendering collaborator. The core never inspects a control beyond it.
type Control interface {
	// GetValue returns the control's current display value.
	GetValue() any

	// SetValue pushes a new value into the control's display state.
	SetValue(v any)

	// OnChange registers the callback invoked when the control's value
	// changes on the rendering side.
	OnChange(fn func(v any))
}

// Factory creates controls of a given kind with the given constraints.
// Implemented by rendering collaborators (a websocket panel transport, a
// test double); returned handles are opaque to the binding layer.
type Factory interface {
	Create(spec ControlSpec) (Control, error)
}

// ControlKind identifies a control archetype. Like attribute kinds, the
// set is closed: selection is a table lookup, not a type hierarchy.
type ControlKind uint8

const (
	Slider ControlKind = iota + 1
	IntSlider
	NumericEntry
	TextInput
	Toggle
	Select
	MultiSelect
	DatePicker
	RangeSlider
	Button
	FileInput
	SubPanel
)

// String returns a human-readable name for the control kind.
func (k ControlKind) String() string {
	switch k {
	case Slider:
		return "Slider"
	case IntSlider:
		return "IntSlider"
	case NumericEntry:
		return "NumericEntry"
	case TextInput:
		return "TextInput"
	case Toggle:
		return "Toggle"
	case Select:
		return "Select"
	case MultiSelect:
		return "MultiSelect"
	case DatePicker:
		return "DatePicker"
	case RangeSlider:
		return "RangeSlider"
	case Button:
		return "Button"
	case FileInput:
		return "FileInput"
	case SubPanel:
		return "SubPanel"
	default:
		return "Unknown"
	}
}

// ControlSpec carries everything a factory needs to create one control:
// the kind, the attribute's constraints, and the initial value.
type ControlSpec struct {
	Kind ControlKind

	// Name is the bound attribute's name, usable as a label fallback.
	Name string

	// Doc is the attribute's documentation, for labels and tooltips.
	Doc string

	// Lo and Hi are the control's display range: the attribute's hard
	// bounds, falling back per-side to the advisory soft bounds.
	Lo *float64
	Hi *float64

	// Step is the attribute's step hint. Zero means unspecified.
	Step float64

	// Choices are the allowed values for Select and MultiSelect kinds.
	Choices []any

	// Value is the attribute's value at binding time.
	Value any
}

// IncompatibleControlError reports an explicit control-kind override that
// cannot represent the attribute's kind or constraints.
type IncompatibleControlError struct {
	Attr    string
	Kind    param.Kind
	Control ControlKind
	Reason  string
}

// Error implements the error interface.
func (e *IncompatibleControlError) Error() string {
	return fmt.Sprintf("widget: control %s cannot represent %s attribute %q: %s",
		e.Control, e.Kind, e.Attr, e.Reason)
}
