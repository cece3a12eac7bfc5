// Package widget binds attribute value slots to interactive controls.
//
// The core never renders anything: a rendering collaborator supplies a
// Factory that creates controls, and each control exposes exactly three
// methods (GetValue, SetValue, OnChange). Control-kind selection is a
// table lookup from attribute kind; a bounded number gets a slider with
// the attribute's bounds as the control range, a choice attribute gets a
// selector over its allowed values, an action gets a button.
//
// A Binding is cycle-safe: it remembers the last value it pushed to the
// control and treats an identical incoming value as an echo, so instance
// and control can drive each other without ping-pong.
//
// Panels auto-generate a binding set for an instance, excluding
// attributes declared with negative precedence unless requested by name,
// and rendering nested instances behind collapsed sub-panels by default.
package widget
