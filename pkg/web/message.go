package web

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/param-go/param/pkg/param"
	"github.com/param-go/param/pkg/widget"
)

// Message is one JSON frame on the panel WebSocket. Type selects which
// fields are meaningful:
//
//	hello  client→server: Session (resume id, may be empty), Query
//	       server→client: Session (assigned id)
//	ctrl   server→client: ID, Kind, Name, Doc, Lo, Hi, Step, Choices, Value
//	set    client→server: ID, Value (control changed on the page)
//	       server→client: ID, Value (attribute changed on the server)
//	url    both ways: Key, Val (query-string entry changed)
//	err    server→client: Error
type Message struct {
	Type    string          `json:"type"`
	Session string          `json:"session,omitempty"`
	Query   string          `json:"query,omitempty"`
	ID      int             `json:"id,omitempty"`
	Kind    string          `json:"kind,omitempty"`
	Name    string          `json:"name,omitempty"`
	Doc     string          `json:"doc,omitempty"`
	Lo      *float64        `json:"lo,omitempty"`
	Hi      *float64        `json:"hi,omitempty"`
	Step    float64         `json:"step,omitempty"`
	Choices []any           `json:"choices,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Key     string          `json:"key,omitempty"`
	Val     string          `json:"val,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// spanWire is the wire form of a range value.
type spanWire struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// encodeWireValue marshals a control value for the wire.
func encodeWireValue(kind widget.ControlKind, v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case widget.RangeSlider:
		if sp, ok := v.(param.Span); ok {
			return json.Marshal(spanWire{Lo: sp.Lo, Hi: sp.Hi})
		}
	case widget.DatePicker:
		if t, ok := v.(time.Time); ok {
			return json.Marshal(t.Format(time.RFC3339Nano))
		}
	}
	return json.Marshal(v)
}

// decodeWireValue unmarshals a control value from the wire into the Go type
// the bound attribute expects. JSON flattens numbers to float64; the control
// kind tells us when an int, time.Time, Span, or FileValue is meant.
func decodeWireValue(kind widget.ControlKind, choices []any, raw json.RawMessage) (any, error) {
	switch kind {
	case widget.Slider, widget.NumericEntry:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return f, nil

	case widget.IntSlider:
		var n int
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return n, nil

	case widget.TextInput:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil

	case widget.Toggle:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil

	case widget.Select:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return matchWireChoice(v, choices)

	case widget.MultiSelect:
		var vs []any
		if err := json.Unmarshal(raw, &vs); err != nil {
			return nil, err
		}
		out := make([]any, len(vs))
		for i, v := range vs {
			m, err := matchWireChoice(v, choices)
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil

	case widget.DatePicker:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return t, nil

	case widget.RangeSlider:
		var sp spanWire
		if err := json.Unmarshal(raw, &sp); err != nil {
			return nil, err
		}
		return param.Span{Lo: sp.Lo, Hi: sp.Hi}, nil

	case widget.FileInput:
		var fv param.FileValue
		if err := json.Unmarshal(raw, &fv); err != nil {
			return nil, err
		}
		return fv, nil

	case widget.Button:
		return nil, nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// matchWireChoice maps a JSON-decoded value back onto the declared choice
// it came from. JSON turns numeric choices into float64, so an exact match
// is tried first and the printed form second.
func matchWireChoice(v any, choices []any) (any, error) {
	if len(choices) == 0 {
		return v, nil
	}
	for _, c := range choices {
		if reflect.DeepEqual(c, v) {
			return c, nil
		}
	}
	printed := fmt.Sprintf("%v", v)
	for _, c := range choices {
		if fmt.Sprintf("%v", c) == printed {
			return c, nil
		}
	}
	return nil, fmt.Errorf("web: value %v is not one of the declared choices", v)
}
