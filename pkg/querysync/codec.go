package querysync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/param-go/param/pkg/param"
)

// ErrNoCodec is returned when an attribute kind has no canonical string
// form and no explicit codec was supplied.
var ErrNoCodec = errors.New("querysync: attribute kind has no codec")

// Codec converts between an attribute value and its external string form.
type Codec interface {
	Encode(v any) (string, error)
	Decode(s string) (any, error)
}

// DecodeError reports an external string that cannot be parsed for a
// codec. Decode failures are ignored by the sync adapter: the external
// value and the instance value are both left untouched.
type DecodeError struct {
	Raw    string
	Reason string
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("querysync: cannot decode %q: %s", e.Raw, e.Reason)
}

// ForSpec returns the built-in codec for an attribute spec. Action and
// Nested kinds have no canonical string form and require an explicit
// codec.
func ForSpec(s *param.Spec) (Codec, error) {
	switch s.Kind {
	case param.Number:
		return numberCodec{}, nil
	case param.Integer:
		return integerCodec{}, nil
	case param.String:
		return stringCodec{}, nil
	case param.Boolean:
		return booleanCodec{}, nil
	case param.Selector:
		return selectorCodec{allowed: s.AllowedValues}, nil
	case param.MultiSelector:
		return multiCodec{allowed: s.AllowedValues}, nil
	case param.Date:
		return dateCodec{}, nil
	case param.Range:
		return rangeCodec{}, nil
	case param.Mapping:
		return mappingCodec{}, nil
	case param.FileRef:
		return fileRefCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNoCodec, s.Kind)
	}
}

type numberCodec struct{}

func (numberCodec) Encode(v any) (string, error) {
	f, ok := v.(float64)
	if !ok {
		return "", fmt.Errorf("querysync: not a number: %v", v)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func (numberCodec) Decode(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, &DecodeError{Raw: s, Reason: "not a number"}
	}
	return f, nil
}

type integerCodec struct{}

func (integerCodec) Encode(v any) (string, error) {
	n, ok := v.(int)
	if !ok {
		return "", fmt.Errorf("querysync: not an integer: %v", v)
	}
	return strconv.Itoa(n), nil
}

func (integerCodec) Decode(s string) (any, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, &DecodeError{Raw: s, Reason: "not an integer"}
	}
	return n, nil
}

type stringCodec struct{}

func (stringCodec) Encode(v any) (string, error) {
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("querysync: not a string: %v", v)
	}
	return str, nil
}

func (stringCodec) Decode(s string) (any, error) { return s, nil }

type booleanCodec struct{}

func (booleanCodec) Encode(v any) (string, error) {
	b, ok := v.(bool)
	if !ok {
		return "", fmt.Errorf("querysync: not a boolean: %v", v)
	}
	return strconv.FormatBool(b), nil
}

func (booleanCodec) Decode(s string) (any, error) {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, &DecodeError{Raw: s, Reason: "not a boolean"}
	}
	return b, nil
}

// selectorCodec encodes the choice via its atom form and decodes by
// matching against the allowed set, so decoded values are the declared
// choices themselves, whatever their Go type.
type selectorCodec struct {
	allowed []any
}

func (c selectorCodec) Encode(v any) (string, error) {
	return atom(v), nil
}

func (c selectorCodec) Decode(s string) (any, error) {
	for _, a := range c.allowed {
		if atom(a) == s {
			return a, nil
		}
	}
	return nil, &DecodeError{Raw: s, Reason: "not an allowed choice"}
}

// multiCodec serializes a selection as comma-separated atoms.
type multiCodec struct {
	allowed []any
}

func (c multiCodec) Encode(v any) (string, error) {
	vs, ok := v.([]any)
	if !ok {
		return "", fmt.Errorf("querysync: not a value list: %v", v)
	}
	parts := make([]string, len(vs))
	for i, item := range vs {
		parts[i] = atom(item)
	}
	return strings.Join(parts, ","), nil
}

func (c multiCodec) Decode(s string) (any, error) {
	if s == "" {
		return []any{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	single := selectorCodec{allowed: c.allowed}
	for _, p := range parts {
		v, err := single.Decode(p)
		if err != nil {
			return nil, &DecodeError{Raw: s, Reason: fmt.Sprintf("element %q is not an allowed choice", p)}
		}
		out = append(out, v)
	}
	return out, nil
}

type dateCodec struct{}

func (dateCodec) Encode(v any) (string, error) {
	t, ok := v.(time.Time)
	if !ok {
		return "", fmt.Errorf("querysync: not a time: %v", v)
	}
	return t.Format(time.RFC3339Nano), nil
}

func (dateCodec) Decode(s string) (any, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, &DecodeError{Raw: s, Reason: "not an RFC 3339 timestamp"}
	}
	return t, nil
}

type rangeCodec struct{}

func (rangeCodec) Encode(v any) (string, error) {
	sp, ok := v.(param.Span)
	if !ok {
		return "", fmt.Errorf("querysync: not a range pair: %v", v)
	}
	lo := strconv.FormatFloat(sp.Lo, 'f', -1, 64)
	hi := strconv.FormatFloat(sp.Hi, 'f', -1, 64)
	return lo + "," + hi, nil
}

func (rangeCodec) Decode(s string) (any, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, &DecodeError{Raw: s, Reason: "not a lo,hi pair"}
	}
	lo, err1 := strconv.ParseFloat(parts[0], 64)
	hi, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return nil, &DecodeError{Raw: s, Reason: "endpoints are not numbers"}
	}
	return param.Span{Lo: lo, Hi: hi}, nil
}

type mappingCodec struct{}

func (mappingCodec) Encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (mappingCodec) Decode(s string) (any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, &DecodeError{Raw: s, Reason: "not a JSON object"}
	}
	return m, nil
}

type fileRefCodec struct{}

func (fileRefCodec) Encode(v any) (string, error) {
	fv, ok := v.(param.FileValue)
	if !ok {
		return "", fmt.Errorf("querysync: not a file reference: %v", v)
	}
	data, err := json.Marshal(fv)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (fileRefCodec) Decode(s string) (any, error) {
	var fv param.FileValue
	if err := json.Unmarshal([]byte(s), &fv); err != nil {
		return nil, &DecodeError{Raw: s, Reason: "not a file reference"}
	}
	return fv, nil
}

// atom is the canonical single-value string form used for choices.
func atom(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
