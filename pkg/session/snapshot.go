package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/param-go/param/pkg/param"
)

// Snapshot is the JSON-serializable representation of a session's state.
// It records the attribute values of every root instance, keyed by root name,
// with nested instances embedded as objects. Action attributes carry no state
// and are excluded.
type Snapshot struct {
	// Version is the serialization format version.
	Version int `json:"version"`

	// SavedAt is when the snapshot was taken.
	SavedAt time.Time `json:"saved_at"`

	// Roots maps root names to their attribute values.
	Roots map[string]map[string]json.RawMessage `json:"roots"`
}

// SnapshotVersion is the current version of the snapshot format.
// Increment when making breaking changes to the format.
const SnapshotVersion = 1

// UnsupportedVersionError is returned when a stored snapshot was written by
// a format version this build does not understand.
type UnsupportedVersionError struct {
	Version int
}

func (e UnsupportedVersionError) Error() string {
	return fmt.Sprintf("session: unsupported snapshot version %d", e.Version)
}

// Encode serializes the snapshot for storage.
func (s *Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeSnapshot deserializes a stored snapshot and rejects versions this
// build does not understand.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("session: malformed snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, UnsupportedVersionError{Version: snap.Version}
	}
	return &snap, nil
}

// clone deep-copies the snapshot so stores can hand out values the caller
// may mutate.
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{
		Version: s.Version,
		SavedAt: s.SavedAt,
		Roots:   make(map[string]map[string]json.RawMessage, len(s.Roots)),
	}
	for root, vals := range s.Roots {
		cp := make(map[string]json.RawMessage, len(vals))
		for name, raw := range vals {
			cp[name] = append(json.RawMessage(nil), raw...)
		}
		out.Roots[root] = cp
	}
	return out
}

// encodeInstance captures the current attribute values of an instance,
// recursing into nested instances.
func encodeInstance(inst *param.Instance) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for _, spec := range inst.Class().Specs() {
		var raw []byte
		var err error

		switch spec.Kind {
		case param.Action:
			continue
		case param.Nested:
			nested, nerr := inst.Nested(spec.Name)
			if nerr != nil {
				return nil, nerr
			}
			if nested == nil {
				continue
			}
			vals, verr := encodeInstance(nested)
			if verr != nil {
				return nil, verr
			}
			raw, err = json.Marshal(vals)
		default:
			v, gerr := inst.Get(spec.Name)
			if gerr != nil {
				return nil, gerr
			}
			raw, err = json.Marshal(v)
		}
		if err != nil {
			return nil, fmt.Errorf("session: encode %s.%s: %w", inst.Class().Name(), spec.Name, err)
		}
		out[spec.Name] = raw
	}
	return out, nil
}

// applyValues writes snapshot values back onto a live instance. Attributes
// the class no longer declares, constant attributes, and values that fail
// validation are skipped with a warning; restore is best-effort so a class
// revision doesn't strand every stored session.
func applyValues(inst *param.Instance, vals map[string]json.RawMessage, logger *slog.Logger) {
	for name, raw := range vals {
		spec, ok := inst.Class().Spec(name)
		if !ok || spec.Kind == param.Action {
			continue
		}

		if spec.Kind == param.Nested {
			nested, err := inst.Nested(name)
			if err != nil || nested == nil {
				continue
			}
			var nestedVals map[string]json.RawMessage
			if err := json.Unmarshal(raw, &nestedVals); err != nil {
				logger.Warn("skipping malformed nested snapshot value",
					"class", inst.Class().Name(), "attr", name, "error", err)
				continue
			}
			applyValues(nested, nestedVals, logger)
			continue
		}

		if spec.Constant {
			continue
		}

		v, err := decodeValue(spec, raw)
		if err != nil {
			logger.Warn("skipping undecodable snapshot value",
				"class", inst.Class().Name(), "attr", name, "error", err)
			continue
		}

		if err := inst.Set(name, v); err != nil {
			logger.Warn("snapshot value rejected",
				"class", inst.Class().Name(), "attr", name, "error", err)
		}
	}
}

// decodeValue unmarshals a snapshot value into the Go type the attribute
// kind stores.
func decodeValue(spec *param.Spec, raw json.RawMessage) (any, error) {
	switch spec.Kind {
	case param.Number:
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case param.Integer:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, err
		}
		return int(f), nil
	case param.Boolean:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	case param.String:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case param.Date:
		var t time.Time
		err := json.Unmarshal(raw, &t)
		return t, err
	case param.Range:
		var sp param.Span
		err := json.Unmarshal(raw, &sp)
		return sp, err
	case param.Mapping:
		var m map[string]any
		err := json.Unmarshal(raw, &m)
		return m, err
	case param.FileRef:
		var fv param.FileValue
		err := json.Unmarshal(raw, &fv)
		return fv, err
	case param.Selector:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return matchChoice(spec, v)
	case param.MultiSelector:
		var vs []any
		if err := json.Unmarshal(raw, &vs); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(vs))
		for _, v := range vs {
			m, err := matchChoice(spec, v)
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("session: kind %s has no snapshot form", spec.Kind)
	}
}

// matchChoice maps a decoded JSON value back to the declared choice it came
// from. JSON flattens numeric choices to float64, so equality alone is not
// enough; the printed form is compared as a fallback.
func matchChoice(spec *param.Spec, v any) (any, error) {
	for _, allowed := range spec.AllowedValues {
		if reflect.DeepEqual(allowed, v) {
			return allowed, nil
		}
	}
	printed := fmt.Sprintf("%v", v)
	for _, allowed := range spec.AllowedValues {
		if fmt.Sprintf("%v", allowed) == printed {
			return allowed, nil
		}
	}
	return nil, fmt.Errorf("session: %v is not an allowed choice for %s", v, spec.Name)
}
