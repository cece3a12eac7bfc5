package param

import (
	"strings"
)

// Wildcard is the path segment matching any attribute of a nested instance.
const Wildcard = "*"

// Path is a resolved source-path descriptor: a bare attribute name on the
// owning instance, a dotted path reaching into a nested instance, or a
// dotted path ending in "*" meaning any attribute of that instance.
//
// The nested chain is walked against the owner's current values at every
// match, so a path keeps following a Nested attribute after it is
// reassigned to a different instance.
type Path struct {
	raw      string
	owner    *Instance
	segments []string
	attr     string
}

// parsePath validates raw against the owner's class hierarchy. Every
// intermediate segment must name a Nested attribute; the final segment
// must name an attribute of the nested class, or be the wildcard. When an
// intermediate Nested attribute declares no required class the tail cannot
// be checked statically and is accepted as declared.
func parsePath(owner *Instance, raw string) (*Path, error) {
	if raw == "" {
		return nil, &PathError{Path: raw, Reason: "empty path"}
	}
	parts := strings.Split(raw, ".")
	p := &Path{
		raw:      raw,
		owner:    owner,
		segments: parts[:len(parts)-1],
		attr:     parts[len(parts)-1],
	}

	class := owner.Class()
	for _, seg := range p.segments {
		if class == nil {
			return p, nil
		}
		spec, ok := class.Spec(seg)
		if !ok {
			return nil, &PathError{Path: raw, Reason: "no attribute " + seg + " on class " + class.Name()}
		}
		if spec.Kind != Nested {
			return nil, &PathError{Path: raw, Reason: seg + " is not a nested attribute"}
		}
		class = spec.NestedClass
	}
	if p.attr == Wildcard {
		if len(p.segments) == 0 {
			return nil, &PathError{Path: raw, Reason: "wildcard requires a nested prefix"}
		}
		return p, nil
	}
	if class != nil {
		if _, ok := class.Spec(p.attr); !ok {
			return nil, &PathError{Path: raw, Reason: "no attribute " + p.attr + " on class " + class.Name()}
		}
	}
	return p, nil
}

// String returns the path as declared.
func (p *Path) String() string {
	return p.raw
}

// target resolves the instance the path currently points at by walking the
// owner's nested values. Returns nil when the chain is broken by an unset
// Nested attribute.
func (p *Path) target() *Instance {
	cur := p.owner
	for _, seg := range p.segments {
		if cur == nil {
			return nil
		}
		next, err := cur.Nested(seg)
		if err != nil {
			return nil
		}
		cur = next
	}
	return cur
}

// matches reports whether the event falls under this path right now.
func (p *Path) matches(ev Event) bool {
	t := p.target()
	if t == nil || t != ev.Instance {
		return false
	}
	return p.attr == Wildcard || p.attr == ev.Name
}
