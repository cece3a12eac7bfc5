// Package declfile loads attribute class declarations from YAML.
//
// A declaration file lists classes in resolution order; parents and nested
// class references must be declared before they are used:
//
//	classes:
//	  - name: Noise
//	    attributes:
//	      - name: level
//	        kind: number
//	        default: 0.1
//	        bounds: [0, 1]
//	  - name: Sim
//	    attributes:
//	      - name: gain
//	        kind: number
//	        default: 2.0
//	        bounds: [0, ~]
//	        softBounds: [0, 5]
//	        doc: Output gain.
//	      - name: noise
//	        kind: nested
//	        of: Noise
package declfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/param-go/param/pkg/param"
)

type fileDoc struct {
	Classes []classDoc `yaml:"classes"`
}

type classDoc struct {
	Name       string    `yaml:"name"`
	Parent     string    `yaml:"parent"`
	Attributes []attrDoc `yaml:"attributes"`

	line int
}

type attrDoc struct {
	Name       string     `yaml:"name"`
	Kind       string     `yaml:"kind"`
	Default    yaml.Node  `yaml:"default"`
	Bounds     []*float64 `yaml:"bounds"`
	SoftBounds []float64  `yaml:"softBounds"`
	Step       float64    `yaml:"step"`
	Choices    []any      `yaml:"choices"`
	Constant   bool       `yaml:"constant"`
	Precedence *float64   `yaml:"precedence"`
	Doc        string     `yaml:"doc"`
	Of         string     `yaml:"of"`
	Override   bool       `yaml:"override"`

	line int
}

func (c *classDoc) UnmarshalYAML(node *yaml.Node) error {
	type plain classDoc
	if err := node.Decode((*plain)(c)); err != nil {
		return err
	}
	c.line = node.Line
	return nil
}

func (a *attrDoc) UnmarshalYAML(node *yaml.Node) error {
	type plain attrDoc
	if err := node.Decode((*plain)(a)); err != nil {
		return err
	}
	a.line = node.Line
	return nil
}

var kinds = map[string]param.Kind{
	"number":         param.Number,
	"integer":        param.Integer,
	"string":         param.String,
	"boolean":        param.Boolean,
	"selector":       param.Selector,
	"multi-selector": param.MultiSelector,
	"date":           param.Date,
	"range":          param.Range,
	"mapping":        param.Mapping,
	"action":         param.Action,
	"file-reference": param.FileRef,
	"nested":         param.Nested,
}

// LoadFile reads and parses a declaration file.
func LoadFile(path string) ([]*param.Class, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Load parses class declarations from a reader.
func Load(r io.Reader) ([]*param.Class, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds classes from YAML declarations. Classes resolve in
// declaration order: a parent or nested class reference must name a class
// declared earlier in the same document.
func Parse(data []byte) ([]*param.Class, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("declfile: %w", err)
	}
	if len(doc.Classes) == 0 {
		return nil, errors.New("declfile: no classes declared")
	}

	byName := make(map[string]*param.Class, len(doc.Classes))
	out := make([]*param.Class, 0, len(doc.Classes))

	for _, c := range doc.Classes {
		if c.Name == "" {
			return nil, fmt.Errorf("declfile: line %d: class without a name", c.line)
		}
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("declfile: line %d: class %q declared twice", c.line, c.Name)
		}

		var parent *param.Class
		if c.Parent != "" {
			p, ok := byName[c.Parent]
			if !ok {
				return nil, fmt.Errorf("declfile: line %d: class %q: parent %q not declared earlier in the document",
					c.line, c.Name, c.Parent)
			}
			parent = p
		}

		decls := make([]param.Decl, 0, len(c.Attributes))
		for i := range c.Attributes {
			d, err := c.Attributes[i].decl(byName)
			if err != nil {
				return nil, fmt.Errorf("declfile: class %q: %w", c.Name, err)
			}
			decls = append(decls, d)
		}

		cls, err := param.NewClass(c.Name, parent, decls...)
		if err != nil {
			return nil, fmt.Errorf("declfile: line %d: class %q: %w", c.line, c.Name, err)
		}
		byName[c.Name] = cls
		out = append(out, cls)
	}
	return out, nil
}

func (a *attrDoc) decl(classes map[string]*param.Class) (param.Decl, error) {
	if a.Name == "" {
		return param.Decl{}, fmt.Errorf("line %d: attribute without a name", a.line)
	}

	var kind param.Kind
	if a.Kind != "" {
		k, ok := kinds[a.Kind]
		if !ok {
			return param.Decl{}, fmt.Errorf("line %d: attribute %q: unknown kind %q", a.line, a.Name, a.Kind)
		}
		kind = k
	}

	var opts []param.SpecOption
	if a.Doc != "" {
		opts = append(opts, param.Doc(a.Doc))
	}
	if a.Constant {
		opts = append(opts, param.Constant())
	}
	if a.Precedence != nil {
		opts = append(opts, param.Precedence(*a.Precedence))
	}
	if a.Step != 0 {
		opts = append(opts, param.Step(a.Step))
	}
	if len(a.Choices) > 0 {
		opts = append(opts, param.Choices(a.Choices...))
	}

	if a.Bounds != nil {
		if len(a.Bounds) != 2 {
			return param.Decl{}, fmt.Errorf("line %d: attribute %q: bounds must be a two-element list", a.line, a.Name)
		}
		opts = append(opts, param.BoundedBy(&param.Bounds{Lo: a.Bounds[0], Hi: a.Bounds[1]}))
	}
	if a.SoftBounds != nil {
		if len(a.SoftBounds) != 2 {
			return param.Decl{}, fmt.Errorf("line %d: attribute %q: softBounds must be a two-element list", a.line, a.Name)
		}
		opts = append(opts, param.SoftBounded(a.SoftBounds[0], a.SoftBounds[1]))
	}

	if a.Of != "" {
		cls, ok := classes[a.Of]
		if !ok {
			return param.Decl{}, fmt.Errorf("line %d: attribute %q: class %q not declared earlier in the document",
				a.line, a.Name, a.Of)
		}
		opts = append(opts, param.Of(cls))
	}

	if !a.Default.IsZero() {
		v, err := a.defaultValue(kind)
		if err != nil {
			return param.Decl{}, err
		}
		opts = append(opts, param.Default(v))
	}

	if a.Override {
		if a.Kind != "" {
			return param.Decl{}, fmt.Errorf("line %d: attribute %q: an override cannot change the kind", a.line, a.Name)
		}
		return param.Override(a.Name, opts...), nil
	}

	if a.Kind == "" {
		return param.Decl{}, fmt.Errorf("line %d: attribute %q: missing kind", a.line, a.Name)
	}
	if kind == param.Nested && a.Of == "" {
		return param.Decl{}, fmt.Errorf("line %d: attribute %q: nested attributes need an 'of' class", a.line, a.Name)
	}
	return param.Attr(a.Name, kind, opts...), nil
}

// defaultValue decodes the default node into the Go type the kind expects.
// YAML gives back int, float64, string, bool, []any, and map[string]any;
// dates, ranges, and file references need shaping.
func (a *attrDoc) defaultValue(kind param.Kind) (any, error) {
	var v any
	if err := a.Default.Decode(&v); err != nil {
		return nil, fmt.Errorf("line %d: attribute %q: %w", a.Default.Line, a.Name, err)
	}

	fail := func(want string) (any, error) {
		return nil, fmt.Errorf("line %d: attribute %q: default %v is not %s",
			a.Default.Line, a.Name, v, want)
	}

	switch kind {
	case param.Number:
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case float64:
			return n, nil
		}
		return fail("a number")

	case param.Integer:
		if n, ok := v.(int); ok {
			return n, nil
		}
		return fail("an integer")

	case param.String:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fail("a string")

	case param.Boolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return fail("a boolean")

	case param.Selector, param.Mapping:
		return v, nil

	case param.MultiSelector:
		if vs, ok := v.([]any); ok {
			return vs, nil
		}
		return fail("a list")

	case param.Date:
		// yaml.v3 resolves timestamp-shaped scalars to time.Time already.
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
		s, ok := v.(string)
		if !ok {
			return fail("a date string")
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return t, nil
		}
		return fail("an RFC 3339 or YYYY-MM-DD date")

	case param.Range:
		vs, ok := v.([]any)
		if !ok || len(vs) != 2 {
			return fail("a two-element list")
		}
		lo, okLo := asFloat(vs[0])
		hi, okHi := asFloat(vs[1])
		if !okLo || !okHi {
			return fail("a numeric pair")
		}
		return param.Span{Lo: lo, Hi: hi}, nil

	case param.FileRef:
		m, ok := v.(map[string]any)
		if !ok {
			return fail("a file reference mapping")
		}
		fv := param.FileValue{}
		if s, ok := m["key"].(string); ok {
			fv.Key = s
		}
		if s, ok := m["name"].(string); ok {
			fv.Name = s
		}
		switch n := m["size"].(type) {
		case int:
			fv.Size = int64(n)
		}
		return fv, nil

	case param.Action, param.Nested:
		return nil, fmt.Errorf("line %d: attribute %q: %s attributes cannot carry a default in a declaration file",
			a.Default.Line, a.Name, kind)
	}
	return v, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
