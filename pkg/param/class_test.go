package param

import (
	"testing"
)

func TestClassResolution(t *testing.T) {
	base := MustClass("Base", nil,
		Attr("x", Number, Default(1.0), Bounded(0, 10), Doc("x value")),
		Attr("name", String, Default("base")),
	)
	child := MustClass("Child", base,
		Override("x", Default(2.0)),
		Attr("y", Number, Default(0.0)),
	)

	specs := child.Specs()
	if len(specs) != 3 {
		t.Fatalf("expected 3 resolved specs, got %d", len(specs))
	}
	// Inherited position is kept, new attributes append.
	if specs[0].Name != "x" || specs[1].Name != "name" || specs[2].Name != "y" {
		t.Errorf("unexpected resolution order: %s, %s, %s", specs[0].Name, specs[1].Name, specs[2].Name)
	}

	x, _ := child.Spec("x")
	if x.Default != 2.0 {
		t.Errorf("override should replace default, got %v", x.Default)
	}
	// Fields not redeclared keep the ancestor's values.
	if x.Bounds == nil || *x.Bounds.Lo != 0 || *x.Bounds.Hi != 10 {
		t.Errorf("override should keep inherited bounds, got %+v", x.Bounds)
	}
	if x.Doc != "x value" {
		t.Errorf("override should keep inherited doc, got %q", x.Doc)
	}

	// The ancestor's spec is untouched by the override.
	bx, _ := base.Spec("x")
	if bx.Default != 1.0 {
		t.Errorf("override mutated the ancestor spec: %v", bx.Default)
	}
}

func TestClassRejectsBadDeclarations(t *testing.T) {
	base := MustClass("Base", nil, Attr("x", Number))

	if _, err := NewClass("C", base, Override("missing", Default(1.0))); err == nil {
		t.Error("override of undeclared attribute should fail")
	}
	if _, err := NewClass("C", base, Attr("x", String)); err == nil {
		t.Error("redeclaring an inherited attribute without Override should fail")
	}
	if _, err := NewClass("C", nil, Attr("sel", Selector)); err == nil {
		t.Error("selector without allowed values should fail")
	}
	if _, err := NewClass("C", nil, Attr("x", Number, Default(20.0), Bounded(0, 10))); err == nil {
		t.Error("default outside bounds should fail")
	}
}

func TestIsSubclassOf(t *testing.T) {
	a := MustClass("A", nil)
	b := MustClass("B", a)
	c := MustClass("C", b)
	other := MustClass("Other", nil)

	if !c.IsSubclassOf(a) || !c.IsSubclassOf(c) {
		t.Error("subclass chain not recognized")
	}
	if c.IsSubclassOf(other) {
		t.Error("unrelated class reported as ancestor")
	}
}

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		value   any
		wantErr bool
	}{
		{"number in bounds", Spec{Name: "n", Kind: Number, Bounds: Closed(0, 10)}, 5.0, false},
		{"number below", Spec{Name: "n", Kind: Number, Bounds: Closed(0, 10)}, -1.0, true},
		{"number above", Spec{Name: "n", Kind: Number, Bounds: Closed(0, 10)}, 15.0, true},
		{"number at endpoint", Spec{Name: "n", Kind: Number, Bounds: Closed(0, 10)}, 10.0, false},
		{"number unbounded high", Spec{Name: "n", Kind: Number, Bounds: AtLeast(0)}, 1e9, false},
		{"int from float", Spec{Name: "i", Kind: Integer}, 3.0, false},
		{"int fractional", Spec{Name: "i", Kind: Integer}, 3.5, true},
		{"string", Spec{Name: "s", Kind: String}, "ok", false},
		{"string wrong type", Spec{Name: "s", Kind: String}, 1, true},
		{"selector member", Spec{Name: "c", Kind: Selector, AllowedValues: []any{"a", "b"}}, "b", false},
		{"selector non-member", Spec{Name: "c", Kind: Selector, AllowedValues: []any{"a", "b"}}, "z", true},
		{"multi ok", Spec{Name: "m", Kind: MultiSelector, AllowedValues: []any{"a", "b"}}, []any{"a"}, false},
		{"multi bad member", Spec{Name: "m", Kind: MultiSelector, AllowedValues: []any{"a", "b"}}, []any{"a", "z"}, true},
		{"range ordered", Spec{Name: "r", Kind: Range, Bounds: Closed(0, 100)}, Span{10, 20}, false},
		{"range reversed", Spec{Name: "r", Kind: Range}, Span{20, 10}, true},
		{"range out of bounds", Spec{Name: "r", Kind: Range, Bounds: Closed(0, 100)}, Span{10, 200}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Validate(tt.value)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
		})
	}
}

func TestNestedValidation(t *testing.T) {
	inner := MustClass("Inner", nil, Attr("v", Number, Default(0.0)))
	sub := MustClass("SubInner", inner)
	other := MustClass("Other", nil)

	spec := Spec{Name: "child", Kind: Nested, NestedClass: inner}

	d := NewDispatcher()
	ok, _ := sub.New(d, nil)
	if _, err := spec.Validate(ok); err != nil {
		t.Errorf("subclass instance should validate: %v", err)
	}
	bad, _ := other.New(d, nil)
	if _, err := spec.Validate(bad); err == nil {
		t.Error("instance of unrelated class should fail")
	}
}
