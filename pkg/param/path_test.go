package param

import "testing"

func treeClasses(t *testing.T) (*Class, *Class) {
	t.Helper()
	inner := MustClass("PathInner", nil,
		Attr("v", Number, Default(0.0)),
		Attr("w", Number, Default(0.0)),
	)
	outer := MustClass("PathOuter", nil,
		Attr("child", Nested, Of(inner)),
		Attr("top", Number, Default(0.0)),
	)
	return outer, inner
}

func TestDottedPathWatch(t *testing.T) {
	outer, _ := treeClasses(t)
	d := NewDispatcher()
	inst, _ := outer.New(d, nil)

	fired := 0
	if _, err := d.Watch(inst, []string{"child.v"}, func([]Event) error { fired++; return nil }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	child, _ := inst.Nested("child")
	child.Set("v", 1.0)
	if fired != 1 {
		t.Errorf("dotted path did not match nested change, fired %d", fired)
	}
	child.Set("w", 1.0)
	if fired != 1 {
		t.Errorf("dotted path matched the wrong attribute, fired %d", fired)
	}
}

func TestWildcardPath(t *testing.T) {
	outer, _ := treeClasses(t)
	d := NewDispatcher()
	inst, _ := outer.New(d, nil)

	fired := 0
	d.Watch(inst, []string{"child.*"}, func([]Event) error { fired++; return nil })

	child, _ := inst.Nested("child")
	child.Set("v", 1.0)
	child.Set("w", 2.0)
	if fired != 2 {
		t.Errorf("wildcard should match any nested attribute, fired %d", fired)
	}
}

func TestPathFollowsReassignedNested(t *testing.T) {
	outer, inner := treeClasses(t)
	d := NewDispatcher()
	inst, _ := outer.New(d, nil)

	fired := 0
	d.Watch(inst, []string{"child.v"}, func([]Event) error { fired++; return nil })

	original, _ := inst.Nested("child")
	replacement, _ := inner.New(d, nil)
	if err := inst.Set("child", replacement); err != nil {
		t.Fatalf("reassigning nested: %v", err)
	}

	// The edge follows the current nested instance, not the registered one.
	original.Set("v", 1.0)
	if fired != 0 {
		t.Errorf("path still bound to the replaced instance, fired %d", fired)
	}
	replacement.Set("v", 1.0)
	if fired != 1 {
		t.Errorf("path did not re-resolve to the new instance, fired %d", fired)
	}
}

func TestPathValidation(t *testing.T) {
	outer, _ := treeClasses(t)
	d := NewDispatcher()
	inst, _ := outer.New(d, nil)

	for _, raw := range []string{"", "missing", "top.v", "child.missing", "*"} {
		if _, err := d.Watch(inst, []string{raw}, func([]Event) error { return nil }); err == nil {
			t.Errorf("path %q should not validate", raw)
		}
	}
}
