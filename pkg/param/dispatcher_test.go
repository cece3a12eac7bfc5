package param

import (
	"errors"
	"fmt"
	"testing"
)

func widgetless(t *testing.T) (*Dispatcher, *Instance) {
	t.Helper()
	c := MustClass("T", nil,
		Attr("a", Number, Default(0.0)),
		Attr("b", Number, Default(0.0)),
		Attr("c", Number, Default(0.0)),
	)
	d := NewDispatcher()
	inst, err := c.New(d, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d, inst
}

func TestBatchSingleFire(t *testing.T) {
	d, inst := widgetless(t)

	fired := 0
	var got []Event
	_, err := d.Watch(inst, []string{"a", "b", "c"}, func(events []Event) error {
		fired++
		got = events
		return nil
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Changing two of three sources in one batch fires the watcher once
	// with both events.
	err = d.Batch(func() {
		inst.Set("a", 1.0)
		inst.Set("b", 2.0)
	})
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if fired != 1 {
		t.Errorf("expected exactly one firing, got %d", fired)
	}
	if len(got) != 2 {
		t.Errorf("expected both events delivered, got %d", len(got))
	}
}

func TestUnbatchedSetDispatchesImmediately(t *testing.T) {
	d, inst := widgetless(t)

	fired := 0
	d.Watch(inst, []string{"a"}, func([]Event) error { fired++; return nil })

	inst.Set("a", 1.0)
	inst.Set("a", 2.0)
	if fired != 2 {
		t.Errorf("each top-level set is its own batch, fired %d", fired)
	}
}

func TestRegistrationOrder(t *testing.T) {
	d, inst := widgetless(t)

	var order []string
	d.Watch(inst, []string{"a"}, func([]Event) error { order = append(order, "first"); return nil })
	d.Watch(inst, []string{"a"}, func([]Event) error { order = append(order, "second"); return nil })
	d.Watch(inst, []string{"a"}, func([]Event) error { order = append(order, "third"); return nil })

	inst.Set("a", 1.0)
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("watchers fired out of registration order: %v", order)
	}
}

func TestSideEffectWriteJoinsBatch(t *testing.T) {
	d, inst := widgetless(t)

	var order []string
	d.Watch(inst, []string{"a"}, func([]Event) error {
		order = append(order, "a-watcher")
		return inst.Set("b", 5.0)
	})
	d.Watch(inst, []string{"b"}, func([]Event) error {
		order = append(order, "b-watcher")
		return nil
	})

	if err := inst.Set("a", 1.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(order) != 2 || order[0] != "a-watcher" || order[1] != "b-watcher" {
		t.Errorf("side-effect write should run its watcher in the same batch: %v", order)
	}
}

func TestWatcherFiresOncePerBatchDespiteSideEffects(t *testing.T) {
	// The continent/country shape: an eager watcher on continent resets
	// country; a view watching both fires once, not twice.
	c := MustClass("Geo", nil,
		Attr("continent", Selector, Choices("Asia", "Europe"), Default("Asia")),
		Attr("country", Selector, Choices("China", "Japan", "France", "Germany"), Default("China")),
	)
	d := NewDispatcher()
	inst, err := c.New(d, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	countries := map[string][]string{
		"Asia":   {"China", "Japan"},
		"Europe": {"France", "Germany"},
	}
	d.Watch(inst, []string{"continent"}, func(events []Event) error {
		continent := events[len(events)-1].New.(string)
		return inst.Set("country", countries[continent][0])
	})

	viewFired := 0
	d.Watch(inst, []string{"continent", "country"}, func([]Event) error {
		viewFired++
		return nil
	})

	if err := inst.Set("continent", "Europe"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := inst.MustGet("country"); got != "France" {
		t.Errorf("country not recomputed, got %v", got)
	}
	if viewFired != 1 {
		t.Errorf("view fired %d times, want exactly 1", viewFired)
	}
}

func TestNestedBatchInsideWatcher(t *testing.T) {
	d, inst := widgetless(t)

	var order []string
	d.Watch(inst, []string{"a"}, func([]Event) error {
		order = append(order, "a-watcher")
		d.Batch(func() {
			inst.Set("b", 1.0)
			inst.Set("c", 2.0)
		})
		return nil
	})
	d.Watch(inst, []string{"b", "c"}, func(events []Event) error {
		order = append(order, fmt.Sprintf("bc-watcher(%d)", len(events)))
		return nil
	})

	inst.Set("a", 1.0)
	if len(order) != 2 || order[1] != "bc-watcher(2)" {
		t.Errorf("nested batch should merge into the in-flight queue: %v", order)
	}
}

func TestWatcherErrorIsolation(t *testing.T) {
	d, inst := widgetless(t)

	boom := errors.New("boom")
	reached := false
	d.Watch(inst, []string{"a"}, func([]Event) error { return boom })
	d.Watch(inst, []string{"a"}, func([]Event) error { panic("watcher panic") })
	d.Watch(inst, []string{"a"}, func([]Event) error { reached = true; return nil })

	err := inst.Set("a", 1.0)
	if !reached {
		t.Error("failing watchers suppressed delivery to an independent watcher")
	}
	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("expected BatchError, got %v", err)
	}
	if len(be.Errors) != 2 {
		t.Errorf("expected 2 aggregated failures, got %d", len(be.Errors))
	}
	if !errors.Is(err, boom) {
		t.Error("aggregate should unwrap to the watcher's error")
	}
}

func TestUnwatch(t *testing.T) {
	d, inst := widgetless(t)

	fired := 0
	w, _ := d.Watch(inst, []string{"a"}, func([]Event) error { fired++; return nil })
	inst.Set("a", 1.0)
	w.Unwatch()
	inst.Set("a", 2.0)
	if fired != 1 {
		t.Errorf("unwatched watcher fired, total %d", fired)
	}
}

func TestDoubleInvocationHazard(t *testing.T) {
	d, inst := widgetless(t)

	var hazards []Hazard
	d2 := NewDispatcher(WithHazardFunc(func(h Hazard) { hazards = append(hazards, h) }))
	inst2, _ := inst.Class().New(d2, nil)

	key := "view-model"
	if _, err := NewComputed(d2, inst2, []string{"a"}, func() (float64, error) {
		v, err := inst2.Get("a")
		if err != nil {
			return 0, err
		}
		return v.(float64) * 2, nil
	}, WithIdentity(key)); err != nil {
		t.Fatalf("NewComputed: %v", err)
	}

	// Same identity registered eagerly over an intersecting source set.
	if _, err := d2.Watch(inst2, []string{"a"}, func([]Event) error { return nil }, WithIdentity(key)); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if len(hazards) != 1 {
		t.Fatalf("expected one hazard, got %d", len(hazards))
	}

	// The misuse is surfaced, not corrected: both registrations stay live.
	if err := inst2.Set("a", 1.0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	_ = d
}

func TestDependsFiresOncePerBatch(t *testing.T) {
	d, inst := widgetless(t)

	runs := 0
	var seen float64
	_, err := Depends(d, inst, []string{"a", "b"}, func() error {
		runs++
		seen = inst.MustGet("a").(float64) + inst.MustGet("b").(float64)
		return nil
	})
	if err != nil {
		t.Fatalf("Depends: %v", err)
	}

	d.Batch(func() {
		inst.Set("a", 1.0)
		inst.Set("b", 2.0)
	})
	if runs != 1 {
		t.Errorf("method ran %d times for one batch, want 1", runs)
	}
	if seen != 3.0 {
		t.Errorf("method read stale state, got %v", seen)
	}
}

func TestBatchPanicLeavesDispatcherUsable(t *testing.T) {
	d, inst := widgetless(t)

	fired := 0
	d.Watch(inst, []string{"a"}, func([]Event) error { fired++; return nil })

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic in the batch function should propagate to the caller")
			}
		}()
		d.Batch(func() {
			inst.Set("a", 1.0)
			panic("boom")
		})
	}()

	// The abandoned batch's events are dropped, not delivered mid-unwind.
	if fired != 0 {
		t.Errorf("abandoned batch dispatched its events, fired %d", fired)
	}

	// The dispatcher must come back clean: a fresh top-level set dispatches.
	if err := inst.Set("a", 2.0); err != nil {
		t.Fatalf("Set after abandoned batch: %v", err)
	}
	if fired != 1 {
		t.Errorf("watcher did not fire after an abandoned batch, fired %d", fired)
	}
}

func TestUncomparableIdentity(t *testing.T) {
	d, inst := widgetless(t)

	hazards := 0
	d2 := NewDispatcher(WithHazardFunc(func(Hazard) { hazards++ }))
	inst2, _ := inst.Class().New(d2, nil)

	// A func key is uncomparable. Registering twice with such keys must not
	// panic; it just never matches, so no hazard is reported.
	key := func() {}
	if _, err := NewComputed(d2, inst2, []string{"a"}, func() (float64, error) {
		return 0, nil
	}, WithIdentity(key)); err != nil {
		t.Fatalf("NewComputed: %v", err)
	}
	if _, err := d2.Watch(inst2, []string{"a"}, func([]Event) error { return nil }, WithIdentity(key)); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if hazards != 0 {
		t.Errorf("uncomparable identities should not match, got %d hazards", hazards)
	}
	_ = d
}

func TestClosedDispatcher(t *testing.T) {
	d, inst := widgetless(t)
	d.Close()

	if _, err := d.Watch(inst, []string{"a"}, func([]Event) error { return nil }); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
	if err := d.Batch(func() {}); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
}
