package querysync

import (
	"testing"

	"github.com/param-go/param/pkg/param"
)

func viewClass(t *testing.T) *param.Class {
	t.Helper()
	return param.MustClass("View", nil,
		param.Attr("integer", param.Integer, param.Default(1), param.BoundedBy(param.AtLeast(0))),
		param.Attr("title", param.String, param.Default("view")),
		param.Attr("mode", param.Selector, param.Choices("fast", "slow"), param.Default("fast")),
	)
}

func TestSyncWritesInitialState(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	s := NewSyncer(loc)
	defer s.Close()

	if err := s.Sync(inst, map[string]string{"integer": "int", "title": "t"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if v, _ := loc.Read("int"); v != "1" {
		t.Errorf("instance value not serialized out, got %q", v)
	}
	if v, _ := loc.Read("t"); v != "view" {
		t.Errorf("expected title serialized, got %q", v)
	}
}

func TestSyncHydratesFromExternal(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	loc.Write("int", "9")
	s := NewSyncer(loc)
	defer s.Close()

	if err := s.Sync(inst, map[string]string{"integer": "int"}); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := inst.MustGet("integer"); got != 9 {
		t.Errorf("decodable external value should win at sync time, got %v", got)
	}
}

func TestExternalSetFlowsIn(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	s := NewSyncer(loc)
	defer s.Close()
	s.Sync(inst, map[string]string{"integer": "int"})

	loc.Apply("int", "7")
	if got := inst.MustGet("integer"); got != 7 {
		t.Errorf("external set did not reach the instance, got %v", got)
	}
}

func TestMalformedExternalValueIgnored(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	s := NewSyncer(loc)
	defer s.Close()
	s.Sync(inst, map[string]string{"integer": "int"})

	loc.Apply("int", "abc")
	if got := inst.MustGet("integer"); got != 1 {
		t.Errorf("malformed external value changed the instance, got %v", got)
	}
	// The external representation is left as the viewer wrote it.
	if v, _ := loc.Read("int"); v != "abc" {
		t.Errorf("external value was overwritten to %q", v)
	}
}

func TestInvalidExternalValueRejected(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	s := NewSyncer(loc)
	defer s.Close()
	s.Sync(inst, map[string]string{"integer": "int"})

	// Decodes fine, fails validation (bounds are [0, +inf)).
	loc.Apply("int", "-3")
	if got := inst.MustGet("integer"); got != 1 {
		t.Errorf("invalid external value changed the instance, got %v", got)
	}
	if v, _ := loc.Read("int"); v != "-3" {
		t.Errorf("external value was overwritten to %q", v)
	}
}

func TestInstanceChangesFlowOut(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	s := NewSyncer(loc)
	defer s.Close()
	s.Sync(inst, map[string]string{"integer": "int", "mode": "m"})

	inst.Set("integer", 4)
	inst.Set("mode", "slow")
	if v, _ := loc.Read("int"); v != "4" {
		t.Errorf("instance change not serialized, got %q", v)
	}
	if v, _ := loc.Read("m"); v != "slow" {
		t.Errorf("selector change not serialized, got %q", v)
	}
}

func TestResyncReplacesEntry(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	s := NewSyncer(loc)
	defer s.Close()

	s.Sync(inst, map[string]string{"integer": "old"})
	s.Sync(inst, map[string]string{"integer": "new"})

	inst.Set("integer", 6)
	if v, _ := loc.Read("new"); v != "6" {
		t.Errorf("replacement entry inactive, got %q", v)
	}
	if v, _ := loc.Read("old"); v == "6" {
		t.Error("replaced entry still writing to its old key")
	}

	// The replaced entry's external subscription is also gone.
	loc.Apply("old", "8")
	if got := inst.MustGet("integer"); got != 6 {
		t.Errorf("replaced entry still pulling external changes, got %v", got)
	}
}

func TestUnsyncStopsBothDirections(t *testing.T) {
	d := param.NewDispatcher()
	inst, _ := viewClass(t).New(d, nil)
	loc := NewValuesLocation(nil)
	s := NewSyncer(loc)
	defer s.Close()
	s.Sync(inst, map[string]string{"integer": "int"})
	s.Unsync(inst)

	inst.Set("integer", 5)
	if v, _ := loc.Read("int"); v != "1" {
		t.Errorf("unsynced entry still writing out, got %q", v)
	}
	loc.Apply("int", "7")
	if got := inst.MustGet("integer"); got != 5 {
		t.Errorf("unsynced entry still pulling in, got %v", got)
	}
}

func TestSyncRequiresCodec(t *testing.T) {
	c := param.MustClass("WithAction", nil,
		param.Attr("run", param.Action),
	)
	d := param.NewDispatcher()
	inst, _ := c.New(d, nil)
	s := NewSyncer(NewValuesLocation(nil))
	defer s.Close()

	if err := s.Sync(inst, map[string]string{"run": "r"}); err == nil {
		t.Error("action kind without an explicit codec should fail")
	}
}
