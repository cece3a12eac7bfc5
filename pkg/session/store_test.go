package session

import (
	"testing"

	"github.com/param-go/param/pkg/param"
)

// Store tests run against state captured from a live session, the same
// payloads the manager persists on disconnect.

func mixerClass(t *testing.T) *param.Class {
	t.Helper()
	return param.MustClass("Mixer", nil,
		param.Attr("gain", param.Number, param.Default(1.0), param.Bounded(0, 10)),
		param.Attr("channel", param.Selector, param.Choices("left", "right", "both"), param.Default("both")),
		param.Attr("label", param.String, param.Default("")),
	)
}

// mixerSnapshot captures a session with one adjusted Mixer root.
func mixerSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	s := New(t.Name())
	defer s.Close()
	inst, err := s.AddRoot("mixer", mixerClass(t), nil)
	if err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	inst.Set("gain", 7.5)
	inst.Set("channel", "left")
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

// restoreMixer rebuilds a session around a loaded snapshot and returns the
// live root for assertions.
func restoreMixer(t *testing.T, snap *Snapshot) *param.Instance {
	t.Helper()
	s := New(t.Name() + "-restored")
	t.Cleanup(s.Close)
	inst, err := s.AddRoot("mixer", mixerClass(t), nil)
	if err != nil {
		t.Fatalf("AddRoot: %v", err)
	}
	if err := s.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	return inst
}
