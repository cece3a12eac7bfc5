// Package param provides the reactive attribute core: typed, bounded,
// documented attributes declared on composable classes, per-instance value
// stores, and a dependency graph that propagates changes to watchers in
// deterministic, single-fire batches.
//
// # Core Types
//
// Class holds the resolved attribute specs of a class hierarchy. Specs
// merge field-by-field through the hierarchy at definition time and are
// immutable afterwards:
//
//	curve := param.MustClass("Curve", nil,
//	    param.Attr("amplitude", param.Number, param.Default(5.0), param.Bounded(0, 10)),
//	    param.Attr("label", param.String, param.Default("sine")),
//	)
//	loud := param.MustClass("LoudCurve", curve,
//	    param.Override("amplitude", param.Default(9.0)),
//	)
//
// Instance owns a value per resolved attribute. Writes validate against
// the spec and announce one change event to the dispatcher:
//
//	inst, _ := curve.New(d, nil)
//	err := inst.Set("amplitude", 15.0) // ValidationError, value unchanged
//
// # Batching
//
// Writes grouped in a Batch deliver once per watcher, no matter how many
// of its sources changed:
//
//	d.Batch(func() {
//	    inst.Set("amplitude", 2.0)
//	    inst.Set("label", "cosine")
//	})
//
// Watchers fire in registration order; a watcher triggered as a side
// effect of an earlier one joins the in-flight queue of the same batch.
// Computed values are the pull-based counterpart: they go stale on change
// and recompute on the next read.
//
// # Concurrency
//
// One dispatcher plus its instances form one logical session and are
// confined to that session's goroutine. Classes are immutable after
// definition and safe to share process-wide.
package param
