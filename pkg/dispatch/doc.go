// Package dispatch runs listener callbacks according to a delivery policy.
//
// A [Mode] carries the three classic flags (Sync, UI, Parallel). Only four
// behaviours are meaningful, so [Mode.Policy] collapses every combination
// into a [Policy]:
//
//	Sync  UI|Parallel  Policy
//	true  false        PolicyInline             run on the caller, in order
//	true  true         PolicyBlockingMarshalled marshal/fan out, caller waits
//	false false        PolicyAsyncInline        caller returns, delivered in order
//	false true         PolicyAsyncMarshalled    caller returns, marshal/fan out
//
// A [Target] that carries a [Loop] is UI-affine: with the UI flag set it is
// executed on that loop's goroutine, otherwise the affinity is ignored.
// Targets without affinity run on the worker pool when Parallel is set.
//
// Asynchronous emissions go through an ordered queue owned by the [Raiser],
// so two emissions raised one after the other are delivered in that order.
package dispatch
