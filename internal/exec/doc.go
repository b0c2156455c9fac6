// Package exec drives op-level execution of a compiled macro plan.
//
// The executor is single-writer: one goroutine steps through a module's
// ops, marking each started in the ledger before it is issued and
// confirmed after its effect is verified realized. The gap between those
// two marks is exactly the in-flight window resume reconciliation repairs
// after a crash.
//
// Control messages (preemption, stop) arrive on a thread-safe queue and
// are honored between ops only. An op in flight always finishes or fails;
// it is never torn mid-effect.
package exec
