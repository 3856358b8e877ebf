package session

// undoFn restores one piece of state mutated during a write. The undo chain
// in Cache.txn is a stack of these; on failure mid-write, Cache.unwind runs
// every undoFn pushed since the failing operation started, in reverse
// order, restoring the instance, its reverse side, and every index touched
// (spec.md §9 "Bidirectional graphs with cycles": "Mutation goes through a
// single set-with-undo primitive that records closures onto a per-operation
// stack").
type undoFn func()

// txn accumulates undo closures for the duration of one top-level
// operation (a single Instance.Set, Entity construction, or collection
// mutation). It is not the database transaction; spec.md's "transaction
// errors" category covers both layers, but this struct is purely in-memory
// bookkeeping for §3's undo-completeness invariant.
type txn struct {
	undo []undoFn
}

func (t *txn) push(fn undoFn) {
	t.undo = append(t.undo, fn)
}

// unwind runs every recorded undo closure in reverse order and clears the
// stack, restoring the pre-operation state (spec.md §8 "Undo completeness").
func (t *txn) unwind() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

// commit discards the undo stack without running it: the operation
// succeeded and its closures are no longer needed.
func (t *txn) commit() {
	t.undo = nil
}
