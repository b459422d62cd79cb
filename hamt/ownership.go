package hamt

import "github.com/rogpeppe/phamt/gatomic"

// Every node and leaf carries a reference count that starts at one,
// at the moment of its own creation, and is incremented each time the
// node is installed under a second parent slot rather than freshly
// allocated for that slot — exactly the moment it becomes shared.
// The count is never decremented: once a node is known to be shared
// it stays known-shared for the rest of its life. That only ever
// pushes the ownership probe towards doing an unnecessary copy, never
// towards a false claim of exclusivity, which is the only direction
// that matters for correctness (see DESIGN.md).
//
// A single top-level Set or Delete call can never honestly claim
// exclusive ownership of the root it was given, because the Map value
// the caller is holding still points at that same root and must keep
// answering queries against its old contents. Exclusive ownership is
// only claimed by the private bulk builder behind NewFromSeq, which
// never lets an intermediate root escape to a caller. The exclusive
// flag threaded through update and remove captures exactly that: it
// starts false for ordinary Set and Delete (so they copy every node
// they change), true for the bulk builder, and at every level is conjoined
// with a fresh read of the specific child's own reference count before
// recursing one level further.

// refsHolder is implemented by both node and leaf types so the shared
// ownership helpers can operate on either without duplicating them.
type refsHolder interface {
	refsAddr() *int32
}

func isExclusive(h refsHolder) bool {
	return gatomic.LoadInt32(h.refsAddr()) == 1
}

func markShared(h refsHolder) {
	gatomic.AddInt32(h.refsAddr(), 1)
}

// markSharedChild increments the reference count of a child slot value
// (either *bitmapIndexedNode or *hashCollisionLeaf) that a clone is
// about to retain by reference alongside its existing owner.
func markSharedChild(child any) {
	switch c := child.(type) {
	case refsHolder:
		markShared(c)
	default:
		invariant(false, "child slot holds neither a node nor a leaf")
	}
}
