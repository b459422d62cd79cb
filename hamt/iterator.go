package hamt

import "github.com/rogpeppe/phamt/ring"

// cursor is one stack frame of an in-progress depth-first walk: a
// node, its children already resolved into a single ascending-order
// slice, and how far we've gotten through its payloads and children.
type cursor[K, V any, H Hasher[K]] struct {
	node       *bitmapIndexedNode[K, V, H]
	kids       []any
	payloadPos int
	childPos   int
}

// Iterator walks every key/value pair of a Map depth first: forward in
// pre-order, or in reverse yielding exactly the forward sequence
// backwards. The maximum depth of any HAMT built from
// a 64-bit hash is fixed (maxDepth), so a ring.Buffer used purely as
// a LIFO stack never needs to grow unboundedly.
type Iterator[K, V any, H Hasher[K]] struct {
	stack   *ring.Buffer[cursor[K, V, H]]
	leaf    *hashCollisionLeaf[K, V, H]
	leafPos int
	reverse bool

	key   K
	value V
	ok    bool
}

func newIterator[K, V any, H Hasher[K]](root *bitmapIndexedNode[K, V, H], reverse bool) *Iterator[K, V, H] {
	it := &Iterator[K, V, H]{
		stack:   ring.NewBuffer[cursor[K, V, H]](maxDepth + 1),
		reverse: reverse,
	}
	if root != nil {
		it.push(root)
	}
	return it
}

func (it *Iterator[K, V, H]) push(n *bitmapIndexedNode[K, V, H]) {
	c := cursor[K, V, H]{node: n, kids: n.orderedChildren()}
	if it.reverse {
		c.payloadPos = len(n.payloads)
		c.childPos = len(c.kids)
	}
	it.stack.PushEnd(c)
}

// Next advances the iterator and reports whether a pair is available.
func (it *Iterator[K, V, H]) Next() bool {
	for {
		if it.leaf != nil {
			if it.nextFromLeaf() {
				return true
			}
			it.leaf = nil
			continue
		}
		if it.stack.Len() == 0 {
			it.ok = false
			return false
		}
		c := it.stack.PeekEnd()

		// Forward order emits a node's payloads before its children;
		// reverse order emits its children (last first) before its
		// payloads (last first), so it is exactly forward order reversed.
		if !it.reverse {
			if p, ok := it.nextPayload(&c); ok {
				it.stack.PopEnd()
				it.stack.PushEnd(c)
				it.key, it.value = p.key, p.value
				it.ok = true
				return true
			}
		}

		child, ok := it.nextChild(&c)
		if !ok {
			if it.reverse {
				if p, ok := it.nextPayload(&c); ok {
					it.stack.PopEnd()
					it.stack.PushEnd(c)
					it.key, it.value = p.key, p.value
					it.ok = true
					return true
				}
			}
			it.stack.PopEnd()
			continue
		}
		it.stack.PopEnd()
		it.stack.PushEnd(c)

		switch ch := child.(type) {
		case *bitmapIndexedNode[K, V, H]:
			it.push(ch)
		case *hashCollisionLeaf[K, V, H]:
			it.leaf = ch
			if it.reverse {
				it.leafPos = len(ch.entries)
			} else {
				it.leafPos = -1
			}
		default:
			invariant(false, "child slot holds neither a node nor a leaf")
		}
	}
}

func (it *Iterator[K, V, H]) nextPayload(c *cursor[K, V, H]) (kv[K, V], bool) {
	n := len(c.node.payloads)
	if it.reverse {
		if c.payloadPos == 0 {
			return kv[K, V]{}, false
		}
		c.payloadPos--
		return c.node.payloads[c.payloadPos], true
	}
	if c.payloadPos >= n {
		return kv[K, V]{}, false
	}
	p := c.node.payloads[c.payloadPos]
	c.payloadPos++
	return p, true
}

func (it *Iterator[K, V, H]) nextChild(c *cursor[K, V, H]) (any, bool) {
	n := len(c.kids)
	if it.reverse {
		if c.childPos == 0 {
			return nil, false
		}
		c.childPos--
		return c.kids[c.childPos], true
	}
	if c.childPos >= n {
		return nil, false
	}
	ch := c.kids[c.childPos]
	c.childPos++
	return ch, true
}

func (it *Iterator[K, V, H]) nextFromLeaf() bool {
	if it.reverse {
		if it.leafPos <= 0 {
			return false
		}
		it.leafPos--
	} else {
		it.leafPos++
		if it.leafPos >= len(it.leaf.entries) {
			return false
		}
	}
	e := it.leaf.entries[it.leafPos]
	it.key, it.value = e.key, e.value
	it.ok = true
	return true
}

// Key returns the key of the pair most recently yielded by Next.
func (it *Iterator[K, V, H]) Key() K { return it.key }

// Value returns the value of the pair most recently yielded by Next.
func (it *Iterator[K, V, H]) Value() V { return it.value }
