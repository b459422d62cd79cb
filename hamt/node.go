package hamt

import "slices"

// kv is one key/value payload cell.
type kv[K, V any] struct {
	key   K
	value V
}

// bitmapIndexedNode is one level of the trie. bitmap1 and bitmap2
// together partition the 32 possible slots at this level into three
// disjoint groups: a slot set only in bitmap1 holds an inline payload
// (dataMap), a slot set only in bitmap2 holds a child node (nodeMap),
// and a slot set in both holds a hash-collision leaf (collMap).
//
// payloads holds the dataMap cells in ascending slot-bit order.
// children holds every nodeMap cell (ascending slot-bit order),
// followed by every collMap cell (ascending slot-bit order) — the two
// groups are stored separately so that a node's own layout never has
// to interleave two different concrete types; orderedChildren merges
// them back into true slot order for the iterator.
type bitmapIndexedNode[K, V any, H Hasher[K]] struct {
	refs     int32
	bitmap1  uint32
	bitmap2  uint32
	payloads []kv[K, V]
	children []any
}

func (n *bitmapIndexedNode[K, V, H]) refsAddr() *int32 { return &n.refs }

func (n *bitmapIndexedNode[K, V, H]) dataMap() uint32 { return n.bitmap1 ^ n.collMap() }
func (n *bitmapIndexedNode[K, V, H]) collMap() uint32 { return n.bitmap1 & n.bitmap2 }
func (n *bitmapIndexedNode[K, V, H]) nodeMap() uint32 { return n.bitmap2 ^ n.collMap() }

func (n *bitmapIndexedNode[K, V, H]) dataIndex(bitpos uint32) int {
	return indexFrom(n.dataMap(), bitpos)
}

func (n *bitmapIndexedNode[K, V, H]) nodeIndex(bitpos uint32) int {
	return indexFrom(n.nodeMap(), bitpos)
}

func (n *bitmapIndexedNode[K, V, H]) collIndex(bitpos uint32) int {
	return popcount32(n.nodeMap()) + indexFrom(n.collMap(), bitpos)
}

func (n *bitmapIndexedNode[K, V, H]) arities() (payload, node, coll int) {
	return popcount32(n.dataMap()), popcount32(n.nodeMap()), popcount32(n.collMap())
}

func (n *bitmapIndexedNode[K, V, H]) totalArity() int {
	return popcount32(n.bitmap1 | n.bitmap2)
}

// isSingletonCarrier reports whether n is one of the two shapes
// remove()'s escalate/inline compaction may unwrap into an ancestor: a
// single inline payload, or a single collision-leaf child, with
// nothing else of its own. Both are shift-independent (a payload or a
// collision leaf recomputes its own bitpos from its own full hash at
// whatever shift a future caller supplies), so they may migrate up any
// number of levels unchanged.
//
// A node with nodeArity 1 and nothing else (a pure routing node
// produced when a sibling payload or collision child is removed out
// from under it) has totalArity 1 too, but is not a carrier: its one
// child is itself a bitmap-indexed subtree whose internal structure
// was built assuming exactly this many shift levels were already
// consumed to reach it, and its entry count can be arbitrarily large.
// Promoting it past its parent would leave it one shift level
// shallower than its children expect.
func (n *bitmapIndexedNode[K, V, H]) isSingletonCarrier() bool {
	payloadArity, nodeArity, collArity := n.arities()
	if nodeArity != 0 {
		return false
	}
	return (payloadArity == 1 && collArity == 0) || (payloadArity == 0 && collArity == 1)
}

// orderedChildren returns every child (node or leaf) in true ascending
// slot-bit order, mixing the nodeMap and collMap groups. Only the
// iterator needs this; normal get/update/remove address children
// directly through nodeIndex/collIndex instead.
func (n *bitmapIndexedNode[K, V, H]) orderedChildren() []any {
	nm, cm := n.nodeMap(), n.collMap()
	total := popcount32(nm) + popcount32(cm)
	if total == 0 {
		return nil
	}
	out := make([]any, 0, total)
	collBase := popcount32(nm)
	ni, ci := 0, 0
	for mask := uint32(0); mask < fanout; mask++ {
		bitpos := bitposFrom(mask)
		switch {
		case nm&bitpos != 0:
			out = append(out, n.children[ni])
			ni++
		case cm&bitpos != 0:
			out = append(out, n.children[collBase+ci])
			ci++
		}
	}
	return out
}

// mutableCopy returns n itself when exclusive is true (the caller has
// already proven no other Map value can reach n), otherwise a clone
// with its own payload and children slices. Cloning conservatively
// marks every retained child as shared, including whichever one the
// caller is about to immediately overwrite — harmless, since a false
// "shared" reading only ever costs an extra copy later, never
// correctness (see ownership.go).
func (n *bitmapIndexedNode[K, V, H]) mutableCopy(exclusive bool) *bitmapIndexedNode[K, V, H] {
	if exclusive {
		return n
	}
	clone := &bitmapIndexedNode[K, V, H]{
		refs:     1,
		bitmap1:  n.bitmap1,
		bitmap2:  n.bitmap2,
		payloads: append([]kv[K, V](nil), n.payloads...),
		children: append([]any(nil), n.children...),
	}
	for _, c := range clone.children {
		markSharedChild(c)
	}
	return clone
}

func (n *bitmapIndexedNode[K, V, H]) get(ctx opCtx[K, H], key K, hash uint64, shift uint) (V, bool) {
	mask := maskFrom(hash, shift)
	bitpos := bitposFrom(mask)
	switch {
	case n.dataMap()&bitpos != 0:
		e := n.payloads[n.dataIndex(bitpos)]
		if ctx.equal(e.key, key) {
			return e.value, true
		}
	case n.nodeMap()&bitpos != 0:
		child := n.children[n.nodeIndex(bitpos)].(*bitmapIndexedNode[K, V, H])
		return child.get(ctx, key, hash, shift+bitChunk)
	case n.collMap()&bitpos != 0:
		leaf := n.children[n.collIndex(bitpos)].(*hashCollisionLeaf[K, V, H])
		if leaf.hash == hash {
			return leafGet(leaf, ctx, key)
		}
	}
	var zero V
	return zero, false
}

func (n *bitmapIndexedNode[K, V, H]) update(ctx opCtx[K, H], exclusive bool, key K, value V, hash uint64, shift uint, eff *effect[V]) *bitmapIndexedNode[K, V, H] {
	mask := maskFrom(hash, shift)
	bitpos := bitposFrom(mask)

	switch {
	case n.dataMap()&bitpos != 0:
		idx := n.dataIndex(bitpos)
		existing := n.payloads[idx]
		if ctx.equal(existing.key, key) {
			eff.setReplaced(existing.value)
			out := n.mutableCopy(exclusive)
			out.payloads[idx].value = value
			return out
		}
		eff.setModified()
		existingHash := ctx.hash(existing.key)
		if existingHash == hash {
			leaf := newHashCollisionLeaf[K, V, H](hash, kv[K, V]{existing.key, existing.value}, kv[K, V]{key, value})
			return n.replaceDataWithColl(exclusive, bitpos, idx, leaf)
		}
		child := buildChain[K, V, H](shift+bitChunk, existing.key, existing.value, existingHash, key, value, hash)
		return n.replaceDataWithNode(exclusive, bitpos, idx, child)

	case n.nodeMap()&bitpos != 0:
		idx := n.nodeIndex(bitpos)
		child := n.children[idx].(*bitmapIndexedNode[K, V, H])
		childExclusive := exclusive && isExclusive(child)
		newChild := child.update(ctx, childExclusive, key, value, hash, shift+bitChunk, eff)
		if !eff.modified {
			return n
		}
		out := n.mutableCopy(exclusive)
		out.children[idx] = newChild
		return out

	case n.collMap()&bitpos != 0:
		idx := n.collIndex(bitpos)
		leaf := n.children[idx].(*hashCollisionLeaf[K, V, H])
		if leaf.hash == hash {
			leafExclusive := exclusive && isExclusive(leaf)
			newLeaf := leafUpdate(leaf, ctx, leafExclusive, key, value, eff)
			if !eff.modified {
				return n
			}
			out := n.mutableCopy(exclusive)
			out.children[idx] = newLeaf
			return out
		}
		eff.setModified()
		child := buildChainLeaf[K, V, H](shift+bitChunk, leaf, key, value, hash)
		return n.replaceCollWithNode(exclusive, bitpos, idx, child)

	default:
		eff.setModified()
		return n.insertPayload(exclusive, bitpos, key, value)
	}
}

func (n *bitmapIndexedNode[K, V, H]) remove(ctx opCtx[K, H], exclusive bool, key K, hash uint64, shift uint, eff *effect[V]) *bitmapIndexedNode[K, V, H] {
	mask := maskFrom(hash, shift)
	bitpos := bitposFrom(mask)

	switch {
	case n.dataMap()&bitpos != 0:
		idx := n.dataIndex(bitpos)
		existing := n.payloads[idx]
		if !ctx.equal(existing.key, key) {
			return n
		}
		eff.setReplaced(existing.value)
		if n.totalArity() == 1 {
			invariant(shift == 0, "non-root node left with no entries after removal")
			return nil
		}
		payloadArity, nodeArity, collArity := n.arities()
		switch {
		case payloadArity == 2 && nodeArity == 0 && collArity == 0:
			other := n.payloads[1-idx]
			return newSinglePayloadCarrier[K, V, H](other.key, other.value, ctx.hash(other.key))
		case payloadArity == 1 && nodeArity == 0 && collArity == 1:
			leaf := n.children[0].(*hashCollisionLeaf[K, V, H])
			return newSingleCollisionCarrier[K, V, H](leaf)
		default:
			out := n.mutableCopy(exclusive)
			out.payloads = slices.Delete(out.payloads, idx, idx+1)
			out.bitmap1 &^= bitpos
			return out
		}

	case n.nodeMap()&bitpos != 0:
		idx := n.nodeIndex(bitpos)
		child := n.children[idx].(*bitmapIndexedNode[K, V, H])
		childExclusive := exclusive && isExclusive(child)
		parentWasOnlyChild := n.totalArity() == 1
		newChild := child.remove(ctx, childExclusive, key, hash, shift+bitChunk, eff)
		if !eff.modified {
			return n
		}
		invariant(newChild != nil, "non-root child vanished entirely")
		if newChild.isSingletonCarrier() {
			if parentWasOnlyChild {
				return newChild
			}
			return n.inlineSingleton(exclusive, bitpos, idx, newChild)
		}
		out := n.mutableCopy(exclusive)
		out.children[idx] = newChild
		return out

	case n.collMap()&bitpos != 0:
		idx := n.collIndex(bitpos)
		leaf := n.children[idx].(*hashCollisionLeaf[K, V, H])
		if leaf.hash != hash {
			return n
		}
		leafExclusive := exclusive && isExclusive(leaf)
		parentWasOnlyChild := n.totalArity() == 1
		newLeaf := leafRemove(leaf, ctx, leafExclusive, key, eff)
		if !eff.modified {
			return n
		}
		if len(newLeaf.entries) == 1 {
			sole := newLeaf.entries[0]
			carrier := newSinglePayloadCarrier[K, V, H](sole.key, sole.value, newLeaf.hash)
			if parentWasOnlyChild {
				return carrier
			}
			return n.inlinePayloadCarrier(exclusive, bitpos, idx, carrier)
		}
		out := n.mutableCopy(exclusive)
		out.children[idx] = newLeaf
		return out

	default:
		return n
	}
}

func (n *bitmapIndexedNode[K, V, H]) insertPayload(exclusive bool, bitpos uint32, key K, value V) *bitmapIndexedNode[K, V, H] {
	idx := n.dataIndex(bitpos)
	out := n.mutableCopy(exclusive)
	out.payloads = slices.Insert(out.payloads, idx, kv[K, V]{key, value})
	out.bitmap1 |= bitpos
	return out
}

func (n *bitmapIndexedNode[K, V, H]) replaceDataWithColl(exclusive bool, bitpos uint32, dataIdx int, leaf *hashCollisionLeaf[K, V, H]) *bitmapIndexedNode[K, V, H] {
	out := n.mutableCopy(exclusive)
	out.payloads = slices.Delete(out.payloads, dataIdx, dataIdx+1)
	out.bitmap1 &^= bitpos
	childIdx := out.collIndex(bitpos)
	out.children = slices.Insert(out.children, childIdx, any(leaf))
	out.bitmap1 |= bitpos
	out.bitmap2 |= bitpos
	return out
}

func (n *bitmapIndexedNode[K, V, H]) replaceDataWithNode(exclusive bool, bitpos uint32, dataIdx int, child *bitmapIndexedNode[K, V, H]) *bitmapIndexedNode[K, V, H] {
	out := n.mutableCopy(exclusive)
	out.payloads = slices.Delete(out.payloads, dataIdx, dataIdx+1)
	out.bitmap1 &^= bitpos
	childIdx := out.nodeIndex(bitpos)
	out.children = slices.Insert(out.children, childIdx, any(child))
	out.bitmap2 |= bitpos
	return out
}

func (n *bitmapIndexedNode[K, V, H]) replaceCollWithNode(exclusive bool, bitpos uint32, collIdx int, child *bitmapIndexedNode[K, V, H]) *bitmapIndexedNode[K, V, H] {
	out := n.mutableCopy(exclusive)
	out.children = slices.Delete(out.children, collIdx, collIdx+1)
	out.bitmap1 &^= bitpos
	childIdx := out.nodeIndex(bitpos)
	out.children = slices.Insert(out.children, childIdx, any(child))
	return out
}

// inlineSingleton unpacks a singleton node residue (its one payload or
// its one collision leaf) directly into n's own dataMap/collMap,
// replacing what used to be a nodeMap slot. This is the node→inline
// or node→collision migration, depending on what the singleton holds.
func (n *bitmapIndexedNode[K, V, H]) inlineSingleton(exclusive bool, bitpos uint32, nodeIdx int, singleton *bitmapIndexedNode[K, V, H]) *bitmapIndexedNode[K, V, H] {
	out := n.mutableCopy(exclusive)
	out.children = slices.Delete(out.children, nodeIdx, nodeIdx+1)
	out.bitmap2 &^= bitpos

	switch {
	case popcount32(singleton.dataMap()) == 1:
		sole := singleton.payloads[0]
		dataIdx := out.dataIndex(bitpos)
		out.payloads = slices.Insert(out.payloads, dataIdx, sole)
		out.bitmap1 |= bitpos
	case popcount32(singleton.collMap()) == 1:
		leaf := singleton.children[0].(*hashCollisionLeaf[K, V, H])
		collIdx := out.collIndex(bitpos)
		out.children = slices.Insert(out.children, collIdx, any(leaf))
		out.bitmap1 |= bitpos
		out.bitmap2 |= bitpos
	default:
		invariant(false, "singleton residue is neither a payload nor a collision carrier")
	}
	return out
}

// inlinePayloadCarrier unpacks a single-payload carrier (built from a
// collision leaf that shrank to one entry) directly into n's dataMap,
// replacing what used to be a collMap slot: the collision→inline
// migration.
func (n *bitmapIndexedNode[K, V, H]) inlinePayloadCarrier(exclusive bool, bitpos uint32, collIdx int, carrier *bitmapIndexedNode[K, V, H]) *bitmapIndexedNode[K, V, H] {
	out := n.mutableCopy(exclusive)
	out.children = slices.Delete(out.children, collIdx, collIdx+1)
	out.bitmap1 &^= bitpos
	out.bitmap2 &^= bitpos
	sole := carrier.payloads[0]
	dataIdx := out.dataIndex(bitpos)
	out.payloads = slices.Insert(out.payloads, dataIdx, sole)
	out.bitmap1 |= bitpos
	return out
}

// newSinglePayloadCarrier builds a fresh node holding exactly one
// payload, positioned with the root-level (shift-zero) mask. Deletion
// compaction always builds residues this way so that, should the
// residue escalate all the way to the root, it is bit-for-bit
// identical to what inserting that one key alone would produce; an
// ancestor that instead inlines the residue recomputes its own mask
// at its own shift and simply discards this one.
func newSinglePayloadCarrier[K, V any, H Hasher[K]](key K, value V, hash uint64) *bitmapIndexedNode[K, V, H] {
	bitpos := bitposFrom(maskFrom(hash, 0))
	return &bitmapIndexedNode[K, V, H]{
		refs:     1,
		bitmap1:  bitpos,
		payloads: []kv[K, V]{{key, value}},
	}
}

// newSingleCollisionCarrier is the collision-leaf counterpart of
// newSinglePayloadCarrier, also positioned at the root-level mask.
func newSingleCollisionCarrier[K, V any, H Hasher[K]](leaf *hashCollisionLeaf[K, V, H]) *bitmapIndexedNode[K, V, H] {
	markShared(leaf)
	bitpos := bitposFrom(maskFrom(leaf.hash, 0))
	return &bitmapIndexedNode[K, V, H]{
		refs:     1,
		bitmap1:  bitpos,
		bitmap2:  bitpos,
		children: []any{leaf},
	}
}

// buildChain grows a chain of single-child nodes from shift downward
// until aHash and bHash diverge, then plants both payloads side by
// side. Termination is guaranteed: aHash != bHash over 64 bits means
// they cannot agree at every one of the (at most 13) chunks.
func buildChain[K, V any, H Hasher[K]](shift uint, aKey K, aVal V, aHash uint64, bKey K, bVal V, bHash uint64) *bitmapIndexedNode[K, V, H] {
	invariant(shift < hashBits, "hash chain exceeded maximum depth without diverging")
	aMask := maskFrom(aHash, shift)
	bMask := maskFrom(bHash, shift)
	if aMask != bMask {
		return newTwoPayloadNode[K, V, H](aKey, aVal, aMask, bKey, bVal, bMask)
	}
	child := buildChain[K, V, H](shift+bitChunk, aKey, aVal, aHash, bKey, bVal, bHash)
	return newSingleChildNode[K, V, H](aMask, child)
}

// buildChainLeaf is buildChain's counterpart for case 6: an existing
// collision leaf (fixed leaf.hash) and one new key whose hash matched
// the leaf's bucket at the level above but diverges somewhere deeper.
func buildChainLeaf[K, V any, H Hasher[K]](shift uint, leaf *hashCollisionLeaf[K, V, H], newKey K, newVal V, newHash uint64) *bitmapIndexedNode[K, V, H] {
	invariant(shift < hashBits, "hash chain exceeded maximum depth without diverging from collision bucket")
	leafMask := maskFrom(leaf.hash, shift)
	newMask := maskFrom(newHash, shift)
	if leafMask != newMask {
		return newLeafPayloadNode[K, V, H](leaf, leafMask, newKey, newVal, newMask)
	}
	child := buildChainLeaf[K, V, H](shift+bitChunk, leaf, newKey, newVal, newHash)
	return newSingleChildNode[K, V, H](leafMask, child)
}

func newTwoPayloadNode[K, V any, H Hasher[K]](aKey K, aVal V, aMask uint32, bKey K, bVal V, bMask uint32) *bitmapIndexedNode[K, V, H] {
	aBitpos, bBitpos := bitposFrom(aMask), bitposFrom(bMask)
	payloads := []kv[K, V]{{aKey, aVal}, {bKey, bVal}}
	if aMask > bMask {
		payloads[0], payloads[1] = payloads[1], payloads[0]
	}
	return &bitmapIndexedNode[K, V, H]{
		refs:     1,
		bitmap1:  aBitpos | bBitpos,
		payloads: payloads,
	}
}

func newLeafPayloadNode[K, V any, H Hasher[K]](leaf *hashCollisionLeaf[K, V, H], leafMask uint32, newKey K, newVal V, newMask uint32) *bitmapIndexedNode[K, V, H] {
	markShared(leaf)
	leafBitpos, newBitpos := bitposFrom(leafMask), bitposFrom(newMask)
	return &bitmapIndexedNode[K, V, H]{
		refs:     1,
		bitmap1:  newBitpos | leafBitpos,
		bitmap2:  leafBitpos,
		payloads: []kv[K, V]{{newKey, newVal}},
		children: []any{leaf},
	}
}

func newSingleChildNode[K, V any, H Hasher[K]](mask uint32, child *bitmapIndexedNode[K, V, H]) *bitmapIndexedNode[K, V, H] {
	return &bitmapIndexedNode[K, V, H]{
		refs:     1,
		bitmap2:  bitposFrom(mask),
		children: []any{child},
	}
}
