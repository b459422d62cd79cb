package hamt

import (
	"hash/maphash"
	"iter"
	"reflect"
)

// Map is an immutable, persistent associative map keyed by any value
// that H knows how to hash and compare. Every operation that changes
// contents returns a new Map; the receiver is left exactly as it was,
// down to pointer identity of every untouched subtree.
type Map[K, V any, H Hasher[K]] struct {
	root  *bitmapIndexedNode[K, V, H]
	count int
	seed  maphash.Seed
}

// New returns an empty map. The hash seed is fixed once here and
// carried forward unchanged by every Map derived from it, so that a
// key's hash never disagrees with where it was first placed.
func New[K, V any, H Hasher[K]]() *Map[K, V, H] {
	return &Map[K, V, H]{seed: maphash.MakeSeed()}
}

func (m *Map[K, V, H]) context() opCtx[K, H] {
	var h H
	return opCtx[K, H]{hasher: h, seed: m.seed}
}

// Len returns the number of entries in the map.
func (m *Map[K, V, H]) Len() int { return m.count }

// IsEmpty reports whether the map has no entries.
func (m *Map[K, V, H]) IsEmpty() bool { return m.count == 0 }

// Get returns the value stored for key, and whether it was present.
func (m *Map[K, V, H]) Get(key K) (V, bool) {
	if m.root == nil {
		var zero V
		return zero, false
	}
	ctx := m.context()
	return m.root.get(ctx, key, ctx.hash(key), 0)
}

// GetOr returns the value stored for key, or dflt if absent.
func (m *Map[K, V, H]) GetOr(key K, dflt V) V {
	if v, ok := m.Get(key); ok {
		return v
	}
	return dflt
}

// Contains reports whether key is present in the map.
func (m *Map[K, V, H]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Set returns a new Map with key associated with value, along with
// the value it replaced (or the zero value) and whether a value was
// replaced. m is left unchanged.
func (m *Map[K, V, H]) Set(key K, value V) (*Map[K, V, H], V, bool) {
	ctx := m.context()
	var eff effect[V]
	var newRoot *bitmapIndexedNode[K, V, H]
	if m.root == nil {
		newRoot = newSinglePayloadCarrier[K, V, H](key, value, ctx.hash(key))
		eff.setModified()
	} else {
		newRoot = m.root.update(ctx, false, key, value, ctx.hash(key), 0, &eff)
	}
	newCount := m.count
	if !eff.hasReplaced {
		newCount++
	}
	return &Map[K, V, H]{root: newRoot, count: newCount, seed: m.seed}, eff.replaced, eff.hasReplaced
}

// Delete returns a new Map with key removed, along with the value it
// held (or the zero value) and whether it was present. m is left
// unchanged.
func (m *Map[K, V, H]) Delete(key K) (*Map[K, V, H], V, bool) {
	if m.root == nil {
		var zero V
		return m, zero, false
	}
	ctx := m.context()
	var eff effect[V]
	newRoot := m.root.remove(ctx, false, key, ctx.hash(key), 0, &eff)
	if !eff.modified {
		return m, eff.replaced, false
	}
	return &Map[K, V, H]{root: newRoot, count: m.count - 1, seed: m.seed}, eff.replaced, true
}

// NewFromSeq builds a Map from a sequence of key/value pairs in one
// pass, returning a *DuplicateKeyError if any key repeats. The
// intermediate trie is never exposed to the caller, so every node it
// builds is provably exclusive to this call; unlike Set, which must
// always assume its receiver's root might still be examined after it
// returns, this loop mutates its own growing root in place throughout.
func NewFromSeq[K, V any, H Hasher[K]](seq iter.Seq2[K, V]) (*Map[K, V, H], error) {
	m := New[K, V, H]()
	ctx := m.context()
	var root *bitmapIndexedNode[K, V, H]
	count := 0
	for key, value := range seq {
		var eff effect[V]
		if root == nil {
			root = newSinglePayloadCarrier[K, V, H](key, value, ctx.hash(key))
		} else {
			root = root.update(ctx, true, key, value, ctx.hash(key), 0, &eff)
		}
		if eff.hasReplaced {
			return nil, &DuplicateKeyError[K]{Key: key}
		}
		count++
	}
	return &Map[K, V, H]{root: root, count: count, seed: m.seed}, nil
}

// All returns an iterator over every key/value pair, depth-first
// pre-order. The order is an artifact of the trie's shape, not sorted
// by key.
func (m *Map[K, V, H]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := newIterator(m.root, false)
		for it.Next() {
			if !yield(it.Key(), it.Value()) {
				return
			}
		}
	}
}

// Backward is like All but yields the pairs in exactly the opposite
// order.
func (m *Map[K, V, H]) Backward() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		it := newIterator(m.root, true)
		for it.Next() {
			if !yield(it.Key(), it.Value()) {
				return
			}
		}
	}
}

// Keys returns an iterator over every key.
func (m *Map[K, V, H]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range m.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns an iterator over every value.
func (m *Map[K, V, H]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// Equal reports whether m and other hold the same keys mapped to
// equal values. Values are compared with reflect.DeepEqual since V
// carries no comparable constraint.
func (m *Map[K, V, H]) Equal(other *Map[K, V, H]) bool {
	if m.count != other.count {
		return false
	}
	for k, v := range m.All() {
		ov, ok := other.Get(k)
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}
