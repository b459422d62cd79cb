// Package hamt implements an immutable, persistent associative map
// over a hash array-mapped trie: a 32-way fan-out bitmap-indexed trie
// with inline payload cells, child-node cells, and hash-collision
// bucket cells addressed by two parallel bitmaps per node.
//
// Every mutating operation returns a new Map and leaves its receiver
// untouched; unmodified subtrees are shared by pointer between the
// old and new versions rather than copied.
package hamt
