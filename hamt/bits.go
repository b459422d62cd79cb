package hamt

import "math/bits"

// bitChunk is the number of hash bits consumed per trie level.
const bitChunk = 5

// fanout is the number of slots a single bitmap can address (2^bitChunk).
const fanout = 1 << bitChunk

// hashBits is the width of the hash values this package operates on.
// At bitChunk=5 this gives a maximum depth of ceil(64/5) = 13 levels,
// the last of which only has 4 bits of hash left to consume.
const hashBits = 64

// maxDepth is the number of trie levels before a hash is fully consumed.
const maxDepth = (hashBits + bitChunk - 1) / bitChunk

// maskFrom extracts the fanout-wide slot index from hash at the given
// shift (a multiple of bitChunk).
func maskFrom(hash uint64, shift uint) uint32 {
	return uint32(hash>>shift) & (fanout - 1)
}

// bitposFrom turns a slot index into the single-bit position used in
// a node's bitmaps.
func bitposFrom(mask uint32) uint32 {
	return 1 << mask
}

// indexFrom returns the position within a node's compacted slice that
// bitpos occupies in bitmap, counting only the bits set before it.
func indexFrom(bitmap, bitpos uint32) int {
	return bits.OnesCount32(bitmap & (bitpos - 1))
}

// popcount32 counts the set bits of x.
func popcount32(x uint32) int {
	return bits.OnesCount32(x)
}
