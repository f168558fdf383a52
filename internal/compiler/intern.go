package compiler

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// hashWord buckets a 32-bit constant word for the interning pool (see
// SPEC_FULL.md "Domain Stack"): xxhash.Sum64 on the 4-byte encoding,
// with exact-match fallback inside the bucket to keep dedup semantics
// identical to the source's own findInt/findFloat linear scan while
// making the common case O(1).
func hashWord(word uint32) uint64 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], word)
	return xxhash.Sum64(b[:])
}
