package rr

import (
	"bytes"
	"encoding/json"
)

// djb2 computes the classic Bernstein hash (seed 5381, multiplier 33,
// folded with XOR) over a byte sequence, returning an unsigned 32-bit
// value. This is not cryptographic; it only needs to be cheap, stable
// across runs, and collision-resistant enough for a record cache.
func djb2(data []byte) uint32 {
	var h uint32 = 5381
	for _, c := range data {
		h = ((h << 5) + h) ^ uint32(c)
	}
	return h
}

// canonicalHash normalizes v to JSON (which sorts map keys, giving
// object-key-order invariance for free) and lowercases the result before
// hashing, giving case-insensitive string comparison without the caller
// needing to pre-fold every string field by hand.
func canonicalHash(v interface{}) uint32 {
	b, err := json.Marshal(v)
	if err != nil {
		// Every value this package feeds in is built from maps, slices,
		// strings and numbers; Marshal cannot fail for those inputs.
		panic("rr: unmarshalable hash input: " + err.Error())
	}
	return djb2(bytes.ToLower(b))
}
