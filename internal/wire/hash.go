package wire

import (
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// RangeHasher accumulates the canonical encoding of every row in a range, in
// primary-key order, and produces a single digest for the range. Two ends
// computing a hash over the same logical rows must produce identical bytes,
// so the encoding is independent of column NULL-ness quoting or driver
// formatting: each column is length-prefixed raw bytes, NULL is a distinct
// zero-length marker from an empty string.
type RangeHasher struct {
	h hash.Hash
}

func NewRangeHasher() *RangeHasher {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key, and we pass nil.
		panic(err)
	}
	return &RangeHasher{h: h}
}

// WriteRow folds one row's columns into the running hash. cols[i] == nil
// denotes SQL NULL; a non-nil empty slice denotes an empty string/blob.
func (h *RangeHasher) WriteRow(cols [][]byte) {
	var lenBuf [8]byte
	for _, c := range cols {
		if c == nil {
			binary.BigEndian.PutUint64(lenBuf[:], ^uint64(0))
			h.h.Write(lenBuf[:])
			continue
		}
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(c)))
		h.h.Write(lenBuf[:])
		h.h.Write(c)
	}
	// Row terminator so that a row with a trailing column equal to the next
	// row's leading bytes can't be confused for a different row split.
	binary.BigEndian.PutUint64(lenBuf[:], ^uint64(0)-1)
	h.h.Write(lenBuf[:])
}

// Sum returns the digest of every row written so far.
func (h *RangeHasher) Sum() []byte {
	return h.h.Sum(nil)
}

// EmptyRangeHash is the hash of zero rows, used as the hash of the bootstrap
// (prev_key, last_key] = ((), ()) range on an empty table.
func EmptyRangeHash() []byte {
	return NewRangeHasher().Sum()
}
