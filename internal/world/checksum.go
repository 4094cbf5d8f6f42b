package world

import "hash/fnv"

// Accumulator folds (id, actor) pairs into an order-sensitive digest.
// Both sides fold the same pairs in ascending id order, populations in
// registration order; the order is part of the protocol.
type Accumulator interface {
	Fold(id, actor []byte)
	Sum() uint64
	Reset()
}

type fnvAccumulator struct {
	sum uint64
}

// NewAccumulator returns the default FNV-1a accumulator. Each fold hashes a
// length prefix ahead of the id and actor encodings so adjacent pairs cannot
// alias.
func NewAccumulator() Accumulator {
	acc := &fnvAccumulator{}
	acc.Reset()
	return acc
}

func (a *fnvAccumulator) Fold(id, actor []byte) {
	h := fnv.New64a()
	var scratch [8]byte
	putUint64(scratch[:], a.sum)
	h.Write(scratch[:])
	putUint64(scratch[:], uint64(len(id)))
	h.Write(scratch[:])
	h.Write(id)
	putUint64(scratch[:], uint64(len(actor)))
	h.Write(scratch[:])
	h.Write(actor)
	a.sum = h.Sum64()
}

func (a *fnvAccumulator) Sum() uint64 {
	return a.sum
}

func (a *fnvAccumulator) Reset() {
	// FNV-1a offset basis keeps an empty digest distinct from zero.
	a.sum = 14695981039346656037
}

func putUint64(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[i] = byte(v >> (8 * (7 - i)))
	}
}
