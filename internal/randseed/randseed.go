// Package randseed derives reproducible child random generators from a
// single root seed, keyed by a stable identifier string rather than the
// process's built-in hash. Two processes given the same root seed and the
// same sequence of identifiers always produce the same child generators,
// independent of the order in which unrelated identifiers are derived.
package randseed

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// Root is a seed from which named child generators are derived.
type Root struct {
	seed uint64
}

// NewRoot builds a Root from a 64-bit seed.
func NewRoot(seed uint64) *Root {
	return &Root{seed: seed}
}

// Child returns a new *rand.Rand for the given identifier. The same
// (root seed, identifier) pair always yields a generator producing the
// same sequence, regardless of how many other identifiers were derived
// before it.
func (r *Root) Child(identifier string) *rand.Rand {
	return rand.New(rand.NewPCG(r.seed, childStream(identifier)))
}

// childStream hashes identifier alone (the root seed enters as
// rand.NewPCG's first argument), producing a stable uint64 stream
// selector for rand.NewPCG's second argument.
func childStream(identifier string) uint64 {
	h := sha256.New()
	h.Write([]byte(identifier))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// Uint64 returns a stable 64-bit hash of s (the first 8 bytes of its
// SHA-256 digest), usable as
// a deterministic seed input anywhere the caller needs one (e.g. to seed
// a Root itself from a run ID).
func Uint64(s string) uint64 {
	h := sha256.New()
	h.Write([]byte(s))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
