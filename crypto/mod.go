// Package crypto defines the cryptographic primitives shared by the
// components, alongside their default implementations.
package crypto

import (
	"hash"
	"io"
)

// HashFactory is an interface to produce a hash digest.
type HashFactory interface {
	New() hash.Hash
}

// RandGenerator is the source of randomness of the keys and the proofs.
type RandGenerator interface {
	io.Reader
}
