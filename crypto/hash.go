package crypto

import (
	"crypto/sha256"
	"hash"

	"golang.org/x/crypto/sha3"
)

// HashAlgorithm is the identifier of a hash function.
type HashAlgorithm int

const (
	// Sha256 is SHA-256.
	Sha256 HashAlgorithm = iota
	// Sha3_256 is SHA3-256.
	Sha3_256
)

// hashFactory is a hash factory that is using SHA algorithms.
//
// - implements crypto.HashFactory
type hashFactory struct {
	hashType HashAlgorithm
}

// NewHashFactory returns a new instance of the factory.
func NewHashFactory(a HashAlgorithm) HashFactory {
	return hashFactory{a}
}

// New implements crypto.HashFactory. It returns a new Hash instance.
func (f hashFactory) New() hash.Hash {
	switch f.hashType {
	case Sha256:
		return sha256.New()
	case Sha3_256:
		return sha3.New256()
	default:
		panic("unknown hash type")
	}
}
