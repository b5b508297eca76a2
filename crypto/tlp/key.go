package tlp

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// squaringsPerCheck is the number of squarings between two checks of the
// context while solving a puzzle.
const squaringsPerCheck = 1 << 14

// ErrEmptyKeySet is returned when aggregating an empty set of partial keys.
var ErrEmptyKeySet = xerrors.New("empty set of partial keys")

// DerivationError is returned when the decryption key cannot be derived from
// an aggregated key.
type DerivationError struct {
	Reason string
}

// Error implements error.
func (e *DerivationError) Error() string {
	return fmt.Sprintf("derivation failed: %s", e.Reason)
}

// PartialKey is the contribution of one node to the key of a round.
type PartialKey struct {
	U *big.Int
	V *big.Int
	Y kyber.Point
}

// Secret is the randomness of a partial key. It is only needed to prove the
// partial key and must be forgotten afterwards.
type Secret struct {
	R *big.Int
	S *big.Int
}

// GeneratePartialKey creates a fresh partial key and its secret.
func GeneratePartialKey(params *Params, rnd io.Reader) (PartialKey, Secret, error) {
	r, err := rand.Int(rnd, params.nsq)
	if err != nil {
		return PartialKey{}, Secret{}, xerrors.Errorf("failed to sample r: %v", err)
	}

	s, err := rand.Int(rnd, order)
	if err != nil {
		return PartialKey{}, Secret{}, xerrors.Errorf("failed to sample s: %v", err)
	}

	key := PartialKey{
		U: new(big.Int).Exp(params.G, r, params.N),
		V: params.encode(r, s),
		Y: suite.Point().Mul(scalarOf(s), nil),
	}

	return key, Secret{R: r, S: s}, nil
}

// encode returns HN^r (1+N)^s mod N^2.
func (p *Params) encode(r, s *big.Int) *big.Int {
	v := new(big.Int).Exp(p.hn, r, p.nsq)
	v.Mul(v, p.powN1(s))

	return v.Mod(v, p.nsq)
}

// AggregatedKey is the combination of the partial keys of a round. Y is the
// public encryption key.
type AggregatedKey struct {
	U *big.Int
	V *big.Int
	Y kyber.Point
}

// EncryptionKey returns the public key of the round.
func (k AggregatedKey) EncryptionKey() kyber.Point {
	return k.Y
}

// AggregateKeys combines the partial keys. The combination is commutative and
// associative so the result does not depend on the order of the keys.
func AggregateKeys(params *Params, keys []PartialKey) (AggregatedKey, error) {
	if len(keys) == 0 {
		return AggregatedKey{}, ErrEmptyKeySet
	}

	agg := AggregatedKey{
		U: big.NewInt(1),
		V: big.NewInt(1),
		Y: suite.Point().Null(),
	}

	for i, key := range keys {
		if key.U == nil || key.V == nil || key.Y == nil {
			return AggregatedKey{}, xerrors.Errorf("partial key %d is incomplete", i)
		}

		agg.U.Mul(agg.U, key.U).Mod(agg.U, params.N)
		agg.V.Mul(agg.V, key.V).Mod(agg.V, params.nsq)
		agg.Y = suite.Point().Add(agg.Y, key.Y)
	}

	return agg, nil
}

// DecryptionKey is the private key matching the encryption key of a round.
type DecryptionKey struct {
	Scalar kyber.Scalar
}

// PublicKey returns the encryption key matching the decryption key.
func (k DecryptionKey) PublicKey() kyber.Point {
	return suite.Point().Mul(k.Scalar, nil)
}

// SolvePuzzle performs the sequential squarings to open the aggregated
// puzzle, and returns the decryption key. The computation stops early if the
// context is done.
func SolvePuzzle(ctx context.Context, params *Params, agg AggregatedKey) (DecryptionKey, error) {
	if agg.U == nil || agg.V == nil || agg.Y == nil {
		return DecryptionKey{}, &DerivationError{Reason: "incomplete aggregated key"}
	}

	w := new(big.Int).Set(agg.U)

	for i := uint64(0); i < params.T; i++ {
		if i%squaringsPerCheck == 0 && ctx.Err() != nil {
			return DecryptionKey{}, xerrors.Errorf("interrupted after %d squarings: %v",
				i, ctx.Err())
		}

		w.Mul(w, w).Mod(w, params.N)
	}

	// w = h^r mod N, and w^N = h^(rN) mod N^2.
	mask := new(big.Int).Exp(w, params.N, params.nsq)

	inv := new(big.Int).ModInverse(mask, params.nsq)
	if inv == nil {
		return DecryptionKey{}, &DerivationError{Reason: "mask is not invertible"}
	}

	m := new(big.Int).Mul(agg.V, inv)
	m.Mod(m, params.nsq)
	m.Sub(m, bigOne)

	s, rem := new(big.Int).QuoRem(m, params.N, new(big.Int))
	if rem.Sign() != 0 {
		return DecryptionKey{}, &DerivationError{Reason: "malformed puzzle"}
	}

	key := DecryptionKey{Scalar: scalarOf(s)}

	if !key.PublicKey().Equal(agg.Y) {
		return DecryptionKey{}, &DerivationError{Reason: "key does not match the encryption key"}
	}

	return key, nil
}
