package tlp

import (
	"crypto/rand"
	"encoding/binary"
	"hash"
	"io"
	"math/big"

	"go.dedis.ch/keygen/crypto"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// challengeBits is the size of the challenge of the proof.
const challengeBits = 128

// challengeHash is the hash function of the Fiat-Shamir transform.
var challengeHash = crypto.NewHashFactory(crypto.Sha3_256)

// slackBits is the statistical distance of the masks of the proof.
const slackBits = 128

// ErrInvalidProof is wrapped by the errors returned when a proof does not
// verify.
var ErrInvalidProof = xerrors.New("invalid proof")

// Proof is a non-interactive proof that a partial key is well-formed, which
// means that the same secret s is hidden in the puzzle and in y. It is bound
// to a label so that it cannot be replayed for another contributor or round.
type Proof struct {
	A1 *big.Int
	A2 *big.Int
	A3 kyber.Point
	Zr *big.Int
	Zs *big.Int
}

// ProvePartialKey creates the proof of the partial key with its secret.
func ProvePartialKey(params *Params, rnd io.Reader, key PartialKey,
	secret Secret, label []byte) (Proof, error) {

	if secret.R == nil || secret.S == nil {
		return Proof{}, xerrors.New("missing secret")
	}

	a, err := rand.Int(rnd, bound(params.nsq.BitLen()))
	if err != nil {
		return Proof{}, xerrors.Errorf("failed to sample mask: %v", err)
	}

	b, err := rand.Int(rnd, bound(order.BitLen()))
	if err != nil {
		return Proof{}, xerrors.Errorf("failed to sample mask: %v", err)
	}

	proof := Proof{
		A1: new(big.Int).Exp(params.G, a, params.N),
		A2: params.encode(a, b),
		A3: suite.Point().Mul(scalarOf(b), nil),
	}

	c := challenge(params, key, proof, label)

	proof.Zr = new(big.Int).Mul(c, secret.R)
	proof.Zr.Add(proof.Zr, a)

	proof.Zs = new(big.Int).Mul(c, secret.S)
	proof.Zs.Add(proof.Zs, b)

	return proof, nil
}

// VerifyPartialKey returns nil if the proof is valid for the partial key and
// the label, otherwise an error wrapping ErrInvalidProof.
func VerifyPartialKey(params *Params, key PartialKey, proof Proof, label []byte) error {
	if key.U == nil || key.V == nil || key.Y == nil {
		return xerrors.Errorf("incomplete partial key: %w", ErrInvalidProof)
	}

	if proof.A1 == nil || proof.A2 == nil || proof.A3 == nil || proof.Zr == nil || proof.Zs == nil {
		return xerrors.Errorf("incomplete proof: %w", ErrInvalidProof)
	}

	if !inRange(key.U, params.N) || !inRange(key.V, params.nsq) ||
		!inRange(proof.A1, params.N) || !inRange(proof.A2, params.nsq) {
		return xerrors.Errorf("value out of range: %w", ErrInvalidProof)
	}

	if proof.Zr.Sign() < 0 || proof.Zs.Sign() < 0 {
		return xerrors.Errorf("negative response: %w", ErrInvalidProof)
	}

	c := challenge(params, key, proof, label)

	// g^zr = a1 u^c mod N
	left := new(big.Int).Exp(params.G, proof.Zr, params.N)
	right := new(big.Int).Exp(key.U, c, params.N)
	right.Mul(right, proof.A1).Mod(right, params.N)

	if left.Cmp(right) != 0 {
		return xerrors.Errorf("mismatch on u: %w", ErrInvalidProof)
	}

	// hn^zr (1+N)^zs = a2 v^c mod N^2
	left = params.encode(proof.Zr, proof.Zs)
	right = new(big.Int).Exp(key.V, c, params.nsq)
	right.Mul(right, proof.A2).Mod(right, params.nsq)

	if left.Cmp(right) != 0 {
		return xerrors.Errorf("mismatch on v: %w", ErrInvalidProof)
	}

	// zs*B = a3 + c*y
	leftPoint := suite.Point().Mul(scalarOf(proof.Zs), nil)
	rightPoint := suite.Point().Mul(scalarOf(c), key.Y)
	rightPoint.Add(rightPoint, proof.A3)

	if !leftPoint.Equal(rightPoint) {
		return xerrors.Errorf("mismatch on y: %w", ErrInvalidProof)
	}

	return nil
}

func challenge(params *Params, key PartialKey, proof Proof, label []byte) *big.Int {
	h := challengeHash.New()

	writeBytes(h, label)
	writeBytes(h, params.N.Bytes())
	writeBytes(h, params.G.Bytes())
	writeBytes(h, params.H.Bytes())
	writeBytes(h, key.U.Bytes())
	writeBytes(h, key.V.Bytes())
	key.Y.MarshalTo(h)
	writeBytes(h, proof.A1.Bytes())
	writeBytes(h, proof.A2.Bytes())
	proof.A3.MarshalTo(h)

	digest := h.Sum(nil)

	return new(big.Int).SetBytes(digest[:challengeBits/8])
}

// writeBytes writes the length of the buffer before it so that two different
// lists cannot produce the same digest.
func writeBytes(h hash.Hash, buf []byte) {
	size := make([]byte, 4)
	binary.BigEndian.PutUint32(size, uint32(len(buf)))

	h.Write(size)
	h.Write(buf)
}

// bound returns 2^(bits + challengeBits + slackBits).
func bound(bits int) *big.Int {
	return new(big.Int).Lsh(bigOne, uint(bits+challengeBits+slackBits))
}

func inRange(x, max *big.Int) bool {
	return x.Sign() > 0 && x.Cmp(max) < 0
}
