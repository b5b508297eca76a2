// Package tlp implements the homomorphic time-lock puzzle used by the key
// generators to produce a decryption key that nobody knows before a given
// delay.
//
// Each node contributes a partial key (u, v, y) where u = g^r mod N,
// v = h^(rN) (1+N)^s mod N^2 and y = s*B on Ed25519. The partial keys are
// combined by multiplication of (u, v) and addition of y, so that the
// aggregated y is the public encryption key of the round. Anyone can solve
// the aggregated puzzle by performing T sequential squarings, which reveals
// the sum of the secrets and therefore the decryption key.
//
// The puzzle follows the linearly homomorphic construction of Malavolta and
// Thyagarajan (https://eprint.iacr.org/2019/635).
package tlp

import (
	"crypto/rand"
	"encoding/json"
	"io"
	"math/big"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/suites"
	"golang.org/x/xerrors"
)

// MinModulusBits is the smallest modulus accepted when generating parameters.
// It must be large enough for the sum of the secrets of the contributors to
// stay below N.
const MinModulusBits = 512

var suite = suites.MustFind("Ed25519")

// order is the order of the Ed25519 prime-order subgroup.
var order, _ = new(big.Int).SetString(
	"7237005577332262213973186563042994240857116359379907606001950938285454250989", 10)

var (
	bigOne = big.NewInt(1)
	bigTwo = big.NewInt(2)
)

// Params are the public parameters of the scheme shared by every node of the
// cluster. They are produced once by a trusted setup that forgets the
// factorization of N.
type Params struct {
	// N is the RSA modulus.
	N *big.Int
	// G is a random generator of the quadratic residues of N.
	G *big.Int
	// H is G^(2^T) mod N.
	H *big.Int
	// T is the number of sequential squarings needed to solve a puzzle.
	T uint64

	nsq *big.Int
	hn  *big.Int
}

// NewParams returns the parameters from their public values.
func NewParams(n, g, h *big.Int, t uint64) (*Params, error) {
	params := &Params{N: n, G: g, H: h, T: t}

	err := params.prepare()
	if err != nil {
		return nil, xerrors.Errorf("invalid parameters: %v", err)
	}

	return params, nil
}

// GenerateParams runs the trusted setup. It creates a modulus of the given
// size and derives H by using the factorization, which is then discarded.
func GenerateParams(rnd io.Reader, bits int, t uint64) (*Params, error) {
	if bits < MinModulusBits {
		return nil, xerrors.Errorf("modulus must be at least %d bits", MinModulusBits)
	}

	var p, q *big.Int
	var err error

	for p == nil || p.Cmp(q) == 0 {
		p, err = rand.Prime(rnd, bits/2)
		if err != nil {
			return nil, xerrors.Errorf("failed to generate prime: %v", err)
		}

		q, err = rand.Prime(rnd, bits-bits/2)
		if err != nil {
			return nil, xerrors.Errorf("failed to generate prime: %v", err)
		}
	}

	n := new(big.Int).Mul(p, q)

	phi := new(big.Int).Mul(
		new(big.Int).Sub(p, bigOne),
		new(big.Int).Sub(q, bigOne),
	)

	g, err := pickGenerator(rnd, n)
	if err != nil {
		return nil, xerrors.Errorf("failed to pick generator: %v", err)
	}

	// Knowing phi allows the setup to skip the sequential squarings.
	e := new(big.Int).Exp(bigTwo, new(big.Int).SetUint64(t), phi)
	h := new(big.Int).Exp(g, e, n)

	return NewParams(n, g, h, t)
}

// EncodeParams returns the JSON representation of the parameters.
func EncodeParams(params *Params) ([]byte, error) {
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("failed to encode: %v", err)
	}

	return data, nil
}

// DecodeParams returns the parameters from their JSON representation.
func DecodeParams(data []byte) (*Params, error) {
	params := &Params{}

	err := json.Unmarshal(data, params)
	if err != nil {
		return nil, xerrors.Errorf("failed to decode: %v", err)
	}

	return params, nil
}

func (p *Params) prepare() error {
	if p.N == nil || p.G == nil || p.H == nil {
		return xerrors.New("missing value")
	}

	if p.N.BitLen() < MinModulusBits {
		return xerrors.Errorf("modulus is %d bits", p.N.BitLen())
	}

	if p.G.Sign() <= 0 || p.G.Cmp(p.N) >= 0 || p.H.Sign() <= 0 || p.H.Cmp(p.N) >= 0 {
		return xerrors.New("generator out of range")
	}

	p.nsq = new(big.Int).Mul(p.N, p.N)
	p.hn = new(big.Int).Exp(p.H, p.N, p.nsq)

	return nil
}

// powN1 returns (1+N)^x mod N^2, which is 1 + xN mod N^2.
func (p *Params) powN1(x *big.Int) *big.Int {
	res := new(big.Int).Mod(x, p.N)
	res.Mul(res, p.N)
	res.Add(res, bigOne)

	return res.Mod(res, p.nsq)
}

func pickGenerator(rnd io.Reader, n *big.Int) (*big.Int, error) {
	for {
		x, err := rand.Int(rnd, n)
		if err != nil {
			return nil, err
		}

		if x.Cmp(bigOne) <= 0 || new(big.Int).GCD(nil, nil, x, n).Cmp(bigOne) != 0 {
			continue
		}

		return x.Exp(x, bigTwo, n), nil
	}
}

// scalarOf returns the Ed25519 scalar of x mod l.
func scalarOf(x *big.Int) kyber.Scalar {
	buf := new(big.Int).Mod(x, order).FillBytes(make([]byte, 32))

	// Scalars are little-endian.
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}

	return suite.Scalar().SetBytes(buf)
}
