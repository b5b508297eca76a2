package tlp

import (
	"encoding/json"
	"math/big"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

type paramsJSON struct {
	N *big.Int
	G *big.Int
	H *big.Int
	T uint64
}

type keyJSON struct {
	U *big.Int
	V *big.Int
	Y []byte
}

type proofJSON struct {
	A1 *big.Int
	A2 *big.Int
	A3 []byte
	Zr *big.Int
	Zs *big.Int
}

type decryptionKeyJSON struct {
	Scalar []byte
}

// MarshalJSON implements json.Marshaler.
func (p *Params) MarshalJSON() ([]byte, error) {
	return json.Marshal(paramsJSON{N: p.N, G: p.G, H: p.H, T: p.T})
}

// UnmarshalJSON implements json.Unmarshaler. It also checks and prepares the
// parameters.
func (p *Params) UnmarshalJSON(data []byte) error {
	var m paramsJSON

	err := json.Unmarshal(data, &m)
	if err != nil {
		return err
	}

	p.N, p.G, p.H, p.T = m.N, m.G, m.H, m.T

	err = p.prepare()
	if err != nil {
		return xerrors.Errorf("invalid parameters: %v", err)
	}

	return nil
}

// MarshalJSON implements json.Marshaler.
func (k PartialKey) MarshalJSON() ([]byte, error) {
	return marshalKey(k.U, k.V, k.Y)
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *PartialKey) UnmarshalJSON(data []byte) error {
	u, v, y, err := unmarshalKey(data)
	if err != nil {
		return err
	}

	k.U, k.V, k.Y = u, v, y

	return nil
}

// MarshalJSON implements json.Marshaler.
func (k AggregatedKey) MarshalJSON() ([]byte, error) {
	return marshalKey(k.U, k.V, k.Y)
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *AggregatedKey) UnmarshalJSON(data []byte) error {
	u, v, y, err := unmarshalKey(data)
	if err != nil {
		return err
	}

	k.U, k.V, k.Y = u, v, y

	return nil
}

// MarshalJSON implements json.Marshaler.
func (p Proof) MarshalJSON() ([]byte, error) {
	a3, err := marshalPoint(p.A3)
	if err != nil {
		return nil, err
	}

	m := proofJSON{
		A1: p.A1,
		A2: p.A2,
		A3: a3,
		Zr: p.Zr,
		Zs: p.Zs,
	}

	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Proof) UnmarshalJSON(data []byte) error {
	var m proofJSON

	err := json.Unmarshal(data, &m)
	if err != nil {
		return err
	}

	a3, err := unmarshalPoint(m.A3)
	if err != nil {
		return err
	}

	p.A1, p.A2, p.A3, p.Zr, p.Zs = m.A1, m.A2, a3, m.Zr, m.Zs

	return nil
}

// MarshalJSON implements json.Marshaler.
func (k DecryptionKey) MarshalJSON() ([]byte, error) {
	if k.Scalar == nil {
		return nil, xerrors.New("missing scalar")
	}

	buf, err := k.Scalar.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal scalar: %v", err)
	}

	return json.Marshal(decryptionKeyJSON{Scalar: buf})
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *DecryptionKey) UnmarshalJSON(data []byte) error {
	var m decryptionKeyJSON

	err := json.Unmarshal(data, &m)
	if err != nil {
		return err
	}

	scalar := suite.Scalar()

	err = scalar.UnmarshalBinary(m.Scalar)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal scalar: %v", err)
	}

	k.Scalar = scalar

	return nil
}

func marshalKey(u, v *big.Int, y kyber.Point) ([]byte, error) {
	buf, err := marshalPoint(y)
	if err != nil {
		return nil, err
	}

	return json.Marshal(keyJSON{U: u, V: v, Y: buf})
}

func unmarshalKey(data []byte) (*big.Int, *big.Int, kyber.Point, error) {
	var m keyJSON

	err := json.Unmarshal(data, &m)
	if err != nil {
		return nil, nil, nil, err
	}

	y, err := unmarshalPoint(m.Y)
	if err != nil {
		return nil, nil, nil, err
	}

	return m.U, m.V, y, nil
}

func marshalPoint(p kyber.Point) ([]byte, error) {
	if p == nil {
		return nil, xerrors.New("missing point")
	}

	buf, err := p.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal point: %v", err)
	}

	return buf, nil
}

func unmarshalPoint(data []byte) (kyber.Point, error) {
	p := suite.Point()

	err := p.UnmarshalBinary(data)
	if err != nil {
		return nil, xerrors.Errorf("failed to unmarshal point: %v", err)
	}

	return p, nil
}
