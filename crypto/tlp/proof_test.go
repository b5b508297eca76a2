package tlp

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestProof_Verify(t *testing.T) {
	params := getParams(t)

	key, secret, err := GeneratePartialKey(params, rand.Reader)
	require.NoError(t, err)

	proof, err := ProvePartialKey(params, rand.Reader, key, secret, []byte("A/1"))
	require.NoError(t, err)

	err = VerifyPartialKey(params, key, proof, []byte("A/1"))
	require.NoError(t, err)

	// Bound to the label.
	err = VerifyPartialKey(params, key, proof, []byte("B/1"))
	require.True(t, xerrors.Is(err, ErrInvalidProof))
}

func TestProof_Forged_Verify(t *testing.T) {
	params := getParams(t)

	key, secret, err := GeneratePartialKey(params, rand.Reader)
	require.NoError(t, err)

	proof, err := ProvePartialKey(params, rand.Reader, key, secret, nil)
	require.NoError(t, err)

	// Encryption key that does not match the secret of the puzzle.
	other, _, err := GeneratePartialKey(params, rand.Reader)
	require.NoError(t, err)

	forged := PartialKey{U: key.U, V: key.V, Y: other.Y}
	err = VerifyPartialKey(params, forged, proof, nil)
	require.True(t, xerrors.Is(err, ErrInvalidProof))

	bad := proof
	bad.Zr = new(big.Int).Add(proof.Zr, big.NewInt(1))
	err = VerifyPartialKey(params, key, bad, nil)
	require.EqualError(t, err, "mismatch on u: invalid proof")

	bad = proof
	bad.Zs = new(big.Int).Add(proof.Zs, big.NewInt(1))
	err = VerifyPartialKey(params, key, bad, nil)
	require.EqualError(t, err, "mismatch on v: invalid proof")

	bad = proof
	bad.Zr = big.NewInt(-1)
	err = VerifyPartialKey(params, key, bad, nil)
	require.EqualError(t, err, "negative response: invalid proof")

	err = VerifyPartialKey(params, PartialKey{U: big.NewInt(0), V: key.V, Y: key.Y}, proof, nil)
	require.EqualError(t, err, "value out of range: invalid proof")

	err = VerifyPartialKey(params, PartialKey{}, proof, nil)
	require.EqualError(t, err, "incomplete partial key: invalid proof")

	err = VerifyPartialKey(params, key, Proof{}, nil)
	require.EqualError(t, err, "incomplete proof: invalid proof")
}

func TestProof_MissingSecret(t *testing.T) {
	params := getParams(t)

	_, err := ProvePartialKey(params, rand.Reader, PartialKey{}, Secret{}, nil)
	require.EqualError(t, err, "missing secret")
}

func TestProof_JSON(t *testing.T) {
	params := getParams(t)

	key, secret, err := GeneratePartialKey(params, rand.Reader)
	require.NoError(t, err)

	proof, err := ProvePartialKey(params, rand.Reader, key, secret, []byte("label"))
	require.NoError(t, err)

	data, err := json.Marshal(proof)
	require.NoError(t, err)

	var decoded Proof
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.NoError(t, VerifyPartialKey(params, key, decoded, []byte("label")))
}
