package tlp

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestGeneratePartialKey(t *testing.T) {
	params := getParams(t)

	key, secret, err := GeneratePartialKey(params, rand.Reader)
	require.NoError(t, err)
	require.True(t, inRange(key.U, params.N))
	require.True(t, inRange(key.V, params.nsq))
	require.True(t, key.Y.Equal(suite.Point().Mul(scalarOf(secret.S), nil)))

	_, _, err = GeneratePartialKey(params, badReader{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to sample r: ")
}

func TestAggregateKeys_OrderIndependent(t *testing.T) {
	params := getParams(t)

	keys := makeKeys(t, params, 4)

	agg1, err := AggregateKeys(params, keys)
	require.NoError(t, err)

	reversed := []PartialKey{keys[3], keys[2], keys[1], keys[0]}

	agg2, err := AggregateKeys(params, reversed)
	require.NoError(t, err)

	require.Equal(t, 0, agg1.U.Cmp(agg2.U))
	require.Equal(t, 0, agg1.V.Cmp(agg2.V))
	require.True(t, agg1.Y.Equal(agg2.Y))

	// Recomputation on the same set is deterministic.
	agg3, err := AggregateKeys(params, keys)
	require.NoError(t, err)
	require.Equal(t, 0, agg1.V.Cmp(agg3.V))
}

func TestAggregateKeys_Empty(t *testing.T) {
	_, err := AggregateKeys(getParams(t), nil)
	require.True(t, xerrors.Is(err, ErrEmptyKeySet))
}

func TestAggregateKeys_Incomplete(t *testing.T) {
	_, err := AggregateKeys(getParams(t), []PartialKey{{}})
	require.EqualError(t, err, "partial key 0 is incomplete")
}

func TestSolvePuzzle(t *testing.T) {
	params := getParams(t)

	keys := make([]PartialKey, 3)
	sum := big.NewInt(0)

	for i := range keys {
		key, secret, err := GeneratePartialKey(params, rand.Reader)
		require.NoError(t, err)

		keys[i] = key
		sum.Add(sum, secret.S)
	}

	agg, err := AggregateKeys(params, keys)
	require.NoError(t, err)

	dkey, err := SolvePuzzle(context.Background(), params, agg)
	require.NoError(t, err)
	require.True(t, dkey.Scalar.Equal(scalarOf(sum)))
	require.True(t, dkey.PublicKey().Equal(agg.EncryptionKey()))
}

func TestSolvePuzzle_Mismatch(t *testing.T) {
	params := getParams(t)

	keys := makeKeys(t, params, 2)

	agg, err := AggregateKeys(params, keys)
	require.NoError(t, err)

	// The encryption key is not the one hidden in the puzzle.
	agg.Y = keys[0].Y

	_, err = SolvePuzzle(context.Background(), params, agg)

	var derr *DerivationError
	require.True(t, xerrors.As(err, &derr))
	require.Equal(t, "derivation failed: key does not match the encryption key", err.Error())

	agg.V = big.NewInt(2)

	_, err = SolvePuzzle(context.Background(), params, agg)
	require.True(t, xerrors.As(err, &derr))
	require.Equal(t, "malformed puzzle", derr.Reason)

	_, err = SolvePuzzle(context.Background(), params, AggregatedKey{})
	require.True(t, xerrors.As(err, &derr))
	require.Equal(t, "incomplete aggregated key", derr.Reason)
}

func TestSolvePuzzle_Canceled(t *testing.T) {
	params := getParams(t)

	agg, err := AggregateKeys(params, makeKeys(t, params, 1))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = SolvePuzzle(ctx, params, agg)
	require.EqualError(t, err, "interrupted after 0 squarings: context canceled")
}

func TestPartialKey_JSON(t *testing.T) {
	params := getParams(t)

	key := makeKeys(t, params, 1)[0]

	data, err := json.Marshal(key)
	require.NoError(t, err)

	var decoded PartialKey
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, 0, key.U.Cmp(decoded.U))
	require.Equal(t, 0, key.V.Cmp(decoded.V))
	require.True(t, key.Y.Equal(decoded.Y))

	_, err = json.Marshal(PartialKey{})
	require.Error(t, err)

	err = json.Unmarshal([]byte(`{"Y":"AAAA"}`), &decoded)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to unmarshal point: ")
}

func TestDecryptionKey_JSON(t *testing.T) {
	key := DecryptionKey{Scalar: scalarOf(big.NewInt(42))}

	data, err := json.Marshal(key)
	require.NoError(t, err)

	var decoded DecryptionKey
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.True(t, key.Scalar.Equal(decoded.Scalar))

	_, err = json.Marshal(DecryptionKey{})
	require.Error(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func makeKeys(t *testing.T, params *Params, n int) []PartialKey {
	keys := make([]PartialKey, n)

	for i := range keys {
		key, _, err := GeneratePartialKey(params, rand.Reader)
		require.NoError(t, err)

		keys[i] = key
	}

	return keys
}

type badReader struct{}

func (badReader) Read([]byte) (int, error) {
	return 0, xerrors.New("oops")
}
