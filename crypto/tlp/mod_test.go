package tlp

import (
	"crypto/rand"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const testDelay = 64

var (
	testParamsOnce sync.Once
	testParams     *Params
)

// getParams returns small parameters shared by the tests of the package.
func getParams(t *testing.T) *Params {
	testParamsOnce.Do(func() {
		params, err := GenerateParams(rand.Reader, MinModulusBits, testDelay)
		require.NoError(t, err)

		testParams = params
	})

	require.NotNil(t, testParams)

	return testParams
}

func TestGenerateParams(t *testing.T) {
	params := getParams(t)

	require.GreaterOrEqual(t, params.N.BitLen(), MinModulusBits-1)
	require.Equal(t, uint64(testDelay), params.T)

	// H must be reachable by T sequential squarings of G.
	h := new(big.Int).Set(params.G)
	for i := 0; i < testDelay; i++ {
		h.Mul(h, h).Mod(h, params.N)
	}

	require.Equal(t, 0, h.Cmp(params.H))

	_, err := GenerateParams(rand.Reader, 256, testDelay)
	require.EqualError(t, err, "modulus must be at least 512 bits")
}

func TestNewParams(t *testing.T) {
	params := getParams(t)

	_, err := NewParams(params.N, params.G, params.H, params.T)
	require.NoError(t, err)

	_, err = NewParams(nil, params.G, params.H, params.T)
	require.EqualError(t, err, "invalid parameters: missing value")

	_, err = NewParams(big.NewInt(15), big.NewInt(4), big.NewInt(4), 1)
	require.EqualError(t, err, "invalid parameters: modulus is 4 bits")

	_, err = NewParams(params.N, params.N, params.H, params.T)
	require.EqualError(t, err, "invalid parameters: generator out of range")
}

func TestParams_EncodeDecode(t *testing.T) {
	params := getParams(t)

	data, err := EncodeParams(params)
	require.NoError(t, err)

	decoded, err := DecodeParams(data)
	require.NoError(t, err)
	require.Equal(t, 0, params.N.Cmp(decoded.N))
	require.Equal(t, 0, params.G.Cmp(decoded.G))
	require.Equal(t, 0, params.H.Cmp(decoded.H))
	require.Equal(t, params.T, decoded.T)
	require.Equal(t, 0, params.hn.Cmp(decoded.hn))

	_, err = DecodeParams([]byte(`{"N":15,"G":4,"H":4,"T":1}`))
	require.EqualError(t, err,
		"failed to decode: invalid parameters: modulus is 4 bits")

	_, err = DecodeParams([]byte(`[]`))
	require.Error(t, err)
}

func TestScalarOf(t *testing.T) {
	one := scalarOf(big.NewInt(1))
	require.True(t, one.Equal(suite.Scalar().One()))

	// l + 2 reduces to 2.
	x := new(big.Int).Add(order, big.NewInt(2))
	two := suite.Scalar().Add(suite.Scalar().One(), suite.Scalar().One())
	require.True(t, scalarOf(x).Equal(two))
}
