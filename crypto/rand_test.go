package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCryptographicRandomGenerator_Read(t *testing.T) {
	buffer := make([]byte, 32)

	n, err := CryptographicRandomGenerator{}.Read(buffer)
	require.NoError(t, err)
	require.Equal(t, 32, n)
	require.NotEqual(t, make([]byte, 32), buffer)
}
