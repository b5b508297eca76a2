package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/keygen/serde"
)

func TestSimpleRegistry_Register(t *testing.T) {
	reg := NewSimpleRegistry()

	reg.Register(serde.FormatJSON, fakeFormat{})
	require.Len(t, reg.store, 1)

	reg.Register(serde.Format("B"), fakeFormat{})
	require.Len(t, reg.store, 2)
}

func TestSimpleRegistry_Get(t *testing.T) {
	reg := NewSimpleRegistry()
	reg.Register(serde.FormatJSON, fakeFormat{})

	require.Equal(t, fakeFormat{}, reg.Get(serde.FormatJSON))

	format := reg.Get(serde.Format("unknown"))

	_, err := format.Encode(serde.Context{}, nil)
	require.EqualError(t, err, "format 'unknown' is not implemented")

	_, err = format.Decode(serde.Context{}, nil)
	require.EqualError(t, err, "format 'unknown' is not implemented")
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeFormat struct {
	serde.FormatEngine
}
