package mino

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/keygen/serde"
)

func TestUnsupportedHandler_Process(t *testing.T) {
	h := UnsupportedHandler{}

	resp, err := h.Process(Request{})
	require.EqualError(t, err, "rpc is not supported")
	require.Nil(t, resp)
}

func TestMustCreateRPC(t *testing.T) {
	rpc := MustCreateRPC(fakeMino{}, "name", UnsupportedHandler{}, nil)
	require.NotNil(t, rpc)

	require.PanicsWithError(t, "failed to create rpc 'name': oops", func() {
		MustCreateRPC(fakeMino{err: errOops}, "name", UnsupportedHandler{}, nil)
	})
}

// -----------------------------------------------------------------------------
// Utility functions

var errOops = oopsError{}

type oopsError struct{}

func (oopsError) Error() string {
	return "oops"
}

type fakeRPC struct {
	RPC
}

type fakeMino struct {
	Mino
	err error
}

func (m fakeMino) CreateRPC(string, Handler, serde.Factory) (RPC, error) {
	return fakeRPC{}, m.err
}
