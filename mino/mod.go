// Package mino defines a Minimalistic Overlay Network (MINO) used by the key
// generators to reach each other.
//
// The abstraction only offers fire-and-forget friendly calls: a call returns
// immediately with a channel that yields one response per contacted peer, and
// it is up to the caller to decide whether it wants to wait for them. A peer
// that never answers simply never produces a response before the context is
// done.
package mino

import (
	"context"
	"encoding"

	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
)

// Address is a representation of a network address.
type Address interface {
	encoding.TextMarshaler

	// Equal returns true when both addresses are the same.
	Equal(other Address) bool

	String() string
}

// AddressFactory is the factory to instantiate addresses from their text form.
type AddressFactory interface {
	FromText(text []byte) Address
}

// AddressIterator is an iterator over a list of addresses.
type AddressIterator interface {
	// Seek moves the iterator to a specific index.
	Seek(int)

	// HasNext returns true if an address is available, false otherwise.
	HasNext() bool

	// GetNext returns the next address if any, otherwise nil.
	GetNext() Address
}

// Players is an interface to represent a set of addresses.
type Players interface {
	// AddressIterator returns an iterator that prevents changes to the
	// underlying array and saves memory by iterating over the same array.
	AddressIterator() AddressIterator

	// Len returns the length of the set of addresses.
	Len() int
}

// Request is a wrapper around the context of a message received from a player
// and that needs to be processed by the node.
type Request struct {
	// Address is the address of the sender of the request.
	Address Address

	// Message is the message of the request.
	Message serde.Message
}

// Handler is the interface to implement to create a public endpoint.
type Handler interface {
	// Process handles a single request. A nil message means that the request
	// is acknowledged without a reply.
	Process(req Request) (resp serde.Message, err error)
}

// UnsupportedHandler implements the Handler interface with a default behaviour
// so that an implementation can focus on its needs.
type UnsupportedHandler struct{}

// Process implements mino.Handler. It returns an error.
func (h UnsupportedHandler) Process(req Request) (serde.Message, error) {
	return nil, xerrors.New("rpc is not supported")
}

// Response represents the outcome of a call to a single peer.
type Response interface {
	// GetFrom returns the address of the peer the response comes from.
	GetFrom() Address

	// GetMessageOrError returns the reply of the peer, or the error if the
	// call failed. The message is nil for acknowledgements.
	GetMessageOrError() (serde.Message, error)
}

// RPC is a representation of a remote procedure call that can call a single
// distant procedure or multiple.
type RPC interface {
	// Call sends the request to every player in parallel. It returns without
	// waiting for the peers: the channel yields one response per player that
	// could be reached or failed, and it is closed once every call is done.
	// A failure to reach one player never prevents the others from being
	// called.
	Call(ctx context.Context, req serde.Message, players Players) (<-chan Response, error)
}

// Mino is an abstraction of an overlay network that allows the creation of
// RPCs.
type Mino interface {
	// GetAddressFactory returns the address factory.
	GetAddressFactory() AddressFactory

	// GetAddress returns the address that other participants should use to
	// contact this instance.
	GetAddress() Address

	// CreateRPC creates an RPC that can send to and receive from a unique
	// name. The factory is used to decode the incoming requests and the
	// replies.
	CreateRPC(name string, h Handler, f serde.Factory) (RPC, error)
}

// MustCreateRPC creates the RPC or panics if it fails.
func MustCreateRPC(m Mino, name string, h Handler, f serde.Factory) RPC {
	rpc, err := m.CreateRPC(name, h, f)
	if err != nil {
		panic(xerrors.Errorf("failed to create rpc '%s': %v", name, err))
	}

	return rpc
}
