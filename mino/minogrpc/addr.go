package minogrpc

import (
	"go.dedis.ch/keygen/mino"
)

// address is a representation of the network address of a participant.
//
// - implements mino.Address
type address struct {
	host string
}

// NewAddress returns the address of a participant from its host and port.
func NewAddress(host string) mino.Address {
	return address{host: host}
}

// GetDialAddress returns a string formatted to be understood by grpc.Dial()
// functions.
func (a address) GetDialAddress() string {
	return a.host
}

// Equal implements mino.Address. It returns true if both addresses points to
// the same participant.
func (a address) Equal(other mino.Address) bool {
	addr, ok := other.(address)
	return ok && addr == a
}

// MarshalText implements mino.Address. It returns the text format of the
// address that can later be deserialized.
func (a address) MarshalText() ([]byte, error) {
	return []byte(a.host), nil
}

// String implements fmt.Stringer. It returns a string representation of the
// address.
func (a address) String() string {
	return a.host
}

// AddressFactory implements mino.AddressFactory
type AddressFactory struct{}

// FromText implements mino.AddressFactory. It returns an instance of an
// address from a byte slice.
func (f AddressFactory) FromText(text []byte) mino.Address {
	return address{host: string(text)}
}
