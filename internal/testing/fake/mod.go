// Package fake provides fake implementations for interfaces commonly used in
// the repository.
//
// The implementations offer configuration to return errors when it is needed by
// the unit test and it is also possible to record the call of functions of an
// object in some cases.
package fake

import (
	"context"
	"fmt"
	"sync"

	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/serde"
	"golang.org/x/xerrors"
)

var fakeErr = xerrors.New("fake error")

// GetError returns the fake error.
func GetError() error {
	return fakeErr
}

// Err returns the message of the fake error wrapped with the given message.
func Err(msg string) string {
	return fmt.Sprintf("%s: %v", msg, fakeErr)
}

// Call is a tool to keep track of a function calls.
type Call struct {
	sync.Mutex
	calls [][]interface{}
}

// Get returns the nth call ith parameter.
func (c *Call) Get(n, i int) interface{} {
	c.Lock()
	defer c.Unlock()

	return c.calls[n][i]
}

// Len returns the number of calls.
func (c *Call) Len() int {
	c.Lock()
	defer c.Unlock()

	return len(c.calls)
}

// Add adds a call to the list.
func (c *Call) Add(args ...interface{}) {
	c.Lock()
	defer c.Unlock()

	c.calls = append(c.calls, args)
}

// Counter is a helper to delay errors or actions. It can be nil without
// panics.
type Counter struct {
	Value int
}

// NewCounter returns a new counter set to the given value.
func NewCounter(value int) *Counter {
	return &Counter{Value: value}
}

// Done returns true when the counter reached zero.
func (c *Counter) Done() bool {
	return c == nil || c.Value <= 0
}

// Decrease decrements the counter.
func (c *Counter) Decrease() {
	if c == nil {
		return
	}
	c.Value--
}

// Address is a fake implementation of mino.Address.
type Address struct {
	index int
	err   error
}

// NewAddress returns a fake address with the given index.
func NewAddress(index int) Address {
	return Address{index: index}
}

// NewBadAddress returns a fake address that fails to marshal.
func NewBadAddress() Address {
	return Address{err: fakeErr}
}

// Equal implements mino.Address.
func (a Address) Equal(o mino.Address) bool {
	other, ok := o.(Address)
	return ok && other.index == a.index
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("fake:%d", a.index)), a.err
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return fmt.Sprintf("fake.Address[%d]", a.index)
}

// AddressFactory is a fake implementation of mino.AddressFactory.
type AddressFactory struct{}

// FromText implements mino.AddressFactory.
func (AddressFactory) FromText(text []byte) mino.Address {
	var index int
	fmt.Sscanf(string(text), "fake:%d", &index)

	return Address{index: index}
}

// Message is a fake implementation of a serde message.
type Message struct {
	Digest []byte
}

// Serialize implements serde.Message.
func (m Message) Serialize(serde.Context) ([]byte, error) {
	return []byte(`{}`), nil
}

// BadMessage is a fake message that fails to serialize.
type BadMessage struct{}

// Serialize implements serde.Message.
func (BadMessage) Serialize(serde.Context) ([]byte, error) {
	return nil, fakeErr
}

// MessageFactory is a fake implementation of a serde factory.
type MessageFactory struct {
	err error
}

// NewBadMessageFactory returns a factory that always fails.
func NewBadMessageFactory() MessageFactory {
	return MessageFactory{err: fakeErr}
}

// Deserialize implements serde.Factory.
func (f MessageFactory) Deserialize(serde.Context, []byte) (serde.Message, error) {
	return Message{}, f.err
}

// Players is a fake implementation of mino.Players.
type Players struct {
	addrs []mino.Address
}

// NewPlayers returns a set of n fake addresses.
func NewPlayers(n int) Players {
	addrs := make([]mino.Address, n)
	for i := range addrs {
		addrs[i] = NewAddress(i)
	}

	return Players{addrs: addrs}
}

// AddressIterator implements mino.Players.
func (p Players) AddressIterator() mino.AddressIterator {
	return mino.NewAddresses(p.addrs...).AddressIterator()
}

// Len implements mino.Players.
func (p Players) Len() int {
	return len(p.addrs)
}

// RPC is a fake implementation of mino.RPC. It records the calls and answers
// with the configured responses.
type RPC struct {
	Calls     *Call
	responses []mino.Response
	err       error
}

// NewRPC returns a fake rpc that acknowledges every call.
func NewRPC() *RPC {
	return &RPC{Calls: &Call{}}
}

// NewBadRPC returns a fake rpc that fails every call.
func NewBadRPC() *RPC {
	return &RPC{Calls: &Call{}, err: fakeErr}
}

// SetResponses sets the responses returned for the next calls.
func (rpc *RPC) SetResponses(resps ...mino.Response) {
	rpc.responses = resps
}

// Call implements mino.RPC.
func (rpc *RPC) Call(ctx context.Context, req serde.Message,
	players mino.Players) (<-chan mino.Response, error) {

	rpc.Calls.Add(ctx, req, players)

	if rpc.err != nil {
		return nil, rpc.err
	}

	out := make(chan mino.Response, len(rpc.responses))
	for _, resp := range rpc.responses {
		out <- resp
	}
	close(out)

	return out, nil
}

// Mino is a fake implementation of mino.Mino.
type Mino struct {
	addr mino.Address
	err  error
}

// NewMino returns a fake mino with the given address index.
func NewMino(index int) Mino {
	return Mino{addr: NewAddress(index)}
}

// NewBadMino returns a Mino instance that returns an error when appropriate.
func NewBadMino() Mino {
	return Mino{addr: NewAddress(0), err: fakeErr}
}

// GetAddressFactory implements mino.Mino.
func (m Mino) GetAddressFactory() mino.AddressFactory {
	return AddressFactory{}
}

// GetAddress implements mino.Mino.
func (m Mino) GetAddress() mino.Address {
	return m.addr
}

// CreateRPC implements mino.Mino.
func (m Mino) CreateRPC(string, mino.Handler, serde.Factory) (mino.RPC, error) {
	return NewRPC(), m.err
}
