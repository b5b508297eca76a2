// Package minoch is an implementation of Mino that is using channels and a
// local manager to exchange messages.
//
// Because it is using only Go channels to communicate, this implementation can
// only be used by multiple instances in the same process. Its usage is purely
// to simplify the writing of tests, therefore it also provides filters to drop
// requests so that a test can simulate a lossy network deterministically.
package minoch

import (
	"fmt"
	"sync"

	"go.dedis.ch/keygen"
	"go.dedis.ch/keygen/mino"
	"go.dedis.ch/keygen/serde"
	"go.dedis.ch/keygen/serde/json"
	"golang.org/x/xerrors"
)

// Filter is a function called for any request to an RPC which will drop it if
// it returns false.
type Filter func(mino.Request) bool

// Minoch is an implementation of the Mino interface using channels. Each
// instance must have a unique string assigned to it.
//
// - implements mino.Mino
type Minoch struct {
	sync.Mutex

	manager    *Manager
	identifier string
	rpcs       map[string]*RPC
	context    serde.Context
	filters    []Filter
}

// NewMinoch creates a new instance of a local Mino instance.
func NewMinoch(manager *Manager, identifier string) (*Minoch, error) {
	inst := &Minoch{
		manager:    manager,
		identifier: identifier,
		rpcs:       make(map[string]*RPC),
		context:    json.NewContext(),
	}

	err := manager.insert(inst)
	if err != nil {
		return nil, xerrors.Errorf("manager refused: %v", err)
	}

	keygen.Logger.Trace().Msgf("new instance with identifier %s", identifier)

	return inst, nil
}

// MustCreate creates a new minoch instance and panic if the identifier is
// refused by the manager.
func MustCreate(manager *Manager, identifier string) *Minoch {
	m, err := NewMinoch(manager, identifier)
	if err != nil {
		panic(err)
	}

	return m
}

// GetAddressFactory implements mino.Mino. It returns the address factory.
func (m *Minoch) GetAddressFactory() mino.AddressFactory {
	return AddressFactory{}
}

// GetAddress implements mino.Mino. It returns the address that other
// participants should use to contact this instance.
func (m *Minoch) GetAddress() mino.Address {
	return address{id: m.identifier}
}

// AddFilter adds the filter to the incoming requests of every RPC of the
// instance, including the ones created later.
func (m *Minoch) AddFilter(filter Filter) {
	m.Lock()
	m.filters = append(m.filters, filter)
	m.Unlock()
}

// CreateRPC implements mino.Mino. It creates an RPC that can send to and
// receive from the unique name.
func (m *Minoch) CreateRPC(name string, h mino.Handler, f serde.Factory) (mino.RPC, error) {
	m.Lock()
	defer m.Unlock()

	_, found := m.rpcs[name]
	if found {
		return nil, xerrors.Errorf("rpc '%s' already exists", name)
	}

	rpc := &RPC{
		manager: m.manager,
		addr:    m.GetAddress(),
		name:    name,
		h:       h,
		context: m.context,
		factory: f,
	}

	m.rpcs[name] = rpc

	return rpc, nil
}

// String implements fmt.Stringer.
func (m *Minoch) String() string {
	return fmt.Sprintf("minoch[%s]", m.identifier)
}

// accept returns true if none of the filters drops the request.
func (m *Minoch) accept(req mino.Request) bool {
	m.Lock()
	filters := append([]Filter{}, m.filters...)
	m.Unlock()

	for _, filter := range filters {
		if !filter(req) {
			return false
		}
	}

	return true
}

func (m *Minoch) getRPC(name string) (*RPC, bool) {
	m.Lock()
	defer m.Unlock()

	rpc, found := m.rpcs[name]
	return rpc, found
}
