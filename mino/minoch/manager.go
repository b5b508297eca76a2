package minoch

import (
	"sync"

	"go.dedis.ch/keygen/mino"
	"golang.org/x/xerrors"
)

// Manager is an orchestrator to manage the communication between the local
// instances of Mino.
type Manager struct {
	sync.Mutex
	instances map[string]*Minoch
}

// NewManager creates a new empty manager.
func NewManager() *Manager {
	return &Manager{
		instances: make(map[string]*Minoch),
	}
}

func (m *Manager) get(a mino.Address) (*Minoch, error) {
	addr, ok := a.(address)
	if !ok {
		return nil, xerrors.Errorf("invalid address type '%T'", a)
	}

	m.Lock()
	defer m.Unlock()

	inst, ok := m.instances[addr.id]
	if !ok {
		return nil, xerrors.Errorf("address <%s> not found", addr.id)
	}

	return inst, nil
}

func (m *Manager) insert(inst *Minoch) error {
	if inst.identifier == "" {
		return xerrors.New("cannot have an empty identifier")
	}

	m.Lock()
	defer m.Unlock()

	_, found := m.instances[inst.identifier]
	if found {
		return xerrors.Errorf("identifier <%s> already exists", inst.identifier)
	}

	m.instances[inst.identifier] = inst

	return nil
}
