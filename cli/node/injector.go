package node

import (
	"reflect"
	"sync"

	"golang.org/x/xerrors"
)

// reflectInjector is a dependency injector that uses reflection to resolve
// specific interfaces. Dependencies are resolved in the order of injection so
// that the result does not depend on the iteration order of a map.
//
// - implements node.Injector
type reflectInjector struct {
	sync.Mutex
	deps []interface{}
}

// NewInjector returns an empty injector.
func NewInjector() Injector {
	return &reflectInjector{}
}

// Resolve implements node.Injector. It populates the given interface with the
// first compatible dependency.
func (inj *reflectInjector) Resolve(v interface{}) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return xerrors.New("expect a pointer")
	}

	if rv.IsNil() {
		return xerrors.Errorf("reflect value '%v' is invalid", rv)
	}

	inj.Lock()
	defer inj.Unlock()

	for _, dep := range inj.deps {
		if reflect.TypeOf(dep).AssignableTo(rv.Elem().Type()) {
			rv.Elem().Set(reflect.ValueOf(dep))
			return nil
		}
	}

	return xerrors.Errorf("couldn't find dependency for '%v'", rv.Elem().Type())
}

// Inject implements node.Injector. It injects the dependency to be available
// later on. A dependency of the same type replaces the previous one.
func (inj *reflectInjector) Inject(v interface{}) {
	inj.Lock()
	defer inj.Unlock()

	typ := reflect.TypeOf(v)

	for i, dep := range inj.deps {
		if reflect.TypeOf(dep) == typ {
			inj.deps[i] = v
			return
		}
	}

	inj.deps = append(inj.deps, v)
}
