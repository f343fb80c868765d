// Package serialize implements the on-disk JSON encoding of a component
// registry: a type-tagged envelope per component, a
// dependency-ordered loader that tolerates components referencing others
// that appear later in the input, and a data-format upgrade hook for
// reading documents written by an older version of this module.
//
// Concrete component packages call RegisterType from an init function;
// the loader looks each envelope's (module, type) tag up in that registry.
package serialize

import (
	"fmt"
	"reflect"
	"sync"

	"infrasys/component"
)

// ErrUnknownType is returned when an envelope names a (module, type) pair
// that was never registered with RegisterType.
type ErrUnknownType struct {
	Module, Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("serialize: unregistered component type %s.%s", e.Module, e.Type)
}

type typeKey struct {
	Module string
	Type   string
}

var (
	mu         sync.RWMutex
	factories  = map[typeKey]func() component.Component{}
	reverseKey = map[reflect.Type]typeKey{}
)

// RegisterType registers the (module, typeName) pair a concrete component
// type serializes under, along with a factory producing a fresh zero value
// of that type. Concrete component packages call this from an init
// function. Re-registering the same module/typeName pair overwrites the
// previous factory, which is useful for tests that register fakes.
func RegisterType(module, typeName string, zero func() component.Component) {
	mu.Lock()
	defer mu.Unlock()
	key := typeKey{Module: module, Type: typeName}
	factories[key] = zero
	reverseKey[reflect.TypeOf(zero())] = key
}

func lookupFactory(module, typeName string) (func() component.Component, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[typeKey{Module: module, Type: typeName}]
	return f, ok
}

func lookupKey(c component.Component) (typeKey, bool) {
	mu.RLock()
	defer mu.RUnlock()
	key, ok := reverseKey[reflect.TypeOf(c)]
	return key, ok
}
